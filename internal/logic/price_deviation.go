package logic

import (
	"fmt"
	"math"

	"github.com/infinityCounter2/vh-surveil/internal/models"
)

type PriceDeviationParams struct {
	// WindowSize is the number of recent prices kept per symbol.
	//
	// Defaults to 50.
	WindowSize int
	// MinSamples is how many prices a symbol needs before
	// it is evaluated at all.
	//
	// Defaults to 10.
	MinSamples int
	// MaxDeviation is the ratio to the window mean above which
	// a price is flagged.
	//
	// Defaults to 0.10.
	MaxDeviation float64
}

// PriceDeviationDetector flags prices that stray too far from
// the symbol's recent average.
type PriceDeviationDetector struct {
	p     PriceDeviationParams
	store *WindowStore
}

func NewPriceDeviationDetector(p PriceDeviationParams) *PriceDeviationDetector {
	if p.WindowSize <= 0 {
		p.WindowSize = 50
	}
	if p.MinSamples <= 0 {
		p.MinSamples = 10
	}
	if p.MaxDeviation <= 0 {
		p.MaxDeviation = 0.10
	}

	return &PriceDeviationDetector{
		p:     p,
		store: NewWindowStore(WindowStoreParams{Policy: CountBound(p.WindowSize)}),
	}
}

func (d *PriceDeviationDetector) Name() string {
	return string(models.AlertTypePriceDeviation)
}

func (d *PriceDeviationDetector) Requires() models.FieldMask {
	return models.FieldPrice | models.FieldSymbol
}

func (d *PriceDeviationDetector) Key(ev models.OrderEvent) string {
	return ev.Symbol
}

func (d *PriceDeviationDetector) Store() *WindowStore {
	return d.store
}

// Process records the price and compares it to the mean of the window,
// which already includes the price itself.
func (d *PriceDeviationDetector) Process(ev models.OrderEvent) (models.Alert, bool) {
	window := d.store.Record(ev.Symbol, ev)

	deviation, ok := priceDeviation(window, ev.Price, d.p.MinSamples)
	if !ok || deviation <= d.p.MaxDeviation {
		return models.Alert{}, false
	}

	return models.Alert{
		Type:      models.AlertTypePriceDeviation,
		Symbol:    ev.Symbol,
		UserID:    ev.UserID,
		OrderID:   ev.OrderID,
		Price:     ev.Price,
		Timestamp: ev.Timestamp,
		Evidence: fmt.Sprintf("Price for %s deviated (%f%%) >%.4g%% from recent average",
			ev.Symbol, deviation*100, d.p.MaxDeviation*100),
	}, true
}

// priceDeviation returns |price - mean| / mean over the window.
//
// It reports false when the window holds fewer than minSamples prices
// or the mean is not positive, in which case there is no baseline
// to measure against.
func priceDeviation(window Window, price float64, minSamples int) (float64, bool) {
	if window.Len() < minSamples || window.Len() == 0 {
		return 0, false
	}

	sum := 0.0
	for ev := range window.Events() {
		sum += ev.Price
	}
	mean := sum / float64(window.Len())

	if mean <= 0 || math.IsNaN(mean) || math.IsInf(mean, 0) {
		return 0, false
	}

	return math.Abs(price-mean) / mean, true
}
