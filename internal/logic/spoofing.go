package logic

import (
	"fmt"
	"time"

	"github.com/infinityCounter2/vh-surveil/internal/models"
)

type SpoofingParams struct {
	// Window is how far back from the newest event a user's
	// orders are counted.
	//
	// Defaults to 5s.
	Window time.Duration
	// MinOrders is the smallest window that is evaluated.
	//
	// Defaults to 3.
	MinOrders int
	// CancelRatio is the cancels to total ratio that must be
	// exceeded to flag.
	//
	// Defaults to 0.7.
	CancelRatio float64
}

// SpoofingDetector flags users whose recent activity is mostly
// cancellations.
type SpoofingDetector struct {
	p     SpoofingParams
	store *WindowStore
}

func NewSpoofingDetector(p SpoofingParams) *SpoofingDetector {
	if p.Window <= 0 {
		p.Window = 5 * time.Second
	}
	if p.MinOrders <= 0 {
		p.MinOrders = 3
	}
	if p.CancelRatio <= 0 {
		p.CancelRatio = 0.7
	}

	return &SpoofingDetector{
		p:     p,
		store: NewWindowStore(WindowStoreParams{Policy: TimeBound(p.Window.Milliseconds())}),
	}
}

func (d *SpoofingDetector) Name() string {
	return string(models.AlertTypeSpoofing)
}

func (d *SpoofingDetector) Requires() models.FieldMask {
	return models.FieldTimestamp | models.FieldUserID
}

func (d *SpoofingDetector) Key(ev models.OrderEvent) string {
	return ev.UserID
}

func (d *SpoofingDetector) Store() *WindowStore {
	return d.store
}

func (d *SpoofingDetector) Process(ev models.OrderEvent) (models.Alert, bool) {
	window := d.store.Record(ev.UserID, ev)

	total, cancels := window.Len(), 0
	for o := range window.Events() {
		if o.OrderType == models.OrderTypeCancel {
			cancels++
		}
	}

	if total < d.p.MinOrders || float64(cancels)/float64(total) <= d.p.CancelRatio {
		return models.Alert{}, false
	}

	return models.Alert{
		Type:      models.AlertTypeSpoofing,
		UserID:    ev.UserID,
		Symbol:    ev.Symbol,
		OrderID:   ev.OrderID,
		Timestamp: ev.Timestamp,
		Evidence:  fmt.Sprintf("cancel/total = %d/%d", cancels, total),
	}, true
}
