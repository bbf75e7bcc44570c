package logic

import (
	"fmt"
	"slices"

	"github.com/infinityCounter2/vh-surveil/internal/models"
)

// Detector flags one kind of manipulative behaviour.
//
// A Detector owns its WindowStore and is not safe for concurrent
// Process calls; all events for a key must arrive in order through
// a single caller.
type Detector interface {
	// Name is the detector's identifier, it matches the alert type it emits.
	Name() string
	// Requires lists the envelope fields an event must carry
	// before it may be processed.
	Requires() models.FieldMask
	// Key returns the window key ev is grouped under.
	Key(ev models.OrderEvent) string
	// Process records ev and evaluates the rule against the resulting window.
	Process(ev models.OrderEvent) (models.Alert, bool)
	// Store exposes the detector's windows for inspection.
	Store() *WindowStore
}

var DetectorNames = []string{
	string(models.AlertTypePriceDeviation),
	string(models.AlertTypeQuoteStuffing),
	string(models.AlertTypeSpoofing),
}

type DetectorParams struct {
	PriceDeviation PriceDeviationParams
	QuoteStuffing  QuoteStuffingParams
	Spoofing       SpoofingParams
}

// NewDetectors builds the named detectors, each with its own window store.
func NewDetectors(names []string, p DetectorParams) ([]Detector, error) {
	detectors := make([]Detector, 0, len(names))
	seen := make(map[string]struct{}, len(names))

	for _, name := range names {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}

		switch models.AlertType(name) {
		case models.AlertTypePriceDeviation:
			detectors = append(detectors, NewPriceDeviationDetector(p.PriceDeviation))
		case models.AlertTypeQuoteStuffing:
			detectors = append(detectors, NewQuoteStuffingDetector(p.QuoteStuffing))
		case models.AlertTypeSpoofing:
			detectors = append(detectors, NewSpoofingDetector(p.Spoofing))
		default:
			return nil, fmt.Errorf("unknown detector %q, expected one of %v", name, DetectorNames)
		}
	}

	return detectors, nil
}

// IsDetectorName reports whether name identifies a known detector.
func IsDetectorName(name string) bool {
	return slices.Contains(DetectorNames, name)
}
