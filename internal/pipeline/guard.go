package pipeline

import (
	"sync"

	"github.com/infinityCounter2/vh-surveil/internal/logic"
	"github.com/infinityCounter2/vh-surveil/internal/models"
)

// Guarded serialises Process calls on a detector that is fed from more
// than one goroutine, e.g. the Kafka runner and the HTTP ingest path.
// Arrival order between the feeders is whatever the lock grants.
type Guarded struct {
	logic.Detector
	mtx sync.Mutex
}

func Guard(d logic.Detector) *Guarded {
	if g, ok := d.(*Guarded); ok {
		return g
	}
	return &Guarded{Detector: d}
}

func (g *Guarded) Process(ev models.OrderEvent) (models.Alert, bool) {
	g.mtx.Lock()
	defer g.mtx.Unlock()

	return g.Detector.Process(ev)
}
