package pipeline

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// progressStep is the minimum advance, in percentage points, between persisted progress writes
const progressStep = 5

// progressReporter throttles generation progress into run metadata. Writes are fire-and-forget;
// their failures are logged and never reach the generator.
type progressReporter struct {
	store  Store
	runID  uuid.UUID
	logger *zap.Logger

	mu       sync.Mutex
	last     int
	reported bool
	pending  sync.WaitGroup
}

func newProgressReporter(store Store, runID uuid.UUID, logger *zap.Logger) *progressReporter {
	return &progressReporter{store: store, runID: runID, logger: logger}
}

// Report records percent if it advanced by at least progressStep since the last write, or
// reached 100. Values are clamped to [0, 100] and never move backwards.
func (p *progressReporter) Report(percent int) {
	percent = max(0, min(100, percent))

	p.mu.Lock()
	if p.reported && percent <= p.last {
		p.mu.Unlock()
		return
	}
	if p.reported && percent-p.last < progressStep && percent != 100 {
		p.mu.Unlock()
		return
	}
	p.last = percent
	p.reported = true
	p.pending.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), bookkeepingTimeout)
		defer cancel()
		if err := p.store.MergeRunMetadata(ctx, p.runID, map[string]any{"progress": percent}); err != nil {
			p.logger.Debug("progress_write_failed",
				zap.String("run_id", p.runID.String()),
				zap.Int("progress", percent),
				zap.Error(err))
		}
	}()
}

// Finish reports 100 if it has not been reached and waits for in-flight writes
func (p *progressReporter) Finish() {
	p.Report(100)
	p.Flush()
}

// Flush waits for in-flight writes so the terminal run write lands last
func (p *progressReporter) Flush() {
	p.pending.Wait()
}
