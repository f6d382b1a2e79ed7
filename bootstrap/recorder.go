package bootstrap

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Pylons/pyramid-zcml/core/action"
	"github.com/Pylons/pyramid-zcml/ports"
)

type pendingRun struct {
	run     ports.Run
	actions []ports.ActionRecord
}

// RunRecorder buffers committed configurations and writes them to the
// introspection store in batches.
type RunRecorder struct {
	store         ports.IntrospectionStore
	logger        zerolog.Logger
	buffer        []pendingRun
	mu            sync.Mutex
	batchSize     int
	flushInterval time.Duration
	stopCh        chan struct{}
	wg            sync.WaitGroup
	closeOnce     sync.Once
}

// NewRunRecorder creates a recorder writing to store.
func NewRunRecorder(store ports.IntrospectionStore, logger zerolog.Logger, batchSize int, flushInterval time.Duration) *RunRecorder {
	if batchSize == 0 {
		batchSize = 10
	}
	if flushInterval == 0 {
		flushInterval = 5 * time.Second
	}
	r := &RunRecorder{
		store:         store,
		logger:        logger,
		buffer:        make([]pendingRun, 0, batchSize),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		stopCh:        make(chan struct{}),
	}

	r.wg.Add(1)
	go r.flushLoop()

	return r
}

// Record queues a run for persistence.
func (r *RunRecorder) Record(run ports.Run, actions []ports.ActionRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.buffer = append(r.buffer, pendingRun{run: run, actions: actions})

	if len(r.buffer) >= r.batchSize {
		r.flushLocked(context.Background())
	}
}

// Flush writes queued runs now. It returns the first write error.
func (r *RunRecorder) Flush(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flushLocked(ctx)
}

func (r *RunRecorder) flushLocked(ctx context.Context) error {
	var first error
	for _, p := range r.buffer {
		if err := r.store.SaveRun(ctx, p.run, p.actions); err != nil {
			r.logger.Error().Err(err).Str("run", p.run.ID).Msg("save introspection run failed")
			if first == nil {
				first = err
			}
		}
	}
	r.buffer = r.buffer[:0]
	return first
}

func (r *RunRecorder) flushLoop() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.Flush(context.Background())
		case <-r.stopCh:
			return
		}
	}
}

// Close stops the recorder and flushes remaining runs.
func (r *RunRecorder) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.stopCh)
		r.wg.Wait()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err = r.Flush(ctx)
	})
	return err
}

// ActionRecords converts executed actions to introspection records. The
// first introspectable of an action supplies its category, title and data;
// data values that are not plain scalars are stored as text.
func ActionRecords(runID string, actions []action.Action) []ports.ActionRecord {
	records := make([]ports.ActionRecord, 0, len(actions))
	for i, a := range actions {
		rec := ports.ActionRecord{
			RunID:         runID,
			Position:      i,
			Discriminator: a.Discriminator.String(),
			Order:         a.Order,
			Info:          a.Info,
			IncludePath:   strings.Join(a.IncludePath, " > "),
		}
		if len(a.Introspectables) > 0 {
			in := a.Introspectables[0]
			rec.Category = in.Category
			rec.Title = in.Title
			rec.Data = scalarData(in.Data)
		}
		records = append(records, rec)
	}
	return records
}

func scalarData(data map[string]any) map[string]any {
	if len(data) == 0 {
		return nil
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		switch v := v.(type) {
		case nil, string, bool, int, int64, float64:
			out[k] = v
		default:
			out[k] = fmt.Sprint(v)
		}
	}
	return out
}
