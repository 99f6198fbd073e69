package telemetry

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/thetooth/ping-agent/sample"
)

// DefaultBatchSize is how many master target samples make up a batch.
const DefaultBatchSize = 300

// overflowFactor bounds every other target's buffer to this many batch sizes
// while the master target is silent. The oldest samples are dropped first.
const overflowFactor = 2

// Batcher buffers every target's samples and submits them all once the master
// target has collected enough. The master is the first target handed to it.
type Batcher struct {
	token     string
	size      int
	targets   []sample.Target
	master    string
	submitter Submitter

	// OnResult is called after every submission attempt.
	OnResult func(b Batch, err error)

	mu      sync.Mutex
	buffers map[string][]sample.Sample

	ctx context.Context
	wg  sync.WaitGroup
}

// NewBatcher creates a batcher whose submissions are bound to ctx.
func NewBatcher(ctx context.Context, token string, size int, targets []sample.Target, s Submitter) *Batcher {
	if size < 1 {
		size = DefaultBatchSize
	}
	b := &Batcher{
		token:     token,
		size:      size,
		targets:   targets,
		submitter: s,
		buffers:   make(map[string][]sample.Sample, len(targets)),
		ctx:       ctx,
	}
	if len(targets) > 0 {
		b.master = targets[0].ID
	}
	return b
}

// HandleSample buffers s and kicks off a submission when the master target's
// buffer is full. The submission runs in the background and is never retried.
func (b *Batcher) HandleSample(t sample.Target, s sample.Sample) {
	b.mu.Lock()
	if _, ok := b.buffers[t.ID]; !ok && !b.monitored(t.ID) {
		b.mu.Unlock()
		return
	}
	buf := append(b.buffers[t.ID], s)
	if limit := b.size * overflowFactor; len(buf) > limit {
		buf = buf[len(buf)-limit:]
	}
	b.buffers[t.ID] = buf
	if t.ID != b.master || len(buf) < b.size {
		b.mu.Unlock()
		return
	}
	batch := b.reset()
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.submit(batch)
	}()
}

// reset hands out every buffer and starts over. Callers hold mu.
func (b *Batcher) reset() Batch {
	batch := Batch{
		ID:      uuid.New(),
		Token:   b.token,
		Targets: make(map[string][]sample.Sample, len(b.targets)),
	}
	for _, t := range b.targets {
		batch.Targets[t.ID] = b.buffers[t.ID]
		if batch.Targets[t.ID] == nil {
			batch.Targets[t.ID] = []sample.Sample{}
		}
		b.buffers[t.ID] = nil
	}
	return batch
}

func (b *Batcher) monitored(id string) bool {
	for _, t := range b.targets {
		if t.ID == id {
			return true
		}
	}
	return false
}

func (b *Batcher) submit(batch Batch) {
	err := b.submitter.Submit(b.ctx, batch)
	if err != nil {
		logrus.Error("[ TELEMETRY_SUBMIT ] batch: ", batch.ID, " failed: ", err)
	} else {
		logrus.Info("[ TELEMETRY_SUBMIT ] batch: ", batch.ID, " submitted ", len(batch.Targets[b.master]), " samples per target")
	}
	if b.OnResult != nil {
		b.OnResult(batch, err)
	}
}

// Wait blocks until in-flight submissions finish.
func (b *Batcher) Wait() {
	b.wg.Wait()
}
