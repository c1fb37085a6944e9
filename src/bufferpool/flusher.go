package bufferpool

import (
	"sync"
	"time"

	"github.com/panjf2000/ants"

	"github.com/Blackdeer1524/RelDB/src"
)

// Flusher periodically writes every instance's resident pages back to disk.
// Each tick submits one flush job per instance to a shared worker pool.
type Flusher struct {
	pool     *ParallelManager
	workers  *ants.Pool
	interval time.Duration
	log      src.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func NewFlusher(
	pool *ParallelManager,
	interval time.Duration,
	log src.Logger,
) (*Flusher, error) {
	workers, err := ants.NewPool(int(pool.NumInstances()))
	if err != nil {
		return nil, err
	}

	return &Flusher{
		pool:     pool,
		workers:  workers,
		interval: interval,
		log:      log,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

func (f *Flusher) Start() {
	go f.run()
}

func (f *Flusher) run() {
	defer close(f.doneCh)

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-f.stopCh:
			return
		case <-ticker.C:
			f.flushOnce()
		}
	}
}

func (f *Flusher) flushOnce() {
	var wg sync.WaitGroup
	for _, instance := range f.pool.instances {
		wg.Add(1)
		err := f.workers.Submit(func() {
			defer wg.Done()
			if err := instance.FlushAllPages(); err != nil {
				f.log.Errorf("background flush failed: %v", err)
			}
		})
		if err != nil {
			wg.Done()
			f.log.Errorf("failed to submit flush job: %v", err)
		}
	}
	wg.Wait()
}

// Stop halts the ticker loop, runs one final flush and releases the workers.
func (f *Flusher) Stop() {
	f.stopOnce.Do(func() {
		close(f.stopCh)
		<-f.doneCh
		f.flushOnce()
		f.workers.Release()
	})
}
