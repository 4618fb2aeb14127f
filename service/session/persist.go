package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/brojonat/counterwallet/service/store"
)

const persistTimeout = 5 * time.Second

type persistJob struct {
	seq   uint64
	clear bool
	snap  store.Snapshot
}

// persister writes snapshots on one goroutine. Jobs coalesce: only the newest
// queued job is written, and it is always queued after the mutation it reflects.
type persister struct {
	store  store.Store
	logger *slog.Logger

	mu       sync.Mutex
	next     *persistJob
	queued   uint64
	written  uint64
	progress chan struct{}

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
}

func newPersister(st store.Store, logger *slog.Logger) *persister {
	p := &persister{
		store:    st,
		logger:   logger,
		progress: make(chan struct{}),
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *persister) save(snap store.Snapshot) {
	p.enqueue(persistJob{snap: snap})
}

func (p *persister) clear() {
	p.enqueue(persistJob{clear: true})
}

func (p *persister) enqueue(job persistJob) {
	p.mu.Lock()
	p.queued++
	job.seq = p.queued
	p.next = &job
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *persister) run() {
	defer close(p.done)
	for {
		select {
		case <-p.wake:
			p.flush()
		case <-p.stop:
			p.flush()
			return
		}
	}
}

func (p *persister) flush() {
	for {
		p.mu.Lock()
		job := p.next
		p.next = nil
		p.mu.Unlock()
		if job == nil {
			return
		}

		p.write(job)

		p.mu.Lock()
		p.written = job.seq
		close(p.progress)
		p.progress = make(chan struct{})
		p.mu.Unlock()
	}
}

func (p *persister) write(job *persistJob) {
	if p.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	var err error
	if job.clear {
		err = p.store.Clear(ctx)
	} else {
		err = p.store.Save(ctx, job.snap)
	}
	if err != nil {
		p.logger.Error("failed to persist session snapshot", "clear", job.clear, "error", err)
	}
}

// sync waits until every job queued before the call has been written.
func (p *persister) sync(ctx context.Context) error {
	p.mu.Lock()
	target := p.queued
	p.mu.Unlock()

	for {
		p.mu.Lock()
		if p.written >= target {
			p.mu.Unlock()
			return nil
		}
		progress := p.progress
		p.mu.Unlock()

		select {
		case <-progress:
		case <-p.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// close flushes queued work and stops the writer.
func (p *persister) close() {
	select {
	case <-p.stop:
	default:
		close(p.stop)
	}
	<-p.done
}
