package index

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rfpdesk/docvault/internal/domain"
	domdoc "github.com/rfpdesk/docvault/internal/domain/document"
	"github.com/rfpdesk/docvault/internal/metrics"
)

// reconcileBatch is how many document records a sweep reads per round trip.
const reconcileBatch = 100

// PropagatorConfig tunes the background index workers.
type PropagatorConfig struct {
	Workers           int
	QueueSize         int
	MaxAttempts       int
	RetryBase         time.Duration
	ReconcileInterval time.Duration
}

func (c *PropagatorConfig) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 1024
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 100 * time.Millisecond
	}
	if c.ReconcileInterval <= 0 {
		c.ReconcileInterval = time.Minute
	}
}

type task struct {
	documentID string
	attempt    int
}

// Propagator brings the index up to date with the ledger in the background.
// Work is keyed by document: a document is queued at most once, a mutation
// arriving while its document is being synced schedules one more sync, and
// every sync reads the full current state so tasks may run in any order.
type Propagator struct {
	index  *Index
	ledger Ledger
	vis    VisibilitySource
	cfg    PropagatorConfig
	logger *zap.Logger

	queue chan task

	mu       sync.Mutex
	queued   map[string]struct{}
	running  map[string]struct{}
	rerun    map[string]struct{}
	retrying map[string]struct{}
	dirty    map[string]struct{} // overflowed, waiting for queue space
	parked   map[string]error    // out of attempts, waiting for reconciliation
}

// NewPropagator creates a propagator. Run must be called to start it.
func NewPropagator(ix *Index, ledger Ledger, vis VisibilitySource, cfg PropagatorConfig, logger *zap.Logger) *Propagator {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Propagator{
		index:    ix,
		ledger:   ledger,
		vis:      vis,
		cfg:      cfg,
		logger:   logger,
		queue:    make(chan task, cfg.QueueSize),
		queued:   make(map[string]struct{}),
		running:  make(map[string]struct{}),
		rerun:    make(map[string]struct{}),
		retrying: make(map[string]struct{}),
		dirty:    make(map[string]struct{}),
		parked:   make(map[string]error),
	}
}

// Enqueue schedules a sync of the document. It never blocks: when the queue
// is full the document is marked dirty and picked up as soon as there is room.
func (p *Propagator) Enqueue(documentID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enqueueLocked(task{documentID: documentID, attempt: 1})
}

func (p *Propagator) enqueueLocked(t task) {
	id := t.documentID
	if _, ok := p.queued[id]; ok {
		return
	}
	if _, ok := p.running[id]; ok {
		p.rerun[id] = struct{}{}
		return
	}
	delete(p.parked, id)
	select {
	case p.queue <- t:
		p.queued[id] = struct{}{}
		delete(p.dirty, id)
	default:
		p.dirty[id] = struct{}{}
	}
	metrics.IndexQueueDepth.Set(float64(len(p.queue)))
}

// Run starts the workers and the reconciler, rebuilds the index from the
// ledger and blocks until ctx is done.
func (p *Propagator) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for range p.cfg.Workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.work(ctx)
		}()
	}

	if err := p.Reconcile(ctx); err != nil {
		p.logger.Error("initial index rebuild failed", zap.Error(err))
	}

	ticker := time.NewTicker(p.cfg.ReconcileInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return nil
		case <-ticker.C:
			if err := p.Reconcile(ctx); err != nil {
				p.logger.Warn("index reconciliation failed", zap.Error(err))
			}
		}
	}
}

// Reconcile enqueues the parked documents and every ledger document the
// index may disagree with. Syncing an up-to-date document only refreshes
// its closure; tombstoned documents the index already dropped or never
// held are skipped.
func (p *Propagator) Reconcile(ctx context.Context) error {
	ids, err := p.ledger.IDs(ctx)
	if err != nil {
		return fmt.Errorf("list documents: %w", err)
	}
	pending := make([]string, 0, len(ids))
	for batch := range slices.Chunk(ids, reconcileBatch) {
		docs, err := p.ledger.Documents(ctx, batch)
		if err != nil {
			return fmt.Errorf("read documents: %w", err)
		}
		for i := range docs {
			if !p.settled(&docs[i]) {
				pending = append(pending, docs[i].ID())
			}
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for id := range p.parked {
		p.enqueueLocked(task{documentID: id, attempt: 1})
	}
	for _, id := range pending {
		p.enqueueLocked(task{documentID: id, attempt: 1})
	}
	return nil
}

// settled reports whether doc is deleted and absent from search already.
func (p *Propagator) settled(doc *domdoc.Document) bool {
	if !doc.Deleted() {
		return false
	}
	head, tombstoned := p.index.Head(doc.ID())
	return tombstoned || head == 0
}

func (p *Propagator) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-p.queue:
			p.start(t)
			err := p.sync(ctx, t.documentID)
			p.finish(ctx, t, err)
		}
	}
}

func (p *Propagator) start(t task) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.queued, t.documentID)
	p.running[t.documentID] = struct{}{}
	metrics.IndexQueueDepth.Set(float64(len(p.queue)))
}

func (p *Propagator) finish(ctx context.Context, t task, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := t.documentID
	delete(p.running, id)

	_, again := p.rerun[id]
	delete(p.rerun, id)
	if err != nil {
		err = &domain.IndexPropagationError{DocumentID: id, Attempt: t.attempt, Err: err}
	}

	switch {
	case err == nil:
		metrics.IndexSyncTotal.WithLabelValues("ok").Inc()
	case again:
		// A newer mutation schedules a fresh sync with a fresh budget.
		metrics.IndexSyncTotal.WithLabelValues("retry").Inc()
	case t.attempt < p.cfg.MaxAttempts && ctx.Err() == nil:
		metrics.IndexSyncTotal.WithLabelValues("retry").Inc()
		metrics.IndexRetriesTotal.Inc()
		p.logger.Warn("index propagation failed, retrying",
			zap.String("document_id", id), zap.Error(err))
		p.retryLocked(ctx, task{documentID: id, attempt: t.attempt + 1})
	default:
		metrics.IndexSyncTotal.WithLabelValues("failed").Inc()
		p.parked[id] = err
		p.logger.Error("index propagation parked until reconciliation",
			zap.String("document_id", id), zap.Error(err))
	}

	if again {
		p.enqueueLocked(task{documentID: id, attempt: 1})
	}
	p.drainDirtyLocked()
}

func (p *Propagator) retryLocked(ctx context.Context, t task) {
	p.retrying[t.documentID] = struct{}{}
	delay := p.cfg.RetryBase << (t.attempt - 2)
	time.AfterFunc(delay, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.retrying, t.documentID)
		if ctx.Err() != nil {
			p.parked[t.documentID] = &domain.IndexPropagationError{
				DocumentID: t.documentID, Attempt: t.attempt, Err: ctx.Err(),
			}
			return
		}
		p.enqueueLocked(t)
	})
}

func (p *Propagator) drainDirtyLocked() {
	for id := range p.dirty {
		if len(p.queue) == cap(p.queue) {
			return
		}
		p.enqueueLocked(task{documentID: id, attempt: 1})
	}
}

// sync makes the index reflect the ledger's current state of one document.
func (p *Propagator) sync(ctx context.Context, documentID string) error {
	doc, err := p.ledger.GetDocument(ctx, documentID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("get document: %w", err)
	}
	if doc.Deleted() {
		p.index.RemoveDocument(documentID)
		return nil
	}

	head, tombstoned := p.index.Head(documentID)
	if tombstoned {
		return nil
	}
	for v, err := range p.ledger.ListVersionsAfter(ctx, documentID, head) {
		if err != nil {
			return fmt.Errorf("read versions: %w", err)
		}
		p.index.IndexVersion(&doc, &v)
	}

	closure, err := p.vis.Visibility(ctx, documentID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("compute visibility: %w", err)
	}
	p.index.UpdateVisibility(documentID, closure)
	return nil
}

// Idle reports whether no sync is queued, running, awaiting retry or waiting
// for queue space.
func (p *Propagator) Idle() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.idleLocked()
}

func (p *Propagator) idleLocked() bool {
	return len(p.queued) == 0 && len(p.running) == 0 && len(p.retrying) == 0 && len(p.dirty) == 0
}

// Parked returns how many documents ran out of attempts and wait for the
// next reconciliation.
func (p *Propagator) Parked() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.parked)
}

// WaitIdle blocks until all scheduled propagation has finished. It reports
// the documents that ran out of attempts as an IndexPropagationError.
func (p *Propagator) WaitIdle(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		p.mu.Lock()
		p.drainDirtyLocked()
		idle := p.idleLocked()
		var parkedErr error
		for _, err := range p.parked {
			parkedErr = err
			break
		}
		p.mu.Unlock()

		if idle {
			return parkedErr
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for index propagation: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}
