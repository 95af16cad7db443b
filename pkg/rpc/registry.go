package rpc

import (
	"context"
	"sync"
)

// resetCell is a cell that starts not-tripped and transitions to tripped
// exactly once. The "wake every awaiter" contract is realized with a
// channel that is closed exactly once, the standard Go idiom for "become
// ready once, wake every awaiter".
type resetCell struct {
	once sync.Once
	ch   chan struct{}

	mu      sync.Mutex
	tripped bool
}

func newResetCell() *resetCell {
	return &resetCell{ch: make(chan struct{})}
}

func (c *resetCell) trip() {
	c.once.Do(func() {
		c.mu.Lock()
		c.tripped = true
		c.mu.Unlock()
		close(c.ch)
	})
}

func (c *resetCell) isTripped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tripped
}

// registry is the call-id → resetCell mapping for all calls currently
// outstanding on one connection. Holders MUST NOT block while holding the
// lock.
type registry struct {
	mu    sync.Mutex
	cells map[uint32]*resetCell
}

func newRegistry() *registry {
	return &registry{cells: make(map[uint32]*resetCell)}
}

// register inserts a fresh cell for id, overwriting any existing entry. A
// colliding id from the peer is a protocol violation, not a crash: the old
// cell is simply orphaned. Once it is no longer in the map, neither a reset
// nor teardown trips it, so the controller returned for the earlier call
// never fires.
func (r *registry) register(id uint32) *AbortController {
	cell := newResetCell()
	r.mu.Lock()
	r.cells[id] = cell
	r.mu.Unlock()
	return &AbortController{cell: cell}
}

// trip removes id's entry, if present, and trips its cell.
func (r *registry) trip(id uint32) {
	r.mu.Lock()
	cell, ok := r.cells[id]
	if ok {
		delete(r.cells, id)
	}
	r.mu.Unlock()
	if ok {
		cell.trip()
	}
}

// remove deletes id's entry without tripping it, used by [Response]'s
// cleanup once it has sent its reply (or been abandoned without a reset).
func (r *registry) remove(id uint32) {
	r.mu.Lock()
	delete(r.cells, id)
	r.mu.Unlock()
}

// tripAll drains the registry and trips every cell it held, used on
// connection teardown so no awaiter is left hanging.
func (r *registry) tripAll() {
	r.mu.Lock()
	cells := r.cells
	r.cells = make(map[uint32]*resetCell)
	r.mu.Unlock()

	for _, cell := range cells {
		cell.trip()
	}
}

// AbortController is a handle that becomes ready when its call is reset by
// the peer or the connection tears down, used to cooperatively cancel
// server-side work attached to one inbound call.
type AbortController struct {
	cell *resetCell
}

// Done returns a channel that closes exactly once, when this controller
// trips. It composes directly with select statements and [context.Context]
// patterns, the idiomatic Go equivalent of polling a waker to Ready.
func (a *AbortController) Done() <-chan struct{} {
	return a.cell.ch
}

// Tripped reports whether the controller has already tripped, without
// blocking. A supplemental, non-blocking variant of [AbortController.Done],
// the Go analogue of context.Context.Err() alongside <-ctx.Done().
func (a *AbortController) Tripped() bool {
	return a.cell.isTripped()
}

// AwaitReset blocks until the controller trips or ctx is done, whichever
// comes first.
func (a *AbortController) AwaitReset(ctx context.Context) error {
	select {
	case <-a.cell.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AbortOnReset races task against this controller tripping. task receives a
// context that is canceled the moment the controller trips, so a
// cooperative task that checks ctx.Err() (or ctx.Done()) unwinds promptly.
// If reset wins, AbortOnReset returns immediately without waiting for task
// to actually return.
func (a *AbortController) AbortOnReset(ctx context.Context, task func(ctx context.Context) error) error {
	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- task(taskCtx) }()

	select {
	case err := <-done:
		return err
	case <-a.cell.ch:
		cancel()
		return context.Canceled
	}
}

// TaskHandle is a join handle for a task spawned by
// [AbortController.SpawnAndAbortOnReset].
type TaskHandle struct {
	done chan error
}

// Wait blocks until the spawned task (or its abort-on-reset wrapper)
// returns, and yields its error.
func (h *TaskHandle) Wait() error {
	return <-h.done
}

// SpawnAndAbortOnReset spawns [AbortController.AbortOnReset] on its own
// goroutine and returns a handle the caller can wait on later.
func (a *AbortController) SpawnAndAbortOnReset(ctx context.Context, task func(ctx context.Context) error) *TaskHandle {
	h := &TaskHandle{done: make(chan error, 1)}
	go func() {
		h.done <- a.AbortOnReset(ctx, task)
	}()
	return h
}
