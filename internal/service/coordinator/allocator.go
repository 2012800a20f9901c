package coordinator

import (
	"fmt"
	"sync"

	"distdetect/internal/config"
	"distdetect/internal/model"
)

// Allocator hands out still-unassigned classes to available dynamic workers.
// Classes are given out at most once per run.
type Allocator struct {
	mu        sync.Mutex
	policy    string
	remaining []model.ClassID
	slots     int

	// Arrival order: tickets are issued at accept time and resolved in turn.
	turns    *sync.Cond
	issued   int
	next     int
	resolved map[int]bool

	exhausted     chan struct{}
	exhaustedOnce sync.Once
}

// NewAllocator creates an allocator over classes. slots is the number of
// workers the even policy spreads classes over; the first policy ignores it.
func NewAllocator(policy string, classes []model.ClassID, slots int) (*Allocator, error) {
	switch policy {
	case "", config.PolicyFirst:
		policy = config.PolicyFirst
	case config.PolicyEven:
	default:
		return nil, fmt.Errorf("unknown allocation policy %q", policy)
	}
	if slots < 1 {
		slots = 1
	}

	a := &Allocator{
		policy:    policy,
		remaining: model.NewAssignment(classes...),
		slots:     slots,
		resolved:  make(map[int]bool),
		exhausted: make(chan struct{}),
	}
	a.turns = sync.NewCond(&a.mu)
	if len(a.remaining) == 0 {
		a.markExhausted()
	}
	return a, nil
}

// Allocate returns the classes for the next available worker, lowest ids
// first. An empty assignment means nothing is left.
func (a *Allocator) Allocate() model.Assignment {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.allocateLocked()
}

func (a *Allocator) allocateLocked() model.Assignment {
	if len(a.remaining) == 0 {
		return nil
	}

	n := len(a.remaining)
	if a.policy == config.PolicyEven {
		n = (len(a.remaining) + a.slots - 1) / a.slots
		if a.slots > 1 {
			a.slots--
		}
	}

	assigned := make(model.Assignment, n)
	copy(assigned, a.remaining[:n])
	a.remaining = a.remaining[n:]
	if len(a.remaining) == 0 {
		a.markExhausted()
	}
	return assigned
}

// Remaining returns the classes nobody has been given yet.
func (a *Allocator) Remaining() []model.ClassID {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]model.ClassID{}, a.remaining...)
}

// Exhausted is closed once every class has been assigned.
func (a *Allocator) Exhausted() <-chan struct{} {
	return a.exhausted
}

func (a *Allocator) markExhausted() {
	a.exhaustedOnce.Do(func() { close(a.exhausted) })
}

// Ticket is a worker's place in arrival order. Allocations made through
// tickets happen in the order the tickets were issued, whatever order the
// workers answer in.
type Ticket struct {
	alloc *Allocator
	turn  int
	done  bool
}

// Ticket issues the next place in arrival order. Every ticket must end with
// Allocate or Release, or later tickets wait forever.
func (a *Allocator) Ticket() *Ticket {
	a.mu.Lock()
	defer a.mu.Unlock()
	t := &Ticket{alloc: a, turn: a.issued}
	a.issued++
	return t
}

// Allocate waits until every earlier ticket is resolved, then allocates.
// It returns nil if the ticket was already used or released.
func (t *Ticket) Allocate() model.Assignment {
	a := t.alloc
	a.mu.Lock()
	defer a.mu.Unlock()

	if t.done {
		return nil
	}
	for a.next != t.turn {
		a.turns.Wait()
	}
	assigned := a.allocateLocked()
	t.resolveLocked()
	return assigned
}

// Release gives up the ticket's turn without allocating. It does not wait
// and is safe to call more than once.
func (t *Ticket) Release() {
	t.alloc.mu.Lock()
	defer t.alloc.mu.Unlock()
	if !t.done {
		t.resolveLocked()
	}
}

func (t *Ticket) resolveLocked() {
	a := t.alloc
	t.done = true
	a.resolved[t.turn] = true
	for a.resolved[a.next] {
		delete(a.resolved, a.next)
		a.next++
	}
	a.turns.Broadcast()
}
