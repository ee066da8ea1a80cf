package gateway

import (
	"fmt"
	"sync"
	"time"
)

// TimeoutError reports that no correlated response arrived within the
// deadline. Callers treat it as recoverable and retry on the next cycle.
type TimeoutError struct {
	Op      string
	ID      int64
	Elapsed time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("gateway: %s request %d timed out after %s", e.Op, e.ID, e.Elapsed)
}

// pending is one outstanding request. The reader goroutine appends frames
// under the table lock and closes done exactly once on the terminal frame
// or on failure; the requester blocks on done with a timer.
type pending struct {
	id     int64
	op     string
	frames [][]byte
	err    error
	done   chan struct{}
	closed bool
}

// requestTable correlates outbound request ids with their response slots.
// Ids are strictly increasing for the lifetime of the process so a late
// frame can never collide with a newer request.
type requestTable struct {
	mu     sync.Mutex
	nextID int64
	slots  map[int64]*pending
}

func newRequestTable() *requestTable {
	return &requestTable{nextID: 1, slots: make(map[int64]*pending)}
}

func (t *requestTable) register(op string) *pending {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := &pending{
		id:   t.nextID,
		op:   op,
		done: make(chan struct{}),
	}
	t.nextID++
	t.slots[p.id] = p
	return p
}

// append stores a partial frame for id. Unknown ids (timed out and
// removed) are dropped silently.
func (t *requestTable) append(id int64, frame []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.slots[id]
	if !ok || p.closed {
		return
	}
	buf := make([]byte, len(frame))
	copy(buf, frame)
	p.frames = append(p.frames, buf)
}

// complete marks the request finished and wakes the requester. The slot
// stays in the table until the requester collects it, so frames cannot
// race with collection.
func (t *requestTable) complete(id int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.slots[id]
	if !ok || p.closed {
		return
	}
	p.closed = true
	close(p.done)
}

func (t *requestTable) fail(id int64, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.slots[id]
	if !ok || p.closed {
		return
	}
	p.err = err
	p.closed = true
	close(p.done)
}

// failAll aborts every outstanding request, used on connection loss.
func (t *requestTable) failAll(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range t.slots {
		if p.closed {
			continue
		}
		p.err = err
		p.closed = true
		close(p.done)
	}
}

// remove deletes the slot. Called by the requester on collection or
// timeout; after removal any late frame for id is discarded.
func (t *requestTable) remove(id int64) {
	t.mu.Lock()
	delete(t.slots, id)
	t.mu.Unlock()
}

// collect returns the accumulated frames for a completed request.
func (t *requestTable) collect(id int64) ([][]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.slots[id]
	if !ok {
		return nil, fmt.Errorf("gateway: request %d not found", id)
	}
	delete(t.slots, id)
	return p.frames, p.err
}

// await blocks until the request completes or the timeout elapses.
func (t *requestTable) await(p *pending, timeout time.Duration) ([][]byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-p.done:
		return t.collect(p.id)
	case <-timer.C:
		t.remove(p.id)
		return nil, &TimeoutError{Op: p.op, ID: p.id, Elapsed: timeout}
	}
}

// ackTable routes order acknowledgements, which arrive keyed by order id
// rather than request id.
type ackTable struct {
	mu    sync.Mutex
	slots map[int64]*pending
}

func newAckTable() *ackTable {
	return &ackTable{slots: make(map[int64]*pending)}
}

func (t *ackTable) register(orderID int64) *pending {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := &pending{id: orderID, op: "ack", done: make(chan struct{})}
	t.slots[orderID] = p
	return p
}

func (t *ackTable) deliver(orderID int64, frame []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.slots[orderID]
	if !ok || p.closed {
		return
	}
	buf := make([]byte, len(frame))
	copy(buf, frame)
	p.frames = append(p.frames, buf)
	p.closed = true
	close(p.done)
}

func (t *ackTable) fail(orderID int64, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.slots[orderID]
	if !ok || p.closed {
		return
	}
	p.err = err
	p.closed = true
	close(p.done)
}

func (t *ackTable) failAll(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range t.slots {
		if p.closed {
			continue
		}
		p.err = err
		p.closed = true
		close(p.done)
	}
}

func (t *ackTable) await(p *pending, timeout time.Duration) ([]byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-p.done:
		t.mu.Lock()
		delete(t.slots, p.id)
		frames := p.frames
		err := p.err
		t.mu.Unlock()
		if err != nil {
			return nil, err
		}
		if len(frames) == 0 {
			return nil, fmt.Errorf("gateway: order %d ack empty", p.id)
		}
		return frames[0], nil
	case <-timer.C:
		t.mu.Lock()
		delete(t.slots, p.id)
		t.mu.Unlock()
		return nil, &TimeoutError{Op: "ack", ID: p.id, Elapsed: timeout}
	}
}
