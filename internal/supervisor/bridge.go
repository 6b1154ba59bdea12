package supervisor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/randalmurphal/orc-forged/internal/orcerr"
)

// bridge is the isolated execution context spec.md §4.4 requires: a
// single goroutine owns all worker state and is reachable only through
// typed request/response messages carrying a monotonic correlation id.
// No caller ever touches worker state directly, so a panic inside one
// request handler can be contained and the bridge respawned without
// corrupting state a concurrent caller might be holding a reference to.
type bridge struct {
	mu      sync.Mutex
	reqCh   chan bridgeRequest
	stopCh  chan struct{}
	running bool
	nextID  uint64

	newState func() *supervisorState
	state    *supervisorState
}

type bridgeRequest struct {
	id    uint64
	op    func(*supervisorState) (any, error)
	reply chan bridgeReply
}

type bridgeReply struct {
	value any
	err   error
}

func newBridge(newState func() *supervisorState) *bridge {
	return &bridge{newState: newState}
}

// ensureRunning lazily (re)spawns the bridge goroutine. Must be called
// with b.mu held.
func (b *bridge) ensureRunning() {
	if b.running {
		return
	}
	b.reqCh = make(chan bridgeRequest, 32)
	b.stopCh = make(chan struct{})
	b.state = b.newState()
	b.running = true
	go b.loop(b.reqCh, b.stopCh)
}

func (b *bridge) loop(reqCh chan bridgeRequest, stopCh chan struct{}) {
	var inFlight *bridgeRequest
	defer func() {
		if r := recover(); r != nil {
			b.mu.Lock()
			if b.reqCh == reqCh {
				b.running = false
			}
			b.mu.Unlock()
			lostErr := orcerr.New(orcerr.KindBridgeLost, fmt.Sprintf("bridge panicked: %v", r))
			// The request that caused the panic never got a reply from
			// the normal path below; fail it explicitly so its caller
			// doesn't block forever.
			if inFlight != nil {
				inFlight.reply <- bridgeReply{err: lostErr}
			}
			// Nothing further will ever be read from reqCh by this
			// goroutine; fail whatever is already queued too.
			for {
				select {
				case req := <-reqCh:
					req.reply <- bridgeReply{err: lostErr}
				default:
					return
				}
			}
		}
	}()
	for {
		select {
		case req := <-reqCh:
			inFlight = &req
			value, err := req.op(b.state)
			inFlight = nil
			req.reply <- bridgeReply{value: value, err: err}
		case <-stopCh:
			return
		}
	}
}

// call sends op to the bridge and blocks for its reply, or for ctx
// cancellation, whichever comes first.
func (b *bridge) call(ctx context.Context, op func(*supervisorState) (any, error)) (any, error) {
	b.mu.Lock()
	b.ensureRunning()
	reqCh := b.reqCh
	id := atomic.AddUint64(&b.nextID, 1)
	b.mu.Unlock()

	reply := make(chan bridgeReply, 1)
	select {
	case reqCh <- bridgeRequest{id: id, op: op, reply: reply}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case r := <-reply:
		return r.value, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// stop signals the bridge goroutine to exit. A subsequent call lazily
// respawns it with fresh state.
func (b *bridge) stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		close(b.stopCh)
		b.running = false
	}
}
