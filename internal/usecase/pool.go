package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tg-archiver/internal/domain"

	"go.uber.org/zap"
)

// SessionHandle is one authenticated transport handle the pool manages.
// Construction (credentials, login) happens outside the pool; the pool only
// brings already-built handles online and tracks their state.
type SessionHandle struct {
	Name      string
	Transport domain.Transport
	Start     func(ctx context.Context) error
}

type sessionState struct {
	handle     SessionHandle
	state      domain.SessionState
	reason     string
	cooldown   time.Time
	assigned   int
}

type poolRequest struct {
	kind    poolRequestKind
	name    string
	wait    time.Duration
	reason  string
	reply   chan poolReply
}

type poolRequestKind int

const (
	reqBringOnline poolRequestKind = iota
	reqAcquire
	reqRelease
	reqMarkRateLimited
	reqDisable
	reqMarkFailed
	reqSnapshot
	reqShutdown
)

type poolReply struct {
	err       error
	transport domain.Transport
	snapshot  []domain.SessionDescriptor
}

// Pool owns N session handles via a single goroutine ("actor, not shared
// map"): every method sends a typed request on reqCh and blocks on a reply
// channel, so sessionStates is never touched from more than one goroutine.
type Pool struct {
	reqCh   chan poolRequest
	doneCh  chan struct{}
	log     *zap.Logger
}

// NewPool starts the pool's owning goroutine over the given handles.
func NewPool(ctx context.Context, handles []SessionHandle, log *zap.Logger) *Pool {
	states := make(map[string]*sessionState, len(handles))
	order := make([]string, 0, len(handles))
	for _, h := range handles {
		states[h.Name] = &sessionState{handle: h, state: domain.SessionOffline}
		order = append(order, h.Name)
	}

	p := &Pool{
		reqCh:  make(chan poolRequest),
		doneCh: make(chan struct{}),
		log:    log,
	}
	go p.run(ctx, states, order)
	return p
}

func (p *Pool) run(ctx context.Context, states map[string]*sessionState, order []string) {
	defer close(p.doneCh)
	for {
		select {
		case <-ctx.Done():
			for _, name := range order {
				states[name].state = domain.SessionOffline
			}
			return
		case req := <-p.reqCh:
			p.handle(ctx, states, order, req)
			if req.kind == reqShutdown {
				return
			}
		}
	}
}

func (p *Pool) handle(ctx context.Context, states map[string]*sessionState, order []string, req poolRequest) {
	switch req.kind {
	case reqBringOnline:
		type result struct {
			name string
			err  error
		}
		results := make(chan result, len(order))
		for _, name := range order {
			name := name
			st := states[name]
			st.state = domain.SessionConnecting
			go func() {
				err := st.handle.Start(ctx)
				results <- result{name: name, err: err}
			}()
		}
		for range order {
			r := <-results
			st := states[r.name]
			if r.err != nil {
				st.state = domain.SessionFailed
				st.reason = r.err.Error()
				p.log.Warn("session failed to come online", zap.String("session", r.name), zap.Error(r.err))
				continue
			}
			st.state = domain.SessionOnline
			p.log.Info("session online", zap.String("session", r.name))
		}
		req.reply <- poolReply{}

	case reqAcquire:
		st, ok := states[req.name]
		if !ok {
			req.reply <- poolReply{err: fmt.Errorf("unknown session %q", req.name)}
			return
		}
		if st.state == domain.SessionRateLimited && time.Now().Before(st.cooldown) {
			req.reply <- poolReply{err: fmt.Errorf("session %q is rate-limited until %s", req.name, st.cooldown)}
			return
		}
		if st.state == domain.SessionRateLimited {
			st.state = domain.SessionOnline
		}
		if st.state != domain.SessionOnline {
			req.reply <- poolReply{err: fmt.Errorf("session %q is not online (state=%s)", req.name, st.state)}
			return
		}
		req.reply <- poolReply{transport: st.handle.Transport}

	case reqRelease:
		req.reply <- poolReply{}

	case reqMarkRateLimited:
		st, ok := states[req.name]
		if !ok {
			req.reply <- poolReply{err: fmt.Errorf("unknown session %q", req.name)}
			return
		}
		st.state = domain.SessionRateLimited
		st.cooldown = time.Now().Add(req.wait)
		p.log.Warn("session rate limited", zap.String("session", req.name), zap.Duration("wait", req.wait))
		req.reply <- poolReply{}

	case reqMarkFailed:
		st, ok := states[req.name]
		if !ok {
			req.reply <- poolReply{err: fmt.Errorf("unknown session %q", req.name)}
			return
		}
		st.state = domain.SessionFailed
		st.reason = req.reason
		p.log.Error("session marked failed", zap.String("session", req.name), zap.String("reason", req.reason))
		req.reply <- poolReply{}

	case reqDisable:
		if p.onlineCountExcluding(states, order, req.name) == 0 {
			req.reply <- poolReply{err: &domain.PoolExhaustedError{Reason: fmt.Sprintf("disabling %q would leave zero sessions online", req.name)}}
			return
		}
		st, ok := states[req.name]
		if !ok {
			req.reply <- poolReply{err: fmt.Errorf("unknown session %q", req.name)}
			return
		}
		st.state = domain.SessionOffline
		req.reply <- poolReply{}

	case reqSnapshot:
		snap := make([]domain.SessionDescriptor, 0, len(order))
		for _, name := range order {
			st := states[name]
			var rlTill int64
			if st.state == domain.SessionRateLimited {
				rlTill = st.cooldown.Unix()
			}
			snap = append(snap, domain.SessionDescriptor{
				Name:            name,
				State:           st.state,
				FailureReason:   st.reason,
				RateLimitedTill: rlTill,
				AssignedGroups:  st.assigned,
			})
		}
		req.reply <- poolReply{snapshot: snap}

	case reqShutdown:
		for _, name := range order {
			states[name].handle.Transport.Close()
			states[name].state = domain.SessionOffline
		}
		req.reply <- poolReply{}
	}
}

func (p *Pool) onlineCountExcluding(states map[string]*sessionState, order []string, excluded string) int {
	n := 0
	for _, name := range order {
		if name == excluded {
			continue
		}
		if states[name].state == domain.SessionOnline || states[name].state == domain.SessionRateLimited {
			n++
		}
	}
	return n
}

func (p *Pool) call(req poolRequest) poolReply {
	req.reply = make(chan poolReply, 1)
	select {
	case p.reqCh <- req:
	case <-p.doneCh:
		return poolReply{err: errors.New("session pool is shut down")}
	}
	return <-req.reply
}

// BringOnline transitions every handle offline->connecting->online
// concurrently; per-handle failures do not block the others.
func (p *Pool) BringOnline() error {
	return p.call(poolRequest{kind: reqBringOnline}).err
}

// Acquire returns the transport for name, erroring if it is not online or
// still inside its rate-limit cooldown.
func (p *Pool) Acquire(name string) (domain.Transport, error) {
	reply := p.call(poolRequest{kind: reqAcquire, name: name})
	return reply.transport, reply.err
}

// Release is a no-op hook kept for symmetry with Acquire; sessions are not
// exclusively checked out, only gated by state.
func (p *Pool) Release(name string) {
	p.call(poolRequest{kind: reqRelease, name: name})
}

// MarkRateLimited puts a session into cooldown until wait elapses.
func (p *Pool) MarkRateLimited(name string, wait time.Duration) error {
	return p.call(poolRequest{kind: reqMarkRateLimited, name: name, wait: wait}).err
}

// MarkFailed permanently excludes a session from further work this run.
func (p *Pool) MarkFailed(name string, reason string) error {
	return p.call(poolRequest{kind: reqMarkFailed, name: name, reason: reason}).err
}

// Disable takes a session fully offline, refusing if doing so would leave
// zero sessions online.
func (p *Pool) Disable(name string) error {
	return p.call(poolRequest{kind: reqDisable, name: name}).err
}

// Online returns the names of sessions currently eligible for assignment
// (online or merely cooling down, since cooldowns expire mid-run).
func (p *Pool) Online() []string {
	snap := p.Snapshot()
	var names []string
	for _, s := range snap {
		if s.State == domain.SessionOnline || s.State == domain.SessionRateLimited {
			names = append(names, s.Name)
		}
	}
	return names
}

// Snapshot returns a read-only view of every session's current state.
func (p *Pool) Snapshot() []domain.SessionDescriptor {
	return p.call(poolRequest{kind: reqSnapshot}).snapshot
}

// Shutdown closes every handle with a best-effort sweep, then stops the
// owning goroutine.
func (p *Pool) Shutdown() error {
	return p.call(poolRequest{kind: reqShutdown}).err
}
