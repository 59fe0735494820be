package chat

import (
	"context"
	"iter"
	"time"

	"github.com/dohr-michael/neorix/internal/events"
	"github.com/dohr-michael/neorix/internal/models"
)

// CallReport describes one request that reached the hosted service.
type CallReport struct {
	Session  *Session
	Usage    *models.Usage // last usage reported by the stream, if any
	Duration time.Duration
	Err      error // nil, a *SendError, ErrSuperseded, or the caller's context error
}

// CallFunc observes finished service calls.
type CallFunc func(CallReport)

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithCallHook registers fn for every finished service call.
func WithCallHook(fn CallFunc) CoordinatorOption {
	return func(c *Coordinator) { c.onCall = fn }
}

// Coordinator relays one user message to the active session and streams the reply.
type Coordinator struct {
	manager *Manager
	onCall  CallFunc
}

// NewCoordinator creates a coordinator sending through m's active session.
func NewCoordinator(m *Manager, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{manager: m}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Stream sends text to the active session and yields non-empty reply fragments in
// arrival order. The sequence ends after the last fragment or with exactly one error:
// ErrBusy, ErrSuperseded, ctx.Err() when the caller's ctx ended the request, or a
// *SendError. Each call makes a single attempt; there is no retry and no timeout
// beyond ctx.
//
// Replacing the session cancels the request and discards anything it still produces.
func (c *Coordinator) Stream(ctx context.Context, text string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		sess := c.manager.Current()
		if !c.manager.IsCurrent(sess) {
			yield("", ErrSuperseded)
			return
		}
		if !sess.busy.CompareAndSwap(false, true) {
			yield("", ErrBusy)
			return
		}
		defer sess.busy.Store(false)

		caller := ctx
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		stop := context.AfterFunc(sess.ctx, cancel)
		defer stop()

		log := events.Logger(ctx).With("chat_session", sess.ID, "mode", sess.Mode, "generation", sess.Generation)

		start := time.Now()
		var usage *models.Usage
		report := func(err error) {
			if c.onCall != nil {
				c.onCall(CallReport{Session: sess, Usage: usage, Duration: time.Since(start), Err: err})
			}
		}
		fail := func(err error) {
			if !c.manager.IsCurrent(sess) {
				log.Debug("late failure discarded", "error", err)
				report(ErrSuperseded)
				yield("", ErrSuperseded)
				return
			}
			if cerr := caller.Err(); cerr != nil {
				log.Debug("send cancelled by caller", "error", err)
				report(cerr)
				yield("", cerr)
				return
			}
			sendErr := &SendError{SessionID: sess.ID, Mode: sess.Mode, Err: models.HandleError(err)}
			log.Warn("send failed", "error", sendErr.Err)
			report(sendErr)
			yield("", sendErr)
		}

		chat, err := sess.handle(ctx, c.manager.service)
		if err != nil {
			fail(err)
			return
		}

		fragments := 0
		for chunk, err := range chat.Stream(ctx, text) {
			if !c.manager.IsCurrent(sess) {
				log.Debug("stale fragments discarded", "delivered", fragments)
				report(ErrSuperseded)
				yield("", ErrSuperseded)
				return
			}
			if err != nil {
				fail(err)
				return
			}
			if chunk.Usage != nil {
				usage = chunk.Usage
			}
			if chunk.Text == "" {
				continue
			}
			fragments++
			if !yield(chunk.Text, nil) {
				report(context.Canceled)
				return
			}
		}

		if !c.manager.IsCurrent(sess) {
			report(ErrSuperseded)
			yield("", ErrSuperseded)
			return
		}
		log.Debug("reply streamed", "fragments", fragments)
		report(nil)
	}
}

// Send drives Stream, calling onFragment synchronously for every fragment. Fragments
// already delivered stay delivered when an error is returned.
func (c *Coordinator) Send(ctx context.Context, text string, onFragment func(string)) error {
	for fragment, err := range c.Stream(ctx, text) {
		if err != nil {
			return err
		}
		onFragment(fragment)
	}
	return nil
}
