// Package delivery keeps track of the users that are currently subscribed to live messages
// and pushes new messages to them.
//
// Every username has at most one subscription. Registering again replaces the previous
// subscription: the old one is closed, its stream drains what was already pushed and ends.
// Pushing never blocks, each subscription owns an unbounded queue (see lib/queue).
package delivery

import (
	"github.com/ValentinKolb/dChat/lib/chat"
	"github.com/ValentinKolb/dChat/lib/queue"
	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var log = logger.GetLogger("delivery")

// Subscription is a live registration of a single user.
type Subscription struct {
	ID       uuid.UUID
	Username string
	queue    *queue.LockFreeMPSC[chat.Message]
}

// Recv returns the channel of pushed messages. It is closed once the subscription was
// replaced, unregistered or released and all pushed messages were received.
func (s *Subscription) Recv() <-chan *chat.Message {
	return s.queue.Recv()
}

// Registry maps usernames to their live subscription.
//
// Thread-safety: all methods are safe for concurrent use.
type Registry struct {
	subs *xsync.MapOf[string, *Subscription]
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	r := &Registry{subs: xsync.NewMapOf[string, *Subscription]()}
	metrics.GetOrCreateGauge(`dchat_subscriptions_active`, func() float64 {
		return float64(r.Len())
	})
	return r
}

// Register creates a subscription for username, replacing (and closing) any previous one.
func (r *Registry) Register(username string) *Subscription {
	sub := &Subscription{
		ID:       uuid.New(),
		Username: username,
		queue:    queue.NewLockFreeMPSC[chat.Message](),
	}
	r.subs.Compute(username, func(old *Subscription, loaded bool) (*Subscription, bool) {
		if loaded {
			log.Infof("subscription %s of %q replaced by %s", old.ID, username, sub.ID)
			old.queue.Close()
		}
		return sub, false
	})
	return sub
}

// Deliver pushes msg to the subscription of username. Returns false if the user has no
// live subscription.
func (r *Registry) Deliver(username string, msg chat.Message) bool {
	sub, ok := r.subs.Load(username)
	if !ok {
		return false
	}
	return sub.queue.Push(&msg)
}

// Unregister removes the subscription of username, if any. The stream ends once the
// messages that were already pushed have been received.
func (r *Registry) Unregister(username string) {
	if sub, ok := r.subs.LoadAndDelete(username); ok {
		log.Debugf("subscription %s of %q unregistered", sub.ID, username)
		sub.queue.Close()
	}
}

// Release is called when the stream of sub ends. It removes sub from the registry only if
// it is still the current subscription of its user, so tearing down a replaced stream does
// not remove its successor. Undelivered messages of sub are dropped.
func (r *Registry) Release(sub *Subscription) {
	r.subs.Compute(sub.Username, func(cur *Subscription, loaded bool) (*Subscription, bool) {
		if loaded && cur == sub {
			return nil, true
		}
		// keep whatever is registered (or nothing)
		return cur, !loaded
	})
	sub.queue.Abort()
}

// Has returns true if username has a live subscription.
func (r *Registry) Has(username string) bool {
	_, ok := r.subs.Load(username)
	return ok
}

// Len returns the number of live subscriptions.
func (r *Registry) Len() int {
	return r.subs.Size()
}
