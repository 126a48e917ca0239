package replication

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/dChat/lib/chat"
	"github.com/ValentinKolb/dChat/lib/queue"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("replication")

// Peer is a member of the static cluster.
type Peer struct {
	ID      uint64
	Address string
}

func (p Peer) String() string {
	return fmt.Sprintf("node %d at %s", p.ID, p.Address)
}

// ParsePeers parses a comma separated list of id=address pairs, e.g. "1=localhost:8080,2=localhost:8081".
func ParsePeers(s string) ([]Peer, error) {
	var peers []Peer
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		idStr, addr, ok := strings.Cut(part, "=")
		if !ok || strings.TrimSpace(addr) == "" {
			return nil, fmt.Errorf("invalid peer %q (expected id=address)", part)
		}
		id, err := strconv.ParseUint(strings.TrimSpace(idStr), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid peer id in %q: %w", part, err)
		}
		peers = append(peers, Peer{ID: id, Address: strings.TrimSpace(addr)})
	}
	return peers, nil
}

// PrimaryOf returns the id of the primary: the smallest id among selfID and peers.
func PrimaryOf(selfID uint64, peers []Peer) uint64 {
	primary := selfID
	for _, p := range peers {
		if p.ID < primary {
			primary = p.ID
		}
	}
	return primary
}

// IPeerClient sends replicated mutations to one follower.
type IPeerClient interface {
	// Replicate issues ReplicateMutation on the follower. A nil error means the follower
	// applied the mutation. Failures to reach the follower match chat.ErrReplicationTransport,
	// a follower that refused the mutation answers with its own *chat.Error.
	Replicate(op string, payload []byte) error
	Close() error
}

// PeerDialer opens a client for peer.
type PeerDialer func(peer Peer) (IPeerClient, error)

// Applier applies decoded mutations, implemented by *chat.StateMachine.
type Applier interface {
	ApplyReplicated(m chat.Mutation) error
}

// --------------------------------------------------------------------------
// Coordinator
// --------------------------------------------------------------------------

// Coordinator knows the role of this node and replicates mutations to the followers.
type Coordinator struct {
	self      Peer
	primary   Peer
	followers []*follower
	started   atomic.Bool
	closed    atomic.Bool
	wg        sync.WaitGroup
}

// follower is the outbound side towards one follower node.
type follower struct {
	peer   Peer
	dialer PeerDialer
	queue  *queue.LockFreeMPSC[chat.Mutation]
	client IPeerClient // only touched by the worker goroutine

	sent   *metrics.Counter
	failed *metrics.Counter
}

// NewCoordinator creates the coordinator of node selfID. peers is the full static cluster
// membership and may or may not contain selfID; an empty list means a single node cluster.
func NewCoordinator(selfID uint64, peers []Peer, dialer PeerDialer) (*Coordinator, error) {
	members := map[uint64]Peer{}
	for _, p := range peers {
		if _, dup := members[p.ID]; dup {
			return nil, fmt.Errorf("duplicate peer id %d", p.ID)
		}
		members[p.ID] = p
	}
	self, ok := members[selfID]
	if !ok {
		self = Peer{ID: selfID}
		members[selfID] = self
	}

	c := &Coordinator{self: self}
	c.primary = members[PrimaryOf(selfID, peers)]

	if c.IsPrimary() {
		ids := make([]uint64, 0, len(members))
		for id := range members {
			if id != selfID {
				ids = append(ids, id)
			}
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

		if len(ids) > 0 && dialer == nil {
			return nil, fmt.Errorf("a peer dialer is required to replicate to %d followers", len(ids))
		}
		for _, id := range ids {
			peer := members[id]
			label := strconv.FormatUint(id, 10)
			c.followers = append(c.followers, &follower{
				peer:   peer,
				dialer: dialer,
				queue:  queue.NewLockFreeMPSC[chat.Mutation](),
				sent:   metrics.GetOrCreateCounter(fmt.Sprintf(`dchat_replication_sent_total{peer=%q}`, label)),
				failed: metrics.GetOrCreateCounter(fmt.Sprintf(`dchat_replication_failed_total{peer=%q}`, label)),
			})
		}
	}
	return c, nil
}

// IsPrimary returns true if this node accepts client mutations.
func (c *Coordinator) IsPrimary() bool {
	return c.self.ID == c.primary.ID
}

// Primary returns the primary of the cluster.
func (c *Coordinator) Primary() Peer {
	return c.primary
}

// Self returns this node.
func (c *Coordinator) Self() Peer {
	return c.self
}

// Role returns "primary" or "follower".
func (c *Coordinator) Role() string {
	if c.IsPrimary() {
		return "primary"
	}
	return "follower"
}

// Followers returns the peers this node replicates to (none on a follower).
func (c *Coordinator) Followers() []Peer {
	peers := make([]Peer, len(c.followers))
	for i, f := range c.followers {
		peers[i] = f.peer
	}
	return peers
}

// Start launches one worker per follower. Mutations forwarded before Start are kept.
func (c *Coordinator) Start() {
	if !c.started.CompareAndSwap(false, true) {
		return
	}
	for _, f := range c.followers {
		c.wg.Add(1)
		go func(f *follower) {
			defer c.wg.Done()
			f.run()
		}(f)
	}
	log.Infof("node %d started as %s (primary: %s, followers: %d)", c.self.ID, c.Role(), c.primary, len(c.followers))
}

// Forward enqueues m for every follower. It is a no-op on followers and never blocks.
// It implements chat.Forwarder.
func (c *Coordinator) Forward(m chat.Mutation) {
	if !c.IsPrimary() {
		return
	}
	for _, f := range c.followers {
		if !f.queue.Push(&m) {
			log.Warningf("replication to %s is closed, dropped %s", f.peer, m.Kind())
		}
	}
}

// Apply decodes payload as a mutation of type op and applies it via applier.
func (c *Coordinator) Apply(op string, payload []byte, applier Applier) error {
	kind, err := chat.ParseMutationKind(op)
	if err != nil {
		return err
	}
	m, err := chat.DecodeMutation(payload)
	if err != nil {
		return err
	}
	if m.Kind() != kind {
		return chat.Errorf(chat.CodeApplyError, "operation type %q does not match payload kind %q", op, m.Kind())
	}
	return applier.ApplyReplicated(m)
}

// Close stops accepting mutations, waits until the queued ones were sent (or failed) and
// closes all peer connections.
func (c *Coordinator) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	for _, f := range c.followers {
		f.queue.Close()
	}
	if c.started.Load() {
		c.wg.Wait()
	} else {
		for _, f := range c.followers {
			f.queue.Abort()
		}
	}
	return nil
}

// --------------------------------------------------------------------------
// Follower worker
// --------------------------------------------------------------------------

func (f *follower) run() {
	defer func() {
		if f.client != nil {
			_ = f.client.Close()
			f.client = nil
		}
	}()
	for m := range f.queue.Recv() {
		f.send(*m)
	}
}

// send delivers a single mutation. Failures are logged and counted, never retried.
func (f *follower) send(m chat.Mutation) {
	if f.client == nil {
		client, err := f.dialer(f.peer)
		if err != nil {
			f.failed.Inc()
			log.Warningf("replication of %s to %s failed: %v", m.Kind(), f.peer,
				chat.Errorf(chat.CodeReplicationTransport, "dial: %v", err))
			return
		}
		f.client = client
	}

	if err := f.client.Replicate(m.Kind().String(), chat.EncodeMutation(m)); err != nil {
		f.failed.Inc()
		var chatErr *chat.Error
		if errors.As(err, &chatErr) && !errors.Is(err, chat.ErrReplicationTransport) {
			// the follower answered, the connection is fine
			log.Warningf("replication of %s to %s rejected: %v", m.Kind(), f.peer, err)
			return
		}
		log.Warningf("replication of %s to %s failed: %v", m.Kind(), f.peer, err)
		// start over with a fresh connection for the next mutation
		_ = f.client.Close()
		f.client = nil
		return
	}
	f.sent.Inc()
}
