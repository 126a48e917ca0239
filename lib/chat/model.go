package chat

import "time"

// TimestampLayout is the format of Message.Timestamp (local time, microsecond precision).
const TimestampLayout = "2006-01-02T15:04:05.000000"

// Message is a single chat message. Once created it is never modified, only removed.
type Message struct {
	ID        uint64 `msgpack:"id" json:"id"`
	Sender    string `msgpack:"sender" json:"sender"`
	Content   string `msgpack:"content" json:"content"`
	Timestamp string `msgpack:"timestamp" json:"timestamp"`
}

// FormatTimestamp formats t the way Message.Timestamp stores it.
func FormatTimestamp(t time.Time) string {
	return t.Format(TimestampLayout)
}

// Account is a registered user together with their offline mailbox.
type Account struct {
	Username string
	Digest   string
	// Mailbox holds messages that were not pushed live, oldest first.
	Mailbox []Message
}

// ConversationKey identifies the conversation between two users independent of who
// sent a message: A is always lexicographically smaller or equal to B.
type ConversationKey struct {
	A string
	B string
}

// NewConversationKey returns the normalized key for the pair (x, y).
func NewConversationKey(x, y string) ConversationKey {
	if y < x {
		x, y = y, x
	}
	return ConversationKey{A: x, B: y}
}

// Contains returns true if username is one of the two endpoints.
func (k ConversationKey) Contains(username string) bool {
	return k.A == username || k.B == username
}

// removeIDs removes all messages whose id is in ids and returns the remaining messages
// together with the removed ones. The input slice is not modified.
func removeIDs(msgs []Message, ids map[uint64]struct{}) (kept, removed []Message) {
	for _, m := range msgs {
		if _, ok := ids[m.ID]; ok {
			removed = append(removed, m)
		} else {
			kept = append(kept, m)
		}
	}
	return kept, removed
}

// idSet converts ids to a set.
func idSet(ids []uint64) map[uint64]struct{} {
	set := make(map[uint64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// messageIDs returns the ids of msgs in order.
func messageIDs(msgs []Message) []uint64 {
	ids := make([]uint64, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	return ids
}
