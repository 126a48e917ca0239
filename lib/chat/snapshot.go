package chat

// Snapshot is the complete chat state as it is persisted to disk. Users are kept in
// creation order so that ListAccounts keeps its order across restarts.
type Snapshot struct {
	NextMessageID uint64               `msgpack:"next_message_id"`
	Users         []AccountRecord      `msgpack:"users"`
	Conversations []ConversationRecord `msgpack:"conversations"`
}

// AccountRecord is the persisted form of an Account.
type AccountRecord struct {
	Username string    `msgpack:"username"`
	Digest   string    `msgpack:"digest"`
	Mailbox  []Message `msgpack:"mailbox"`
}

// ConversationRecord is the persisted form of a conversation. Users holds the normalized
// pair (smaller name first).
type ConversationRecord struct {
	Users    [2]string `msgpack:"users"`
	Messages []Message `msgpack:"messages"`
}

// Empty returns true if the snapshot holds neither users nor conversations.
func (s *Snapshot) Empty() bool {
	return s == nil || (len(s.Users) == 0 && len(s.Conversations) == 0)
}
