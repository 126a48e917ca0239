package persist

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ValentinKolb/dChat/lib/chat"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// --------------------------------------------------------------------------
// Table layout
// --------------------------------------------------------------------------

// metaRow holds the scalar part of the snapshot, the table has at most one row.
type metaRow struct {
	ID            uint `gorm:"primaryKey"`
	NextMessageID uint64
}

func (metaRow) TableName() string { return "snapshot_meta" }

type accountRow struct {
	Position int    `gorm:"primaryKey;autoIncrement:false"` // creation order, starting at 1
	Username string `gorm:"uniqueIndex;not null"`
	Digest   string `gorm:"not null"`
}

func (accountRow) TableName() string { return "snapshot_accounts" }

const (
	ownerMailbox      = "mailbox"
	ownerConversation = "conversation"
)

// messageRow is a message either in a mailbox (Owner set) or in a conversation (ConvA and
// ConvB set). Rows are written in snapshot order, RowID preserves that order.
type messageRow struct {
	RowID     uint   `gorm:"primaryKey;autoIncrement"`
	Kind      string `gorm:"index;not null"`
	Owner     string
	ConvA     string
	ConvB     string
	MessageID uint64
	Sender    string
	Content   string
	Timestamp string
}

func (messageRow) TableName() string { return "snapshot_messages" }

// --------------------------------------------------------------------------
// Store Implementation
// --------------------------------------------------------------------------

type sqliteStore struct {
	db *gorm.DB
}

// NewSQLiteStore opens (or creates) the SQLite database at path and migrates its schema.
func NewSQLiteStore(path string) (ISnapshotStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite database %s: %w", path, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("open sqlite database %s: %w", path, err)
	}
	// the manager serializes writers anyway, and the pragmas below are per connection
	sqlDB.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
		"PRAGMA busy_timeout=5000;",
	} {
		if err := db.Exec(pragma).Error; err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("sqlite %s: %w", pragma, err)
		}
	}

	if err := db.AutoMigrate(&metaRow{}, &accountRow{}, &messageRow{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate sqlite schema: %w", err)
	}
	return &sqliteStore{db: db}, nil
}

// Save replaces the content of all tables inside a single transaction.
func (s *sqliteStore) Save(snap *chat.Snapshot) error {
	accounts := make([]accountRow, 0, len(snap.Users))
	var messages []messageRow

	for i, u := range snap.Users {
		accounts = append(accounts, accountRow{Position: i + 1, Username: u.Username, Digest: u.Digest})
		for _, m := range u.Mailbox {
			messages = append(messages, newMessageRow(ownerMailbox, u.Username, "", "", m))
		}
	}
	for _, c := range snap.Conversations {
		for _, m := range c.Messages {
			messages = append(messages, newMessageRow(ownerConversation, "", c.Users[0], c.Users[1], m))
		}
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		for _, table := range []string{"snapshot_messages", "snapshot_accounts", "snapshot_meta"} {
			if err := tx.Exec("DELETE FROM " + table).Error; err != nil {
				return fmt.Errorf("clear %s: %w", table, err)
			}
		}
		if err := tx.Create(&metaRow{ID: 1, NextMessageID: snap.NextMessageID}).Error; err != nil {
			return fmt.Errorf("write meta: %w", err)
		}
		if len(accounts) > 0 {
			if err := tx.CreateInBatches(accounts, 500).Error; err != nil {
				return fmt.Errorf("write accounts: %w", err)
			}
		}
		if len(messages) > 0 {
			if err := tx.CreateInBatches(messages, 500).Error; err != nil {
				return fmt.Errorf("write messages: %w", err)
			}
		}
		return nil
	})
}

func (s *sqliteStore) Load() (*chat.Snapshot, bool, error) {
	var meta metaRow
	err := s.db.First(&meta, 1).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read meta: %w", err)
	}

	var accounts []accountRow
	if err := s.db.Order("position").Find(&accounts).Error; err != nil {
		return nil, false, fmt.Errorf("read accounts: %w", err)
	}
	var messages []messageRow
	if err := s.db.Order("row_id").Find(&messages).Error; err != nil {
		return nil, false, fmt.Errorf("read messages: %w", err)
	}

	snap := &chat.Snapshot{
		NextMessageID: meta.NextMessageID,
		Users:         make([]chat.AccountRecord, 0, len(accounts)),
		Conversations: []chat.ConversationRecord{},
	}
	userIdx := make(map[string]int, len(accounts))
	for i, a := range accounts {
		userIdx[a.Username] = i
		snap.Users = append(snap.Users, chat.AccountRecord{Username: a.Username, Digest: a.Digest})
	}

	convIdx := make(map[[2]string]int)
	for _, row := range messages {
		msg := chat.Message{ID: row.MessageID, Sender: row.Sender, Content: row.Content, Timestamp: row.Timestamp}
		switch row.Kind {
		case ownerMailbox:
			i, ok := userIdx[row.Owner]
			if !ok {
				return nil, false, fmt.Errorf("mailbox message %d of unknown user %q", row.MessageID, row.Owner)
			}
			snap.Users[i].Mailbox = append(snap.Users[i].Mailbox, msg)
		case ownerConversation:
			key := [2]string{row.ConvA, row.ConvB}
			i, ok := convIdx[key]
			if !ok {
				i = len(snap.Conversations)
				convIdx[key] = i
				snap.Conversations = append(snap.Conversations, chat.ConversationRecord{Users: key})
			}
			snap.Conversations[i].Messages = append(snap.Conversations[i].Messages, msg)
		default:
			return nil, false, fmt.Errorf("message %d has unknown kind %q", row.MessageID, row.Kind)
		}
	}
	return snap, true, nil
}

func (s *sqliteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func newMessageRow(kind, owner, convA, convB string, m chat.Message) messageRow {
	return messageRow{
		Kind:      kind,
		Owner:     owner,
		ConvA:     convA,
		ConvB:     convB,
		MessageID: m.ID,
		Sender:    m.Sender,
		Content:   m.Content,
		Timestamp: m.Timestamp,
	}
}
