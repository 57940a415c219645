// Package sqlstore is a GORM-backed message and profile store for running the
// relay without the hosted platform.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/Tyrowin/gochat-relay/internal/chat"
)

// ErrForbidden is returned when a credential tries to write on behalf of
// another user.
var ErrForbidden = errors.New("credential does not match message author")

// MessageRecord is a persisted chat message.
type MessageRecord struct {
	Seq       uint64    `gorm:"primaryKey;autoIncrement"`
	ID        string    `gorm:"size:36;uniqueIndex;not null"`
	Content   string    `gorm:"not null"`
	UserID    string    `gorm:"size:64;not null;index"`
	RoomID    string    `gorm:"size:128;not null;index:idx_messages_room_created"`
	CreatedAt time.Time `gorm:"not null;index:idx_messages_room_created"`
}

// TableName returns the table name for MessageRecord.
func (MessageRecord) TableName() string {
	return "messages"
}

// Profile maps a user id to a display name.
type Profile struct {
	ID       string `gorm:"primaryKey;size:64"`
	Username string `gorm:"size:64;not null"`
}

// TableName returns the table name for Profile.
func (Profile) TableName() string {
	return "profiles"
}

// Store implements chat.Store and jwtauth.ProfileResolver.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// Open opens (creating if needed) the SQLite database at path and migrates it.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	return New(db)
}

// New wraps an existing connection and migrates the schema.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&MessageRecord{}, &Profile{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Insert stores msg. The credential must belong to the author.
func (s *Store) Insert(ctx context.Context, cred chat.Credential, msg chat.NewMessage) (chat.Message, error) {
	if cred.UserID == "" || cred.UserID != msg.UserID {
		return chat.Message{}, fmt.Errorf("%w: %w", chat.ErrStoreWrite, ErrForbidden)
	}

	record := MessageRecord{
		ID:        uuid.New().String(),
		Content:   msg.Content,
		UserID:    msg.UserID,
		RoomID:    msg.RoomID,
		CreatedAt: s.now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return chat.Message{}, fmt.Errorf("%w: create message: %w", chat.ErrStoreWrite, err)
	}

	username, err := s.Username(ctx, record.UserID)
	if err != nil || username == "" {
		username = chat.DefaultUsername
	}
	return record.toMessage(username), nil
}

type messageRow struct {
	ID        string
	Content   string
	UserID    string
	RoomID    string
	CreatedAt time.Time
	Username  sql.NullString
}

// Recent returns the newest limit messages of roomID, oldest first.
func (s *Store) Recent(ctx context.Context, _ chat.Credential, roomID string, limit int) ([]chat.Message, error) {
	if limit <= 0 {
		return []chat.Message{}, nil
	}

	var rows []messageRow
	err := s.db.WithContext(ctx).
		Table("messages").
		Select("messages.id, messages.content, messages.user_id, messages.room_id, messages.created_at, profiles.username").
		Joins("LEFT JOIN profiles ON profiles.id = messages.user_id").
		Where("messages.room_id = ?", roomID).
		Order("messages.created_at DESC").
		Order("messages.seq DESC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("%w: query room %q: %w", chat.ErrStoreRead, roomID, err)
	}

	messages := make([]chat.Message, len(rows))
	for i, row := range rows {
		username := chat.DefaultUsername
		if row.Username.Valid && strings.TrimSpace(row.Username.String) != "" {
			username = row.Username.String
		}
		record := MessageRecord{
			ID:        row.ID,
			Content:   row.Content,
			UserID:    row.UserID,
			RoomID:    row.RoomID,
			CreatedAt: row.CreatedAt,
		}
		messages[len(rows)-1-i] = record.toMessage(username)
	}
	return messages, nil
}

// Username returns the profile name for userID, or "" when there is none.
func (s *Store) Username(ctx context.Context, userID string) (string, error) {
	var profile Profile
	err := s.db.WithContext(ctx).First(&profile, "id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("find profile: %w", err)
	}
	return profile.Username, nil
}

// UpsertProfile creates or renames a profile.
func (s *Store) UpsertProfile(ctx context.Context, userID, username string) error {
	profile := Profile{ID: userID, Username: username}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"username"}),
	}).Create(&profile).Error
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

func (r MessageRecord) toMessage(username string) chat.Message {
	return chat.Message{
		ID:        r.ID,
		Content:   r.Content,
		UserID:    r.UserID,
		RoomID:    r.RoomID,
		CreatedAt: r.CreatedAt,
		User: chat.Author{
			ID:       r.UserID,
			Username: username,
		},
	}
}
