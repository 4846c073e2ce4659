package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"PleaPipeline/internal/domain"
	"PleaPipeline/internal/ports"
)

// ThreadRepository reads threads and their messages.
type ThreadRepository struct {
	db *sqlx.DB
}

var _ ports.ThreadRepository = (*ThreadRepository)(nil)

// NewThreadRepository wires a sqlx.DB implementation.
func NewThreadRepository(db *sqlx.DB) *ThreadRepository {
	return &ThreadRepository{db: db}
}

// Get loads a thread with its participants.
func (r *ThreadRepository) Get(ctx context.Context, threadID string) (domain.Thread, error) {
	var row struct {
		ID           string         `db:"id"`
		Participants pq.StringArray `db:"participant_ids"`
	}
	err := r.db.GetContext(ctx, &row, `SELECT id, participant_ids FROM threads WHERE id = $1`, threadID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Thread{}, fmt.Errorf("thread %s: %w", threadID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Thread{}, fmt.Errorf("select thread %s: %w", threadID, err)
	}
	return domain.Thread{ID: row.ID, ParticipantIDs: []string(row.Participants)}, nil
}

// GetMessage loads one message of a thread.
func (r *ThreadRepository) GetMessage(ctx context.Context, threadID, messageID string) (domain.Message, error) {
	var row struct {
		ID        string    `db:"id"`
		ThreadID  string    `db:"thread_id"`
		SenderID  string    `db:"sender_id"`
		Text      string    `db:"text"`
		CreatedAt time.Time `db:"created_at"`
	}
	err := r.db.GetContext(ctx, &row,
		`SELECT id, thread_id, sender_id, text, created_at FROM messages WHERE thread_id = $1 AND id = $2`,
		threadID, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Message{}, fmt.Errorf("message %s/%s: %w", threadID, messageID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Message{}, fmt.Errorf("select message %s/%s: %w", threadID, messageID, err)
	}
	return domain.Message{
		ID:        row.ID,
		ThreadID:  row.ThreadID,
		SenderID:  row.SenderID,
		Text:      row.Text,
		CreatedAt: row.CreatedAt,
	}, nil
}
