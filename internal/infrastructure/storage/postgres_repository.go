package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"PleaPipeline/internal/domain"
	"PleaPipeline/internal/ports"
)

type contentTable struct {
	name          string
	parentColumn  string
	counterColumn string
}

var contentTables = map[domain.ContentKind]contentTable{
	domain.KindPlea:          {name: "pleas", counterColumn: "unread_encouragement_count"},
	domain.KindEncouragement: {name: "encouragements", parentColumn: "plea_id"},
	domain.KindPost:          {name: "posts", counterColumn: "comment_count"},
	domain.KindComment:       {name: "comments", parentColumn: "post_id"},
}

func tableFor(ref domain.ContentRef) (contentTable, error) {
	if err := ref.Validate(); err != nil {
		return contentTable{}, err
	}
	return contentTables[ref.Kind], nil
}

func (t contentTable) columns() []string {
	parent := "'' AS parent_id"
	if t.parentColumn != "" {
		parent = t.parentColumn + " AS parent_id"
	}
	counter := "0 AS counter"
	if t.counterColumn != "" {
		counter = t.counterColumn + " AS counter"
	}
	return []string{"id", parent, "author_id", "title", "body", "status", "rejection_reason", counter, "created_at"}
}

func (t contentTable) where(b sq.UpdateBuilder, ref domain.ContentRef) sq.UpdateBuilder {
	b = b.Where(sq.Eq{"id": ref.ID})
	if t.parentColumn != "" {
		b = b.Where(sq.Eq{t.parentColumn: ref.ParentID})
	}
	return b
}

type contentRow struct {
	ID              string    `db:"id"`
	ParentID        string    `db:"parent_id"`
	AuthorID        string    `db:"author_id"`
	Title           string    `db:"title"`
	Body            string    `db:"body"`
	Status          string    `db:"status"`
	RejectionReason string    `db:"rejection_reason"`
	Counter         int       `db:"counter"`
	CreatedAt       time.Time `db:"created_at"`
}

func (r contentRow) item(kind domain.ContentKind) domain.ContentItem {
	item := domain.ContentItem{
		Ref:             domain.ContentRef{Kind: kind, ID: r.ID, ParentID: r.ParentID},
		AuthorID:        r.AuthorID,
		Title:           r.Title,
		Body:            r.Body,
		CreatedAt:       r.CreatedAt,
		Status:          domain.Status(r.Status),
		RejectionReason: domain.RejectionReason(r.RejectionReason),
	}
	switch kind {
	case domain.KindPlea:
		item.UnreadEncouragementCount = r.Counter
	case domain.KindPost:
		item.CommentCount = r.Counter
	}
	return item
}

// ContentRepository persists pleas, encouragements, posts and comments.
type ContentRepository struct {
	db *sqlx.DB
}

var _ ports.ContentRepository = (*ContentRepository)(nil)

// NewContentRepository wires a sqlx.DB implementation.
func NewContentRepository(db *sqlx.DB) *ContentRepository {
	return &ContentRepository{db: db}
}

// Get loads one content item.
func (r *ContentRepository) Get(ctx context.Context, ref domain.ContentRef) (domain.ContentItem, error) {
	table, err := tableFor(ref)
	if err != nil {
		return domain.ContentItem{}, err
	}

	b := psql.Select(table.columns()...).From(table.name).Where(sq.Eq{"id": ref.ID})
	if table.parentColumn != "" {
		b = b.Where(sq.Eq{table.parentColumn: ref.ParentID})
	}
	query, args, err := b.ToSql()
	if err != nil {
		return domain.ContentItem{}, fmt.Errorf("build select: %w", err)
	}

	var row contentRow
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ContentItem{}, fmt.Errorf("%s: %w", ref, domain.ErrNotFound)
		}
		return domain.ContentItem{}, fmt.Errorf("select %s: %w", ref, err)
	}
	return row.item(ref.Kind), nil
}

// Settle writes the terminal status guarded on the row still being
// non-terminal. A comment approval bumps its post's comment_count in the same
// transaction, so a repeated approval cannot count twice.
func (r *ContentRepository) Settle(ctx context.Context, ref domain.ContentRef, s domain.Settlement) (bool, error) {
	if !s.Status.Terminal() {
		return false, fmt.Errorf("settle %s: %s is not terminal", ref, s.Status)
	}
	table, err := tableFor(ref)
	if err != nil {
		return false, err
	}

	update := psql.Update(table.name).
		Set("status", string(s.Status)).
		Set("rejection_reason", string(s.Reason))
	if s.InitUnreadEncouragements && ref.Kind == domain.KindPlea {
		update = update.Set("unread_encouragement_count", 0)
	}
	update = table.where(update, ref).
		Where(sq.NotEq{"status": []string{string(domain.StatusApproved), string(domain.StatusRejected)}})

	query, args, err := update.ToSql()
	if err != nil {
		return false, fmt.Errorf("build settle: %w", err)
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin settle: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("settle %s: %w", ref, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("settle %s rows: %w", ref, err)
	}
	if affected == 0 {
		var exists bool
		if err := tx.GetContext(ctx, &exists, "SELECT EXISTS (SELECT 1 FROM "+table.name+" WHERE id = $1)", ref.ID); err != nil {
			return false, fmt.Errorf("check %s: %w", ref, err)
		}
		if !exists {
			return false, fmt.Errorf("%s: %w", ref, domain.ErrNotFound)
		}
		return false, nil
	}

	if s.IncrementParentComments && ref.Kind == domain.KindComment {
		if _, err := tx.ExecContext(ctx, `UPDATE posts SET comment_count = comment_count + 1 WHERE id = $1`, ref.ParentID); err != nil {
			return false, fmt.Errorf("increment comment count of post %s: %w", ref.ParentID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit settle %s: %w", ref, err)
	}
	return true, nil
}

// MarkEncouragementCounted flips unread_counted and increments the plea
// counter in one transaction.
func (r *ContentRepository) MarkEncouragementCounted(ctx context.Context, ref domain.ContentRef) (bool, error) {
	if ref.Kind != domain.KindEncouragement {
		return false, fmt.Errorf("%s is not an encouragement", ref)
	}
	if err := ref.Validate(); err != nil {
		return false, err
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin count: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `UPDATE encouragements SET unread_counted = TRUE
		WHERE id = $1 AND plea_id = $2 AND status = 'approved' AND NOT unread_counted`, ref.ID, ref.ParentID)
	if err != nil {
		return false, fmt.Errorf("flag %s: %w", ref, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("flag %s rows: %w", ref, err)
	}
	if affected == 0 {
		return false, nil
	}

	res, err = tx.ExecContext(ctx, `UPDATE pleas SET unread_encouragement_count = unread_encouragement_count + 1 WHERE id = $1`, ref.ParentID)
	if err != nil {
		return false, fmt.Errorf("increment plea %s: %w", ref.ParentID, err)
	}
	if affected, err = res.RowsAffected(); err != nil {
		return false, fmt.Errorf("increment plea %s rows: %w", ref.ParentID, err)
	}
	if affected == 0 {
		return false, fmt.Errorf("plea %s: %w", ref.ParentID, domain.ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit count %s: %w", ref, err)
	}
	return true, nil
}
