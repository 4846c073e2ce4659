package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"PleaPipeline/internal/domain"
	"PleaPipeline/internal/ports"
)

var dailyColumns = []string{
	"date", "prayer_text", "verse_text", "verse_reference",
	"chapter_text", "chapter_reference", "bible_version", "generated_at",
}

// DailyContentRepository keeps one devotional row per date.
type DailyContentRepository struct {
	db *sqlx.DB
}

var _ ports.DailyContentRepository = (*DailyContentRepository)(nil)

// NewDailyContentRepository wires a sqlx.DB implementation.
func NewDailyContentRepository(db *sqlx.DB) *DailyContentRepository {
	return &DailyContentRepository{db: db}
}

// Recent returns up to limit rows, newest date first.
func (r *DailyContentRepository) Recent(ctx context.Context, limit int) ([]domain.DailyContent, error) {
	b := psql.Select(dailyColumns...).From("daily_content").OrderBy("date DESC")
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build recent: %w", err)
	}

	var out []domain.DailyContent
	if err := r.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("select recent daily content: %w", err)
	}
	return out, nil
}

// Get loads the row for date.
func (r *DailyContentRepository) Get(ctx context.Context, date string) (domain.DailyContent, error) {
	query, args, err := psql.Select(dailyColumns...).From("daily_content").Where(sq.Eq{"date": date}).ToSql()
	if err != nil {
		return domain.DailyContent{}, fmt.Errorf("build select: %w", err)
	}

	var out domain.DailyContent
	if err := r.db.GetContext(ctx, &out, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.DailyContent{}, fmt.Errorf("daily content %s: %w", date, domain.ErrNotFound)
		}
		return domain.DailyContent{}, fmt.Errorf("select daily content %s: %w", date, err)
	}
	return out, nil
}

// Upsert replaces the row for content.Date.
func (r *DailyContentRepository) Upsert(ctx context.Context, content domain.DailyContent) error {
	query, args, err := psql.Insert("daily_content").
		Columns(dailyColumns...).
		Values(
			content.Date,
			content.PrayerText,
			content.VerseText,
			content.VerseReference,
			content.ChapterText,
			content.ChapterReference,
			content.BibleVersion,
			content.GeneratedAt,
		).
		Suffix(`ON CONFLICT (date) DO UPDATE
              SET prayer_text = EXCLUDED.prayer_text,
                  verse_text = EXCLUDED.verse_text,
                  verse_reference = EXCLUDED.verse_reference,
                  chapter_text = EXCLUDED.chapter_text,
                  chapter_reference = EXCLUDED.chapter_reference,
                  bible_version = EXCLUDED.bible_version,
                  generated_at = EXCLUDED.generated_at`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build upsert: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert daily content %s: %w", content.Date, err)
	}
	return nil
}
