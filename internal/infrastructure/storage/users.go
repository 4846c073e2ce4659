package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"PleaPipeline/internal/domain"
	"PleaPipeline/internal/ports"
)

type profileRow struct {
	UserID      string         `db:"user_id"`
	PushToken   sql.NullString `db:"push_token"`
	Preferences []byte         `db:"notification_preferences"`
}

func (r profileRow) profile() (domain.UserProfile, error) {
	flags := map[string]bool{}
	if len(r.Preferences) > 0 {
		if err := json.Unmarshal(r.Preferences, &flags); err != nil {
			return domain.UserProfile{}, fmt.Errorf("decode preferences of %s: %w", r.UserID, err)
		}
	}
	return domain.UserProfile{
		UserID:      r.UserID,
		PushToken:   r.PushToken.String,
		Preferences: domain.PreferencesFromMap(flags),
	}, nil
}

var profileColumns = []string{"user_id", "push_token", "notification_preferences"}

// UserRepository stores push tokens and notification preferences.
type UserRepository struct {
	db *sqlx.DB
}

var _ ports.UserRepository = (*UserRepository)(nil)

// NewUserRepository wires a sqlx.DB implementation.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// Get loads one profile.
func (r *UserRepository) Get(ctx context.Context, userID string) (domain.UserProfile, error) {
	query, args, err := psql.Select(profileColumns...).From("user_profiles").Where(sq.Eq{"user_id": userID}).ToSql()
	if err != nil {
		return domain.UserProfile{}, fmt.Errorf("build select: %w", err)
	}

	var row profileRow
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.UserProfile{}, fmt.Errorf("user %s: %w", userID, domain.ErrNotFound)
		}
		return domain.UserProfile{}, fmt.Errorf("select user %s: %w", userID, err)
	}
	return row.profile()
}

// ListPleaAudience selects users with a token whose pleas flag is not false.
func (r *UserRepository) ListPleaAudience(ctx context.Context, excludeUserID string) ([]domain.UserProfile, error) {
	b := psql.Select(profileColumns...).
		From("user_profiles").
		Where("push_token IS NOT NULL AND push_token <> ''").
		Where("COALESCE((notification_preferences->>'pleas')::boolean, TRUE)").
		OrderBy("user_id")
	if excludeUserID != "" {
		b = b.Where(sq.NotEq{"user_id": excludeUserID})
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build audience: %w", err)
	}

	var rows []profileRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("select audience: %w", err)
	}

	out := make([]domain.UserProfile, 0, len(rows))
	for _, row := range rows {
		p, err := row.profile()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// RegisterPushToken upserts the token; new profiles start with every flag on.
func (r *UserRepository) RegisterPushToken(ctx context.Context, userID, token string) error {
	if userID == "" {
		return fmt.Errorf("register push token: empty user id")
	}
	defaults, err := json.Marshal(domain.DefaultPreferences().Map())
	if err != nil {
		return fmt.Errorf("encode preferences: %w", err)
	}

	query, args, err := psql.Insert("user_profiles").
		Columns("user_id", "push_token", "notification_preferences").
		Values(userID, strings.TrimSpace(token), string(defaults)).
		Suffix("ON CONFLICT (user_id) DO UPDATE SET push_token = EXCLUDED.push_token, updated_at = NOW()").
		ToSql()
	if err != nil {
		return fmt.Errorf("build upsert: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("register push token for %s: %w", userID, err)
	}
	return nil
}

// UpdatePreferences replaces the flags of a profile, creating it when absent.
func (r *UserRepository) UpdatePreferences(ctx context.Context, userID string, prefs domain.NotificationPreferences) error {
	if userID == "" {
		return fmt.Errorf("update preferences: empty user id")
	}
	encoded, err := json.Marshal(prefs.Map())
	if err != nil {
		return fmt.Errorf("encode preferences: %w", err)
	}

	query, args, err := psql.Insert("user_profiles").
		Columns("user_id", "notification_preferences").
		Values(userID, string(encoded)).
		Suffix("ON CONFLICT (user_id) DO UPDATE SET notification_preferences = EXCLUDED.notification_preferences, updated_at = NOW()").
		ToSql()
	if err != nil {
		return fmt.Errorf("build upsert: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update preferences for %s: %w", userID, err)
	}
	return nil
}
