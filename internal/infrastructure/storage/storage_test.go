package storage

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PleaPipeline/internal/domain"
)

func setupMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	sqlxDB := sqlx.NewDb(db, "sqlmock")
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		sqlxDB.Close()
	})

	return sqlxDB, mock
}

var contentCols = []string{"id", "parent_id", "author_id", "title", "body", "status", "rejection_reason", "counter", "created_at"}

func TestContentGet(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewContentRepository(db)
	created := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT (.+) unread_encouragement_count AS counter(.+) FROM pleas WHERE id = \$1`).
		WithArgs("p1").
		WillReturnRows(sqlmock.NewRows(contentCols).
			AddRow("p1", "", "u1", "Title", "Body", "approved", "", 4, created))

	item, err := repo.Get(context.Background(), domain.ContentRef{Kind: domain.KindPlea, ID: "p1"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, item.Status)
	assert.Equal(t, 4, item.UnreadEncouragementCount)
	assert.Equal(t, "Title\n\nBody", item.Text())
	assert.Equal(t, created, item.CreatedAt)
}

func TestContentGetScopesChildrenToParent(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewContentRepository(db)

	mock.ExpectQuery(`SELECT (.+) FROM comments WHERE id = \$1 AND post_id = \$2`).
		WithArgs("c1", "post").
		WillReturnRows(sqlmock.NewRows(contentCols))

	_, err := repo.Get(context.Background(), domain.ContentRef{Kind: domain.KindComment, ID: "c1", ParentID: "post"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestContentGetRejectsIncompleteRef(t *testing.T) {
	db, _ := setupMockDB(t)
	_, err := NewContentRepository(db).Get(context.Background(), domain.ContentRef{Kind: domain.KindComment, ID: "c1"})
	assert.Error(t, err)
}

func TestSettleApprovedCommentIncrementsPost(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewContentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE comments SET status = \$1, rejection_reason = \$2 WHERE id = \$3 AND post_id = \$4 AND status NOT IN \(\$5,\$6\)`).
		WithArgs("approved", "", "c1", "post", "approved", "rejected").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE posts SET comment_count = comment_count \+ 1 WHERE id = \$1`).
		WithArgs("post").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ok, err := repo.Settle(context.Background(),
		domain.ContentRef{Kind: domain.KindComment, ID: "c1", ParentID: "post"},
		domain.Settlement{Status: domain.StatusApproved, IncrementParentComments: true})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSettleAlreadyTerminalWritesNothing(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewContentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE comments SET status`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT EXISTS \(SELECT 1 FROM comments WHERE id = \$1\)`).
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	ok, err := repo.Settle(context.Background(),
		domain.ContentRef{Kind: domain.KindComment, ID: "c1", ParentID: "post"},
		domain.Settlement{Status: domain.StatusApproved, IncrementParentComments: true})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSettleMissingItem(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewContentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE posts SET status`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT EXISTS`).WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectRollback()

	_, err := repo.Settle(context.Background(), domain.ContentRef{Kind: domain.KindPost, ID: "x"},
		domain.Settlement{Status: domain.StatusRejected, Reason: domain.ReasonFilter})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSettlePleaInitialisesCounter(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewContentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE pleas SET status = \$1, rejection_reason = \$2, unread_encouragement_count = \$3 WHERE id = \$4`).
		WithArgs("rejected", "classifier", 0, "p1", "approved", "rejected").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ok, err := repo.Settle(context.Background(), domain.ContentRef{Kind: domain.KindPlea, ID: "p1"},
		domain.Settlement{Status: domain.StatusRejected, Reason: domain.ReasonClassifier, InitUnreadEncouragements: true})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSettleRollsBackOnIncrementFailure(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewContentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE comments SET status`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE posts SET comment_count`).WillReturnError(errors.New("deadlock detected"))
	mock.ExpectRollback()

	_, err := repo.Settle(context.Background(),
		domain.ContentRef{Kind: domain.KindComment, ID: "c1", ParentID: "post"},
		domain.Settlement{Status: domain.StatusApproved, IncrementParentComments: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deadlock")
}

func TestMarkEncouragementCounted(t *testing.T) {
	ref := domain.ContentRef{Kind: domain.KindEncouragement, ID: "e1", ParentID: "p1"}

	t.Run("first time", func(t *testing.T) {
		db, mock := setupMockDB(t)
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE encouragements SET unread_counted = TRUE`).
			WithArgs("e1", "p1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`UPDATE pleas SET unread_encouragement_count = unread_encouragement_count \+ 1 WHERE id = \$1`).
			WithArgs("p1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		ok, err := NewContentRepository(db).MarkEncouragementCounted(context.Background(), ref)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("already counted", func(t *testing.T) {
		db, mock := setupMockDB(t)
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE encouragements SET unread_counted = TRUE`).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		ok, err := NewContentRepository(db).MarkEncouragementCounted(context.Background(), ref)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestUserGetDefaultsMissingFlags(t *testing.T) {
	db, mock := setupMockDB(t)
	mock.ExpectQuery(`SELECT user_id, push_token, notification_preferences FROM user_profiles WHERE user_id = \$1`).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "push_token", "notification_preferences"}).
			AddRow("u1", "ExponentPushToken[abc]", []byte(`{"messages": false}`)))

	profile, err := NewUserRepository(db).Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.False(t, profile.Preferences.Messages)
	assert.True(t, profile.Preferences.Pleas)
	assert.True(t, profile.Reachable())
}

func TestUserGetMissing(t *testing.T) {
	db, mock := setupMockDB(t)
	mock.ExpectQuery(`FROM user_profiles`).WillReturnRows(sqlmock.NewRows([]string{"user_id", "push_token", "notification_preferences"}))

	_, err := NewUserRepository(db).Get(context.Background(), "ghost")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListPleaAudience(t *testing.T) {
	db, mock := setupMockDB(t)
	mock.ExpectQuery(`FROM user_profiles WHERE push_token IS NOT NULL (.+) AND user_id <> \$1 ORDER BY user_id`).
		WithArgs("author").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "push_token", "notification_preferences"}).
			AddRow("a", "ExponentPushToken[a]", []byte(`{}`)).
			AddRow("b", nil, []byte(`{"pleas": true}`)))

	audience, err := NewUserRepository(db).ListPleaAudience(context.Background(), "author")
	require.NoError(t, err)
	require.Len(t, audience, 2)
	assert.Equal(t, "ExponentPushToken[a]", audience[0].PushToken)
	assert.Equal(t, "", audience[1].PushToken)
}

func TestRegisterPushTokenUpserts(t *testing.T) {
	db, mock := setupMockDB(t)
	mock.ExpectExec(`INSERT INTO user_profiles \(user_id,push_token,notification_preferences\) VALUES \(\$1,\$2,\$3\) ON CONFLICT \(user_id\) DO UPDATE SET push_token = EXCLUDED.push_token`).
		WithArgs("u1", "ExpoPushToken[x]", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, NewUserRepository(db).RegisterPushToken(context.Background(), "u1", " ExpoPushToken[x] "))
	assert.Error(t, NewUserRepository(db).RegisterPushToken(context.Background(), "", "ExpoPushToken[x]"))
}

func TestUpdatePreferences(t *testing.T) {
	db, mock := setupMockDB(t)
	mock.ExpectExec(`INSERT INTO user_profiles \(user_id,notification_preferences\)`).
		WithArgs("u1", `{"accountability":true,"encouragements":true,"general":true,"messages":false,"pleas":true}`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	prefs := domain.DefaultPreferences()
	prefs.Messages = false
	require.NoError(t, NewUserRepository(db).UpdatePreferences(context.Background(), "u1", prefs))
}

func TestThreadRepository(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewThreadRepository(db)

	mock.ExpectQuery(`SELECT id, participant_ids FROM threads WHERE id = \$1`).
		WithArgs("t1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "participant_ids"}).AddRow("t1", "{a,b}"))
	thread, err := repo.Get(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, thread.ParticipantIDs)

	mock.ExpectQuery(`FROM messages WHERE thread_id = \$1 AND id = \$2`).
		WithArgs("t1", "m1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "thread_id", "sender_id", "text", "created_at"}).
			AddRow("m1", "t1", "a", "hello", time.Now()))
	msg, err := repo.GetMessage(context.Background(), "t1", "m1")
	require.NoError(t, err)
	assert.Equal(t, "a", msg.SenderID)

	mock.ExpectQuery(`FROM threads`).WillReturnRows(sqlmock.NewRows([]string{"id", "participant_ids"}))
	_, err = repo.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

var dailyCols = []string{"date", "prayer_text", "verse_text", "verse_reference", "chapter_text", "chapter_reference", "bible_version", "generated_at"}

func TestDailyRecent(t *testing.T) {
	db, mock := setupMockDB(t)
	now := time.Now().UTC()
	mock.ExpectQuery(`SELECT (.+) FROM daily_content ORDER BY date DESC LIMIT 7`).
		WillReturnRows(sqlmock.NewRows(dailyCols).
			AddRow("2024-05-02", "p2", "v2", "John 1:2", "c2", "John 1", "ESV", now).
			AddRow("2024-05-01", "p1", "v1", "John 1:1", "c1", "John 1", "ESV", now))

	recent, err := NewDailyContentRepository(db).Recent(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "2024-05-02", recent[0].Date)
	assert.Equal(t, "John 1:1", recent[1].VerseReference)
}

func TestDailyUpsert(t *testing.T) {
	db, mock := setupMockDB(t)
	content := domain.DailyContent{
		Date: "2024-05-03", PrayerText: "p", VerseText: "v", VerseReference: "John 1:1",
		ChapterText: "c", ChapterReference: "John 1", BibleVersion: "ESV", GeneratedAt: time.Now(),
	}
	mock.ExpectExec(`INSERT INTO daily_content (.+) ON CONFLICT \(date\) DO UPDATE`).
		WithArgs("2024-05-03", "p", "v", "John 1:1", "c", "John 1", "ESV", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, NewDailyContentRepository(db).Upsert(context.Background(), content))
}

func TestDailyGetMissing(t *testing.T) {
	db, mock := setupMockDB(t)
	mock.ExpectQuery(`FROM daily_content WHERE date = \$1`).
		WithArgs("2024-01-01").
		WillReturnRows(sqlmock.NewRows(dailyCols))

	_, err := NewDailyContentRepository(db).Get(context.Background(), "2024-01-01")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestConfigRepository(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewConfigRepository(db)

	mock.ExpectQuery(`SELECT value FROM pipeline_config WHERE key = \$1`).
		WithArgs("prompts.generation").
		WillReturnRows(sqlmock.NewRows([]string{"value"}))
	_, err := repo.GetText(context.Background(), "prompts.generation")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	mock.ExpectExec(`INSERT INTO pipeline_config`).
		WithArgs("prompts.generation", "text").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.PutText(context.Background(), "prompts.generation", "text"))
}

func TestSchemaQuotesChannel(t *testing.T) {
	ddl := Schema("plea_events")
	assert.NotContains(t, ddl, "{{channel}}")
	assert.Contains(t, ddl, "pg_notify('plea_events'")
	assert.Equal(t, 3, strings.Count(ddl, "pg_notify('plea_events'"))
}

func TestMigrate(t *testing.T) {
	db, mock := setupMockDB(t)
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS pleas`).WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, Migrate(context.Background(), db, "plea_events"))
}

func TestDecodeNotification(t *testing.T) {
	e, err := DecodeNotification(`{"type":"content.created","kind":"comment","id":"c1","parent_id":"p1","status":"pending"}`)
	require.NoError(t, err)
	assert.Equal(t, domain.EventContentCreated, e.Type)
	assert.Equal(t, domain.ContentRef{Kind: domain.KindComment, ID: "c1", ParentID: "p1"}, e.Content)
	assert.Equal(t, domain.StatusPending, e.Status)
	assert.NotEmpty(t, e.ID)

	e, err = DecodeNotification(`{"type":"content.status_changed","kind":"plea","id":"p","parent_id":"","status":"approved","previous":"pending"}`)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, e.Previous)
	assert.Equal(t, domain.StatusApproved, e.Status)

	e, err = DecodeNotification(`{"type":"message.created","thread_id":"t","message_id":"m"}`)
	require.NoError(t, err)
	assert.Equal(t, "m", e.MessageID)

	for _, bad := range []string{`nope`, `{"type":"x"}`, `{"type":"content.created","kind":"comment","id":"c"}`, `{"type":"message.created"}`} {
		_, err := DecodeNotification(bad)
		assert.Error(t, err, bad)
	}
}
