package usecase

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"PleaPipeline/internal/domain"
	"PleaPipeline/internal/events"
	"PleaPipeline/internal/infrastructure/memstore"
	"PleaPipeline/internal/prompt"
)

type classifierMock struct{ mock.Mock }

func (m *classifierMock) Flagged(ctx context.Context, text string) (bool, error) {
	args := m.Called(ctx, text)
	return args.Bool(0), args.Error(1)
}

type chatMock struct{ mock.Mock }

func (m *chatMock) Complete(ctx context.Context, prompt string) (string, error) {
	args := m.Called(ctx, prompt)
	return args.String(0), args.Error(1)
}

func (m *chatMock) CompleteJSON(ctx context.Context, prompt string) (string, error) {
	args := m.Called(ctx, prompt)
	return args.String(0), args.Error(1)
}

type scriptureFunc func(ctx context.Context, query string) (string, error)

func (f scriptureFunc) Chapter(ctx context.Context, query string) (string, error) {
	return f(ctx, query)
}

// pushRecorder captures every delivery call.
type pushRecorder struct {
	mu    sync.Mutex
	calls [][]domain.PushMessage
	err   error
}

func (p *pushRecorder) Send(_ context.Context, msgs []domain.PushMessage) ([]domain.PushTicket, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, append([]domain.PushMessage(nil), msgs...))
	if p.err != nil {
		return nil, p.err
	}
	tickets := make([]domain.PushTicket, len(msgs))
	for i := range tickets {
		tickets[i] = domain.PushTicket{Status: "ok", ID: fmt.Sprintf("ticket-%d", i)}
	}
	return tickets, nil
}

func (p *pushRecorder) tokens() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, call := range p.calls {
		for _, m := range call {
			out = append(out, m.To)
		}
	}
	return out
}

func (p *pushRecorder) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

// eventQueue stands in for the hosted trigger system: it collects change
// events and delivers them synchronously through a bus.
type eventQueue struct {
	mu     sync.Mutex
	events []domain.Event
}

func (q *eventQueue) Publish(_ context.Context, e domain.Event) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.events = append(q.events, e)
	return nil
}

func (q *eventQueue) next() (domain.Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.events) == 0 {
		return domain.Event{}, false
	}
	e := q.events[0]
	q.events = q.events[1:]
	return e, true
}

// drain delivers queued events until none are left. Each event is delivered
// twice when redeliver is set.
func (q *eventQueue) drain(t *testing.T, bus *events.Bus, redeliver bool) {
	t.Helper()
	for i := 0; i < 100; i++ {
		e, ok := q.next()
		if !ok {
			return
		}
		require.NoError(t, bus.Dispatch(context.Background(), e))
		if redeliver {
			require.NoError(t, bus.Dispatch(context.Background(), e))
		}
	}
	t.Fatal("event queue did not drain")
}

func token(userID string) string {
	return "ExponentPushToken[" + userID + "]"
}

func addUser(t *testing.T, store *memstore.Store, userID string, prefs domain.NotificationPreferences) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.Users().UpdatePreferences(ctx, userID, prefs))
	require.NoError(t, store.Users().RegisterPushToken(ctx, userID, token(userID)))
}

func createContent(t *testing.T, store *memstore.Store, item domain.ContentItem) domain.ContentItem {
	t.Helper()
	created, err := store.CreateContent(context.Background(), item)
	require.NoError(t, err)
	return created
}

func getContent(t *testing.T, store *memstore.Store, ref domain.ContentRef) domain.ContentItem {
	t.Helper()
	item, err := store.Get(context.Background(), ref)
	require.NoError(t, err)
	return item
}

func promptStoreFor(store *memstore.Store) *prompt.Store {
	return prompt.NewStore(store, nil)
}
