package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"PleaPipeline/internal/domain"
	"PleaPipeline/internal/infrastructure/memstore"
)

type rejectionRecorder struct {
	mu    sync.Mutex
	items []domain.ContentItem
}

func (r *rejectionRecorder) NotifyRejection(_ context.Context, item domain.ContentItem) (domain.DeliveryReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, item)
	return domain.DeliveryReport{Type: domain.NotifyRejection}, nil
}

type gateFixture struct {
	store      *memstore.Store
	classifier *classifierMock
	chat       *chatMock
	rejections *rejectionRecorder
	gate       *Gate
}

func newGateFixture(t *testing.T) *gateFixture {
	t.Helper()
	f := &gateFixture{
		store:      memstore.New(nil),
		classifier: &classifierMock{},
		chat:       &chatMock{},
		rejections: &rejectionRecorder{},
	}
	f.gate = NewGate(GateDeps{
		Content:    f.store,
		Classifier: f.classifier,
		Filter:     f.chat,
		Notifier:   f.rejections,
	})
	createContent(t, f.store, domain.ContentItem{Ref: domain.ContentRef{Kind: domain.KindPlea, ID: "parent-plea"}, Status: domain.StatusApproved})
	createContent(t, f.store, domain.ContentItem{Ref: domain.ContentRef{Kind: domain.KindPost, ID: "parent-post"}, Status: domain.StatusApproved})
	return f
}

func refFor(kind domain.ContentKind, id string) domain.ContentRef {
	ref := domain.ContentRef{Kind: kind, ID: id}
	switch kind {
	case domain.KindEncouragement:
		ref.ParentID = "parent-plea"
	case domain.KindComment:
		ref.ParentID = "parent-post"
	}
	return ref
}

func TestModerateEmptyTextPolicy(t *testing.T) {
	cases := []struct {
		kind   domain.ContentKind
		status domain.Status
		reason domain.RejectionReason
	}{
		{domain.KindPlea, domain.StatusApproved, domain.ReasonNone},
		{domain.KindEncouragement, domain.StatusRejected, domain.ReasonEmpty},
		{domain.KindPost, domain.StatusRejected, domain.ReasonEmpty},
		{domain.KindComment, domain.StatusRejected, domain.ReasonEmpty},
	}

	for _, tc := range cases {
		t.Run(string(tc.kind), func(t *testing.T) {
			f := newGateFixture(t)
			ref := refFor(tc.kind, "blank")
			createContent(t, f.store, domain.ContentItem{Ref: ref, AuthorID: "u1", Title: "  ", Body: "\n\t"})

			out, err := f.gate.Moderate(context.Background(), ref)
			require.NoError(t, err)
			assert.Equal(t, tc.status, out.Status)
			assert.Equal(t, tc.reason, out.Reason)
			assert.True(t, out.Transitioned)

			f.classifier.AssertNotCalled(t, "Flagged", mock.Anything, mock.Anything)
			f.chat.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)
			assert.Equal(t, tc.status, getContent(t, f.store, ref).Status)
		})
	}
}

func TestBlankCommentLeavesCommentCount(t *testing.T) {
	f := newGateFixture(t)
	ref := refFor(domain.KindComment, "c1")
	createContent(t, f.store, domain.ContentItem{Ref: ref, AuthorID: "u1", Body: ""})

	out, err := f.gate.Moderate(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRejected, out.Status)

	post := getContent(t, f.store, domain.ContentRef{Kind: domain.KindPost, ID: "parent-post"})
	assert.Equal(t, 0, post.CommentCount)
	assert.Empty(t, f.rejections.items, "comment rejections are not notified")
}

func TestClassifierFlagSkipsFilter(t *testing.T) {
	for _, kind := range domain.Kinds() {
		t.Run(string(kind), func(t *testing.T) {
			f := newGateFixture(t)
			ref := refFor(kind, "flagged")
			createContent(t, f.store, domain.ContentItem{Ref: ref, AuthorID: "u1", Body: "something awful"})
			f.classifier.On("Flagged", mock.Anything, "something awful").Return(true, nil).Once()

			out, err := f.gate.Moderate(context.Background(), ref)
			require.NoError(t, err)
			assert.Equal(t, domain.StatusRejected, out.Status)
			assert.Equal(t, domain.ReasonClassifier, out.Reason)

			f.classifier.AssertNumberOfCalls(t, "Flagged", 1)
			f.chat.AssertNumberOfCalls(t, "Complete", 0)
		})
	}
}

func TestClassifierFailureFailsOpen(t *testing.T) {
	f := newGateFixture(t)
	ref := refFor(domain.KindPost, "p1")
	createContent(t, f.store, domain.ContentItem{Ref: ref, AuthorID: "u1", Title: "Thankful", Body: "Good week"})

	f.classifier.On("Flagged", mock.Anything, "Thankful\n\nGood week").Return(false, errors.New("503")).Once()
	f.chat.On("Complete", mock.Anything, mock.MatchedBy(func(p string) bool {
		return strings.Contains(p, "Thankful\n\nGood week") && !strings.Contains(p, "{message}")
	})).Return("ALLOW", nil).Once()

	out, err := f.gate.Moderate(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, out.Status)
	f.chat.AssertExpectations(t)
}

func TestFilterFailsClosed(t *testing.T) {
	cases := []struct {
		name    string
		verdict string
		err     error
		status  domain.Status
	}{
		{name: "allow", verdict: "ALLOW", status: domain.StatusApproved},
		{name: "allow with newline", verdict: "ALLOW\n", status: domain.StatusApproved},
		{name: "allow padded", verdict: " ALLOW\n", status: domain.StatusApproved},
		{name: "allow with period", verdict: "ALLOW.", status: domain.StatusRejected},
		{name: "lowercase", verdict: "allow", status: domain.StatusRejected},
		{name: "block", verdict: "BLOCK", status: domain.StatusRejected},
		{name: "chatty", verdict: "ALLOW, this looks fine", status: domain.StatusRejected},
		{name: "empty", verdict: "", status: domain.StatusRejected},
		{name: "error", err: context.DeadlineExceeded, status: domain.StatusRejected},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newGateFixture(t)
			ref := refFor(domain.KindEncouragement, "e1")
			createContent(t, f.store, domain.ContentItem{Ref: ref, AuthorID: "u2", Body: "You are not alone"})
			f.classifier.On("Flagged", mock.Anything, mock.Anything).Return(false, nil)
			f.chat.On("Complete", mock.Anything, mock.Anything).Return(tc.verdict, tc.err).Once()

			out, err := f.gate.Moderate(context.Background(), ref)
			require.NoError(t, err)
			assert.Equal(t, tc.status, out.Status)
			if tc.status == domain.StatusRejected {
				assert.Equal(t, domain.ReasonFilter, out.Reason)
			}
		})
	}
}

func TestModerateAlreadySettledIsNoop(t *testing.T) {
	f := newGateFixture(t)
	ref := refFor(domain.KindPlea, "done")
	createContent(t, f.store, domain.ContentItem{Ref: ref, AuthorID: "u1", Body: "hi", Status: domain.StatusRejected})

	out, err := f.gate.Moderate(context.Background(), ref)
	require.NoError(t, err)
	assert.True(t, out.Skipped)
	assert.Equal(t, domain.StatusRejected, out.Status)
	f.classifier.AssertNotCalled(t, "Flagged", mock.Anything, mock.Anything)
	assert.Empty(t, f.rejections.items)
}

func TestModerateMissingItem(t *testing.T) {
	f := newGateFixture(t)
	_, err := f.gate.Moderate(context.Background(), refFor(domain.KindPost, "ghost"))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCommentApprovalCountsOnceUnderConcurrency(t *testing.T) {
	f := newGateFixture(t)
	ref := refFor(domain.KindComment, "c1")
	createContent(t, f.store, domain.ContentItem{Ref: ref, AuthorID: "u1", Body: "Praying for you"})
	f.classifier.On("Flagged", mock.Anything, mock.Anything).Return(false, nil)
	f.chat.On("Complete", mock.Anything, mock.Anything).Return("ALLOW", nil)

	var wg sync.WaitGroup
	outcomes := make([]Outcome, 4)
	for i := range outcomes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := f.gate.Moderate(context.Background(), ref)
			assert.NoError(t, err)
			outcomes[i] = out
		}(i)
	}
	wg.Wait()

	transitions := 0
	for _, out := range outcomes {
		assert.Equal(t, domain.StatusApproved, out.Status)
		if out.Transitioned {
			transitions++
		}
	}
	assert.Equal(t, 1, transitions)

	post := getContent(t, f.store, domain.ContentRef{Kind: domain.KindPost, ID: "parent-post"})
	assert.Equal(t, 1, post.CommentCount)
}

func TestPleaModerationInitialisesUnreadCount(t *testing.T) {
	f := newGateFixture(t)
	ref := refFor(domain.KindPlea, "p1")
	createContent(t, f.store, domain.ContentItem{Ref: ref, AuthorID: "u1", Body: "I'm struggling today", UnreadEncouragementCount: 3})
	f.classifier.On("Flagged", mock.Anything, mock.Anything).Return(false, nil)
	f.chat.On("Complete", mock.Anything, mock.Anything).Return("ALLOW", nil)

	_, err := f.gate.Moderate(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, 0, getContent(t, f.store, ref).UnreadEncouragementCount)
}

func TestRejectionNotificationKinds(t *testing.T) {
	cases := map[domain.ContentKind]bool{
		domain.KindPlea:          true,
		domain.KindPost:          true,
		domain.KindEncouragement: false,
		domain.KindComment:       false,
	}

	for kind, notified := range cases {
		t.Run(string(kind), func(t *testing.T) {
			f := newGateFixture(t)
			ref := refFor(kind, "x")
			createContent(t, f.store, domain.ContentItem{Ref: ref, AuthorID: "u1", Body: "buy now at example.com"})
			f.classifier.On("Flagged", mock.Anything, mock.Anything).Return(false, nil)
			f.chat.On("Complete", mock.Anything, mock.Anything).Return("BLOCK", nil)

			_, err := f.gate.Moderate(context.Background(), ref)
			require.NoError(t, err)
			_, err = f.gate.Moderate(context.Background(), ref)
			require.NoError(t, err)

			if notified {
				require.Len(t, f.rejections.items, 1)
				assert.Equal(t, "buy now at example.com", f.rejections.items[0].Text())
			} else {
				assert.Empty(t, f.rejections.items)
			}
		})
	}
}

func TestStoredFilteringPromptIsUsed(t *testing.T) {
	f := newGateFixture(t)
	require.NoError(t, f.store.PutText(context.Background(), "prompts.filtering.post", "Custom rules. Text: {message}"))
	f.gate = NewGate(GateDeps{
		Content:    f.store,
		Classifier: f.classifier,
		Filter:     f.chat,
		Prompts:    promptStoreFor(f.store),
	})

	ref := refFor(domain.KindPost, "p")
	createContent(t, f.store, domain.ContentItem{Ref: ref, AuthorID: "u1", Body: "hello"})
	f.classifier.On("Flagged", mock.Anything, mock.Anything).Return(false, nil)
	f.chat.On("Complete", mock.Anything, "Custom rules. Text: hello").Return("ALLOW", nil).Once()

	out, err := f.gate.Moderate(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, out.Status)
	f.chat.AssertExpectations(t)
}
