package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned by repositories when a document does not exist.
var ErrNotFound = errors.New("not found")

// ContentKind enumerates the moderated user-content variants.
type ContentKind string

const (
	KindPlea          ContentKind = "plea"
	KindEncouragement ContentKind = "encouragement"
	KindPost          ContentKind = "post"
	KindComment       ContentKind = "comment"
)

// Kinds lists every moderated kind in a stable order.
func Kinds() []ContentKind {
	return []ContentKind{KindPlea, KindEncouragement, KindPost, KindComment}
}

// Valid reports whether k is a known content kind.
func (k ContentKind) Valid() bool {
	switch k {
	case KindPlea, KindEncouragement, KindPost, KindComment:
		return true
	}
	return false
}

// HasParent reports whether items of this kind live under a parent document.
func (k ContentKind) HasParent() bool {
	return k == KindEncouragement || k == KindComment
}

// Status is the moderation state of a content item.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Terminal reports whether the status can no longer change.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// RejectionReason records which filter layer rejected an item.
type RejectionReason string

const (
	ReasonNone       RejectionReason = ""
	ReasonEmpty      RejectionReason = "empty"
	ReasonClassifier RejectionReason = "classifier"
	ReasonFilter     RejectionReason = "filter"
)

// ContentRef addresses one content document. ParentID holds the plea id for
// encouragements and the post id for comments.
type ContentRef struct {
	Kind     ContentKind `json:"kind"`
	ID       string      `json:"id"`
	ParentID string      `json:"parentId,omitempty"`
}

func (r ContentRef) String() string {
	if r.ParentID != "" {
		return fmt.Sprintf("%s/%s/%s", r.Kind, r.ParentID, r.ID)
	}
	return fmt.Sprintf("%s/%s", r.Kind, r.ID)
}

// Validate checks that the reference is complete for its kind.
func (r ContentRef) Validate() error {
	if !r.Kind.Valid() {
		return fmt.Errorf("unknown content kind %q", r.Kind)
	}
	if r.ID == "" {
		return fmt.Errorf("%s reference without id", r.Kind)
	}
	if r.Kind.HasParent() && r.ParentID == "" {
		return fmt.Errorf("%s %s has no parent id", r.Kind, r.ID)
	}
	return nil
}

// ContentItem is a plea, encouragement, post or comment.
type ContentItem struct {
	Ref             ContentRef
	AuthorID        string
	Title           string
	Body            string
	CreatedAt       time.Time
	Status          Status
	RejectionReason RejectionReason

	// Plea only.
	UnreadEncouragementCount int
	// Post only.
	CommentCount int
}

// Text joins title and body the way the filters see them.
func (c ContentItem) Text() string {
	title := strings.TrimSpace(c.Title)
	body := strings.TrimSpace(c.Body)
	switch {
	case title == "":
		return body
	case body == "":
		return title
	default:
		return title + "\n\n" + body
	}
}

// Settlement is the terminal write produced by moderation.
type Settlement struct {
	Status Status
	Reason RejectionReason
	// InitUnreadEncouragements zeroes the plea counter on first moderation.
	InitUnreadEncouragements bool
	// IncrementParentComments bumps the parent post's commentCount in the
	// same write as the transition.
	IncrementParentComments bool
}
