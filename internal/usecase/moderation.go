package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"PleaPipeline/internal/domain"
	"PleaPipeline/internal/metrics"
	"PleaPipeline/internal/ports"
	"PleaPipeline/internal/prompt"
)

// FilterVerdictAllow is the only chat-filter answer that lets content through.
// The reply is compared case-sensitively after trimming surrounding
// whitespace, so " ALLOW\n" passes while "allow" and "ALLOW." reject.
const FilterVerdictAllow = "ALLOW"

// FilteringPrompts resolves the chat-filter template for a content kind.
type FilteringPrompts interface {
	FilteringPrompt(ctx context.Context, kind domain.ContentKind) prompt.Template
}

// RejectionNotifier tells an author their content was not published.
type RejectionNotifier interface {
	NotifyRejection(ctx context.Context, item domain.ContentItem) (domain.DeliveryReport, error)
}

// GateDeps wires the moderation stages.
type GateDeps struct {
	Content    ports.ContentRepository
	Classifier ports.ModerationClassifier
	Filter     ports.ChatClient
	Prompts    FilteringPrompts
	Notifier   RejectionNotifier

	ClassifierTimeout time.Duration
	FilterTimeout     time.Duration
	Logger            *slog.Logger
}

// Gate settles pending content as approved or rejected.
type Gate struct {
	content           ports.ContentRepository
	classifier        ports.ModerationClassifier
	filter            ports.ChatClient
	prompts           FilteringPrompts
	notifier          RejectionNotifier
	classifierTimeout time.Duration
	filterTimeout     time.Duration
	logger            *slog.Logger
}

// Outcome describes one Moderate call.
type Outcome struct {
	Ref    domain.ContentRef
	Status domain.Status
	Reason domain.RejectionReason
	// Transitioned is false when another delivery settled the item first.
	Transitioned bool
	// Skipped is true when the item was already terminal on read.
	Skipped bool
}

// NewGate constructs the moderation gate.
func NewGate(deps GateDeps) *Gate {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	prompts := deps.Prompts
	if prompts == nil {
		prompts = prompt.NewStore(nil, logger)
	}
	return &Gate{
		content:           deps.Content,
		classifier:        deps.Classifier,
		filter:            deps.Filter,
		prompts:           prompts,
		notifier:          deps.Notifier,
		classifierTimeout: deps.ClassifierTimeout,
		filterTimeout:     deps.FilterTimeout,
		logger:            logger,
	}
}

// Moderate reads the item, decides its terminal status and writes it. Only
// storage failures are returned; upstream failures follow the stage policy.
func (g *Gate) Moderate(ctx context.Context, ref domain.ContentRef) (Outcome, error) {
	item, err := g.content.Get(ctx, ref)
	if err != nil {
		return Outcome{}, fmt.Errorf("load %s: %w", ref, err)
	}
	if item.Status.Terminal() {
		g.logger.Debug("already settled", "ref", ref.String(), "status", item.Status)
		return Outcome{Ref: ref, Status: item.Status, Reason: item.RejectionReason, Skipped: true}, nil
	}

	status, reason := g.decide(ctx, item)

	settlement := domain.Settlement{
		Status:                   status,
		Reason:                   reason,
		InitUnreadEncouragements: ref.Kind == domain.KindPlea,
		IncrementParentComments:  ref.Kind == domain.KindComment && status == domain.StatusApproved,
	}
	transitioned, err := g.content.Settle(ctx, ref, settlement)
	if err != nil {
		return Outcome{}, fmt.Errorf("settle %s: %w", ref, err)
	}

	out := Outcome{Ref: ref, Status: status, Reason: reason, Transitioned: transitioned}
	if !transitioned {
		g.logger.Debug("settled concurrently", "ref", ref.String())
		return out, nil
	}

	metrics.RecordModeration(string(ref.Kind), string(status), string(reason))
	g.logger.Info("content moderated", "ref", ref.String(), "status", status, "reason", reason)

	if status == domain.StatusRejected && (ref.Kind == domain.KindPlea || ref.Kind == domain.KindPost) {
		g.notifyRejection(ctx, item)
	}
	return out, nil
}

func (g *Gate) decide(ctx context.Context, item domain.ContentItem) (domain.Status, domain.RejectionReason) {
	text := item.Text()
	if text == "" {
		if item.Ref.Kind == domain.KindPlea {
			return domain.StatusApproved, domain.ReasonNone
		}
		return domain.StatusRejected, domain.ReasonEmpty
	}

	if g.classifierFlagged(ctx, item.Ref, text) {
		return domain.StatusRejected, domain.ReasonClassifier
	}
	if g.filterFlagged(ctx, item.Ref, text) {
		return domain.StatusRejected, domain.ReasonFilter
	}
	return domain.StatusApproved, domain.ReasonNone
}

// classifierFlagged fails open.
func (g *Gate) classifierFlagged(ctx context.Context, ref domain.ContentRef, text string) bool {
	if g.classifier == nil {
		return false
	}
	callCtx, cancel := withTimeout(ctx, g.classifierTimeout)
	defer cancel()

	flagged, err := g.classifier.Flagged(callCtx, text)
	if err != nil {
		metrics.RecordStageFailure("classifier")
		g.logger.Warn("classifier unavailable, continuing", "ref", ref.String(), "stage", "classifier", "error", err)
		return false
	}
	return flagged
}

// filterFlagged fails closed.
func (g *Gate) filterFlagged(ctx context.Context, ref domain.ContentRef, text string) bool {
	if g.filter == nil {
		g.logger.Error("chat filter not configured, rejecting", "ref", ref.String(), "stage", "filter")
		return true
	}

	tmpl := g.prompts.FilteringPrompt(ctx, ref.Kind)
	rendered, err := tmpl.Render(map[string]string{prompt.PlaceholderMessage: text})
	if err != nil {
		g.logger.Error("render filtering prompt", "ref", ref.String(), "stage", "filter", "error", err)
		return true
	}

	callCtx, cancel := withTimeout(ctx, g.filterTimeout)
	defer cancel()

	verdict, err := g.filter.Complete(callCtx, rendered)
	if err != nil {
		metrics.RecordStageFailure("filter")
		g.logger.Warn("chat filter unavailable, rejecting", "ref", ref.String(), "stage", "filter", "error", err)
		return true
	}
	if strings.TrimSpace(verdict) != FilterVerdictAllow {
		g.logger.Debug("chat filter blocked", "ref", ref.String(), "verdict", verdict)
		return true
	}
	return false
}

func (g *Gate) notifyRejection(ctx context.Context, item domain.ContentItem) {
	if g.notifier == nil {
		return
	}
	report, err := g.notifier.NotifyRejection(ctx, item)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			g.logger.Debug("author has no profile", "ref", item.Ref.String())
			return
		}
		g.logger.Error("rejection notification", "ref", item.Ref.String(), "stage", "push", "error", err)
		return
	}
	if failed := report.FailedChunks(); failed > 0 {
		g.logger.Warn("rejection notification not delivered", "ref", item.Ref.String(), "failed_chunks", failed)
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
