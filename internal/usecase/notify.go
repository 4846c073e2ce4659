package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"PleaPipeline/internal/domain"
	"PleaPipeline/internal/metrics"
	"PleaPipeline/internal/ports"
)

// DefaultChunkSize is the largest batch the push service accepts.
const DefaultChunkSize = 100

const previewRunes = 120

// DispatcherDeps wires the notification dispatcher.
type DispatcherDeps struct {
	Users   ports.UserRepository
	Content ports.ContentRepository
	Threads ports.ThreadRepository
	Sender  ports.PushSender

	ChunkSize    int
	ChunkTimeout time.Duration
	Logger       *slog.Logger
}

// Dispatcher resolves audiences and delivers push notifications. Delivery is
// best effort: push failures are reported and logged, never returned.
type Dispatcher struct {
	users        ports.UserRepository
	content      ports.ContentRepository
	threads      ports.ThreadRepository
	sender       ports.PushSender
	chunkSize    int
	chunkTimeout time.Duration
	logger       *slog.Logger
}

// NewDispatcher constructs the dispatcher.
func NewDispatcher(deps DispatcherDeps) *Dispatcher {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	size := deps.ChunkSize
	if size <= 0 || size > DefaultChunkSize {
		size = DefaultChunkSize
	}
	return &Dispatcher{
		users:        deps.Users,
		content:      deps.Content,
		threads:      deps.Threads,
		sender:       deps.Sender,
		chunkSize:    size,
		chunkTimeout: deps.ChunkTimeout,
		logger:       logger,
	}
}

// NotifyNewPlea fans out an approved plea to every opted-in user except its author.
func (d *Dispatcher) NotifyNewPlea(ctx context.Context, plea domain.ContentItem) (domain.DeliveryReport, error) {
	audience, err := d.users.ListPleaAudience(ctx, plea.AuthorID)
	if err != nil {
		return domain.DeliveryReport{}, fmt.Errorf("list plea audience: %w", err)
	}

	data := map[string]string{"type": string(domain.NotifyNewPlea), "pleaId": plea.Ref.ID}
	body := preview(plea.Text())
	if body == "" {
		body = "Someone in the community is asking for prayer."
	}

	messages := make([]domain.PushMessage, 0, len(audience))
	for _, u := range audience {
		if u.UserID == plea.AuthorID || !u.Preferences.Pleas || !u.Reachable() {
			continue
		}
		messages = append(messages, newPush(u.PushToken, "Someone needs prayer", body, data))
	}
	return d.Deliver(ctx, domain.NotifyNewPlea, messages), nil
}

// NotifyNewEncouragement counts an approved encouragement on its plea and
// tells the plea author. Reads happen before the count so a failed load is
// redelivered with the encouragement still uncounted. Redeliveries for an
// encouragement already counted send nothing.
func (d *Dispatcher) NotifyNewEncouragement(ctx context.Context, enc domain.ContentItem) (domain.DeliveryReport, error) {
	report := domain.DeliveryReport{Type: domain.NotifyNewEncouragement}

	plea, err := d.content.Get(ctx, domain.ContentRef{Kind: domain.KindPlea, ID: enc.Ref.ParentID})
	if err != nil {
		return report, fmt.Errorf("load plea %s: %w", enc.Ref.ParentID, err)
	}

	var (
		author    domain.UserProfile
		hasAuthor bool
	)
	if plea.AuthorID != "" && plea.AuthorID != enc.AuthorID {
		author, hasAuthor, err = d.profile(ctx, plea.AuthorID)
		if err != nil {
			return report, err
		}
	}

	counted, err := d.content.MarkEncouragementCounted(ctx, enc.Ref)
	if err != nil {
		return report, fmt.Errorf("count encouragement %s: %w", enc.Ref, err)
	}
	if !counted {
		d.logger.Debug("encouragement already counted", "ref", enc.Ref.String())
		return report, nil
	}

	if !hasAuthor || !author.Preferences.Encouragements || !author.Reachable() {
		return report, nil
	}

	data := map[string]string{
		"type":            string(domain.NotifyNewEncouragement),
		"pleaId":          plea.Ref.ID,
		"encouragementId": enc.Ref.ID,
	}
	msg := newPush(author.PushToken, "You received encouragement", preview(enc.Text()), data)
	return d.Deliver(ctx, domain.NotifyNewEncouragement, []domain.PushMessage{msg}), nil
}

// NotifyNewMessage tells the other participant of the thread.
func (d *Dispatcher) NotifyNewMessage(ctx context.Context, threadID, messageID string) (domain.DeliveryReport, error) {
	report := domain.DeliveryReport{Type: domain.NotifyNewMessage}

	msg, err := d.threads.GetMessage(ctx, threadID, messageID)
	if err != nil {
		return report, fmt.Errorf("load message %s/%s: %w", threadID, messageID, err)
	}
	thread, err := d.threads.Get(ctx, threadID)
	if err != nil {
		return report, fmt.Errorf("load thread %s: %w", threadID, err)
	}

	recipientID, ok := thread.OtherParticipant(msg.SenderID)
	if !ok {
		d.logger.Debug("thread has no other participant", "thread_id", threadID)
		return report, nil
	}
	recipient, ok, err := d.profile(ctx, recipientID)
	if err != nil || !ok {
		return report, err
	}
	if !recipient.Preferences.Messages || !recipient.Reachable() {
		return report, nil
	}

	data := map[string]string{
		"type":      string(domain.NotifyNewMessage),
		"threadId":  threadID,
		"messageId": messageID,
	}
	push := newPush(recipient.PushToken, "New message", preview(msg.Text), data)
	return d.Deliver(ctx, domain.NotifyNewMessage, []domain.PushMessage{push}), nil
}

// NotifyRejection tells the author their content was not published. It
// ignores preference flags.
func (d *Dispatcher) NotifyRejection(ctx context.Context, item domain.ContentItem) (domain.DeliveryReport, error) {
	report := domain.DeliveryReport{Type: domain.NotifyRejection}

	author, ok, err := d.profile(ctx, item.AuthorID)
	if err != nil || !ok {
		return report, err
	}
	if !author.Reachable() {
		return report, nil
	}

	data := map[string]string{
		"type":         string(domain.NotifyRejection),
		"kind":         string(item.Ref.Kind),
		"id":           item.Ref.ID,
		"originalText": item.Text(),
	}
	title := fmt.Sprintf("Your %s was not published", item.Ref.Kind)
	body := "It didn't meet our community guidelines. Tap to review what you wrote."
	return d.Deliver(ctx, domain.NotifyRejection, []domain.PushMessage{newPush(author.PushToken, title, body, data)}), nil
}

// Deliver submits messages in chunks of at most ChunkSize, one call per chunk.
func (d *Dispatcher) Deliver(ctx context.Context, kind domain.NotificationType, messages []domain.PushMessage) domain.DeliveryReport {
	report := domain.DeliveryReport{Type: kind, Recipients: len(messages)}
	metrics.RecordRecipients(string(kind), len(messages))
	if len(messages) == 0 {
		return report
	}

	for index, start := 0, 0; start < len(messages); index, start = index+1, start+d.chunkSize {
		end := start + d.chunkSize
		if end > len(messages) {
			end = len(messages)
		}
		chunk := messages[start:end]

		result := domain.ChunkResult{Index: index, Size: len(chunk)}
		callCtx, cancel := withTimeout(ctx, d.chunkTimeout)
		result.Tickets, result.Err = d.sender.Send(callCtx, chunk)
		cancel()

		metrics.RecordPushChunk(string(kind), result.Err == nil)
		switch {
		case result.Err != nil:
			d.logger.Error("push chunk failed", "type", kind, "chunk", index, "size", len(chunk), "stage", "push", "error", result.Err)
		case result.TicketFailures() > 0:
			for i, t := range result.Tickets {
				if t.Failed() && i < len(chunk) {
					d.logger.Warn("push message refused", "type", kind, "chunk", index, "token", chunk[i].To, "error_code", t.ErrorCode, "message", t.Message)
				}
			}
		}
		report.Chunks = append(report.Chunks, result)
	}

	d.logger.Info("notifications sent", "type", kind, "recipients", report.Recipients, "chunks", len(report.Chunks), "failed_chunks", report.FailedChunks())
	return report
}

func (d *Dispatcher) profile(ctx context.Context, userID string) (domain.UserProfile, bool, error) {
	if userID == "" {
		return domain.UserProfile{}, false, nil
	}
	profile, err := d.users.Get(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		d.logger.Debug("no notification profile", "user_id", userID)
		return domain.UserProfile{}, false, nil
	}
	if err != nil {
		return domain.UserProfile{}, false, fmt.Errorf("load profile %s: %w", userID, err)
	}
	return profile, true, nil
}

func newPush(token, title, body string, data map[string]string) domain.PushMessage {
	return domain.PushMessage{To: token, Sound: "default", Title: title, Body: body, Data: data}
}

func preview(text string) string {
	if utf8.RuneCountInString(text) <= previewRunes {
		return text
	}
	runes := []rune(text)
	return string(runes[:previewRunes-1]) + "…"
}
