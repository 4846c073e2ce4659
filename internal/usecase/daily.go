package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"PleaPipeline/internal/domain"
	"PleaPipeline/internal/metrics"
	"PleaPipeline/internal/ports"
	"PleaPipeline/internal/prompt"
)

// DefaultHistorySize is how many recent days are listed as off limits.
const DefaultHistorySize = 7

const (
	fallbackReference = "Philippians 4:6-7"
	fallbackVerse     = "do not be anxious about anything, but in everything by prayer and supplication with thanksgiving let your requests be made known to God. And the peace of God, which surpasses all understanding, will guard your hearts and your minds in Christ Jesus."
	fallbackPrayer    = "Lord, we bring you the worries we carry today. Teach us to pray instead of fret, and to thank you even before we see the answer. Guard our hearts and minds with the peace that only you can give, and help us share that peace with someone who needs it. Amen."
)

var referenceExpr = regexp.MustCompile(`^\s*((?:[1-3]\s+)?[A-Za-z]+(?:\s+[A-Za-z]+)*)\s+(\d+)\s*:\s*(\d+)(?:\s*[-–]\s*(\d+))?\s*$`)

// GenerationPrompts resolves the devotional base prompt.
type GenerationPrompts interface {
	GenerationPrompt(ctx context.Context) prompt.Template
}

// GeneratorDeps wires the daily content generator.
type GeneratorDeps struct {
	Daily     ports.DailyContentRepository
	Chat      ports.ChatClient
	Scripture ports.ScriptureSource
	Prompts   GenerationPrompts

	HistorySize       int
	CompletionTimeout time.Duration
	ScriptureTimeout  time.Duration
	BibleVersion      string
	// ReaderURL links to an external reader; {query} is replaced with the chapter.
	ReaderURL string
	Clock     func() time.Time
	Logger    *slog.Logger
}

// Generator produces one devotional record per date.
type Generator struct {
	daily             ports.DailyContentRepository
	chat              ports.ChatClient
	scripture         ports.ScriptureSource
	prompts           GenerationPrompts
	historySize       int
	completionTimeout time.Duration
	scriptureTimeout  time.Duration
	version           string
	readerURL         string
	clock             func() time.Time
	logger            *slog.Logger
}

// NewGenerator constructs the generator.
func NewGenerator(deps GeneratorDeps) *Generator {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	g := &Generator{
		daily:             deps.Daily,
		chat:              deps.Chat,
		scripture:         deps.Scripture,
		prompts:           deps.Prompts,
		historySize:       deps.HistorySize,
		completionTimeout: deps.CompletionTimeout,
		scriptureTimeout:  deps.ScriptureTimeout,
		version:           deps.BibleVersion,
		readerURL:         deps.ReaderURL,
		clock:             deps.Clock,
		logger:            logger,
	}
	if g.prompts == nil {
		g.prompts = prompt.NewStore(nil, logger)
	}
	if g.historySize <= 0 {
		g.historySize = DefaultHistorySize
	}
	if g.version == "" {
		g.version = "ESV"
	}
	if g.readerURL == "" {
		g.readerURL = "https://www.esv.org/{query}/"
	}
	if g.clock == nil {
		g.clock = time.Now
	}
	return g
}

// Generate builds and stores the record for date. Upstream failures degrade
// to fallback content; only the final write can fail.
func (g *Generator) Generate(ctx context.Context, date time.Time) (domain.DailyContent, error) {
	key := domain.DateKey(date)
	logger := g.logger.With("date", key)

	recent, err := g.daily.Recent(ctx, g.historySize)
	if err != nil {
		logger.Warn("load recent daily content, generating without history", "stage", "history", "error", err)
		recent = nil
	}

	instruction := BuildGenerationPrompt(g.prompts.GenerationPrompt(ctx), recent)

	outcome := "generated"
	devotional, ref, err := g.complete(ctx, instruction)
	if err != nil {
		metrics.RecordStageFailure("completion")
		logger.Warn("devotional generation failed, using fallback", "stage", "completion", "error", err)
		devotional, ref = fallbackDevotional()
		outcome = "fallback"
	}

	chapterText, err := g.chapter(ctx, ref)
	if err != nil {
		metrics.RecordStageFailure("scripture")
		logger.Warn("chapter fetch failed, using placeholder", "stage", "scripture", "chapter", ref.ChapterQuery(), "error", err)
		chapterText = g.placeholderChapter(ref)
		if outcome == "generated" {
			outcome = "placeholder"
		}
	}

	content := domain.DailyContent{
		Date:             key,
		PrayerText:       devotional.PrayerContent,
		VerseText:        devotional.Verse,
		VerseReference:   devotional.Reference,
		ChapterText:      chapterText,
		ChapterReference: ref.ChapterQuery(),
		BibleVersion:     g.version,
		GeneratedAt:      g.clock().UTC(),
	}
	if err := g.daily.Upsert(ctx, content); err != nil {
		return domain.DailyContent{}, fmt.Errorf("store daily content %s: %w", key, err)
	}

	metrics.RecordDailyGeneration(outcome)
	logger.Info("daily content stored", "reference", content.VerseReference, "outcome", outcome)
	return content, nil
}

func (g *Generator) complete(ctx context.Context, instruction string) (domain.GeneratedDevotional, domain.ScriptureReference, error) {
	if g.chat == nil {
		return domain.GeneratedDevotional{}, domain.ScriptureReference{}, fmt.Errorf("chat client not configured")
	}

	callCtx, cancel := withTimeout(ctx, g.completionTimeout)
	defer cancel()

	raw, err := g.chat.CompleteJSON(callCtx, instruction)
	if err != nil {
		return domain.GeneratedDevotional{}, domain.ScriptureReference{}, fmt.Errorf("completion: %w", err)
	}

	var devotional domain.GeneratedDevotional
	if err := json.Unmarshal([]byte(cleanJSON(raw)), &devotional); err != nil {
		return domain.GeneratedDevotional{}, domain.ScriptureReference{}, fmt.Errorf("decode completion: %w", err)
	}
	devotional.PrayerContent = strings.TrimSpace(devotional.PrayerContent)
	devotional.Verse = strings.TrimSpace(devotional.Verse)
	devotional.Reference = strings.TrimSpace(devotional.Reference)
	if err := devotional.Validate(); err != nil {
		return domain.GeneratedDevotional{}, domain.ScriptureReference{}, err
	}

	ref, err := ParseReference(devotional.Reference)
	if err != nil {
		return domain.GeneratedDevotional{}, domain.ScriptureReference{}, err
	}
	return devotional, ref, nil
}

func (g *Generator) chapter(ctx context.Context, ref domain.ScriptureReference) (string, error) {
	if g.scripture == nil {
		return "", fmt.Errorf("scripture source not configured")
	}

	callCtx, cancel := withTimeout(ctx, g.scriptureTimeout)
	defer cancel()

	text, err := g.scripture.Chapter(callCtx, ref.ChapterQuery())
	if err != nil {
		return "", err
	}
	text = StripChapterTitle(text, ref.Book, ref.Chapter)
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("empty chapter text for %s", ref.ChapterQuery())
	}
	return text, nil
}

func (g *Generator) placeholderChapter(ref domain.ScriptureReference) string {
	link := strings.ReplaceAll(g.readerURL, "{query}", url.QueryEscape(ref.ChapterQuery()))
	return fmt.Sprintf("The full text of %s is not available right now.\n\nRead it online: %s", ref.ChapterQuery(), link)
}

func fallbackDevotional() (domain.GeneratedDevotional, domain.ScriptureReference) {
	ref, err := ParseReference(fallbackReference)
	if err != nil {
		panic(err)
	}
	return domain.GeneratedDevotional{
		PrayerContent: fallbackPrayer,
		Verse:         fallbackVerse,
		Reference:     fallbackReference,
	}, ref
}

// BuildGenerationPrompt appends the recent-history exclusion block and the
// response format to the base prompt.
func BuildGenerationPrompt(base prompt.Template, recent []domain.DailyContent) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(base.Text()))

	if len(recent) > 0 {
		b.WriteString("\n\nThese were used on recent days. Do not reuse any of these references, and do not repeat these prayers or their phrasing:\n")
		for _, r := range recent {
			fmt.Fprintf(&b, "- date: %s; verse: %q; reference: %q; prayer: %q\n", r.Date, r.VerseText, r.VerseReference, r.PrayerText)
		}
	}

	b.WriteString("\n\nRespond with a single JSON object with exactly these keys:\n")
	b.WriteString(`{"prayerContent": "<the prayer>", "verse": "<the verse text>", "reference": "<Book> <chapter>:<verse>[-<verse>]"}`)
	b.WriteString("\nExamples of valid references: \"John 3:16\", \"Psalm 46:1-3\", \"1 Peter 5:7\".")
	return b.String()
}

// ParseReference parses "<Book> <chapter>:<verse>[-<verse>]".
func ParseReference(s string) (domain.ScriptureReference, error) {
	m := referenceExpr.FindStringSubmatch(s)
	if m == nil {
		return domain.ScriptureReference{}, fmt.Errorf("%w: %q", domain.ErrInvalidReference, s)
	}

	chapter, _ := strconv.Atoi(m[2])
	start, _ := strconv.Atoi(m[3])
	end := start
	if m[4] != "" {
		end, _ = strconv.Atoi(m[4])
	}
	if chapter == 0 || start == 0 || end < start {
		return domain.ScriptureReference{}, fmt.Errorf("%w: %q", domain.ErrInvalidReference, s)
	}

	return domain.ScriptureReference{
		Book:       strings.Join(strings.Fields(m[1]), " "),
		Chapter:    chapter,
		StartVerse: start,
		EndVerse:   end,
	}, nil
}

// StripChapterTitle removes the first line when it is exactly "<book> <chapter>".
func StripChapterTitle(text, book string, chapter int) string {
	title := fmt.Sprintf("%s %d", book, chapter)
	first, rest, found := strings.Cut(text, "\n")
	if strings.TrimSuffix(first, "\r") != title {
		return text
	}
	if !found {
		return ""
	}
	return strings.TrimLeft(rest, "\r\n")
}

func cleanJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}
