package domain

import (
	"errors"
	"fmt"
	"time"
)

// DateLayout is the calendar key of daily content records.
const DateLayout = "2006-01-02"

var (
	// ErrInvalidReference marks a scripture reference outside "<Book> <chapter>:<verse>[-<verse>]".
	ErrInvalidReference = errors.New("invalid scripture reference")
	// ErrIncompleteCompletion marks model output missing required fields.
	ErrIncompleteCompletion = errors.New("incomplete completion")
)

// DailyContent is the devotional record for one calendar date.
type DailyContent struct {
	Date             string    `json:"date" db:"date"`
	PrayerText       string    `json:"prayerText" db:"prayer_text"`
	VerseText        string    `json:"verseText" db:"verse_text"`
	VerseReference   string    `json:"verseReference" db:"verse_reference"`
	ChapterText      string    `json:"chapterText" db:"chapter_text"`
	ChapterReference string    `json:"chapterReference" db:"chapter_reference"`
	BibleVersion     string    `json:"bibleVersion" db:"bible_version"`
	GeneratedAt      time.Time `json:"generatedAt" db:"generated_at"`
}

// DateKey formats t as a daily content key in t's location.
func DateKey(t time.Time) string {
	return t.Format(DateLayout)
}

// ScriptureReference is a parsed "<Book> <chapter>:<verse>[-<verse>]".
type ScriptureReference struct {
	Book       string
	Chapter    int
	StartVerse int
	EndVerse   int
}

func (r ScriptureReference) String() string {
	if r.EndVerse > r.StartVerse {
		return fmt.Sprintf("%s %d:%d-%d", r.Book, r.Chapter, r.StartVerse, r.EndVerse)
	}
	return fmt.Sprintf("%s %d:%d", r.Book, r.Chapter, r.StartVerse)
}

// ChapterQuery is the passage query for the whole chapter, e.g. "John 3".
func (r ScriptureReference) ChapterQuery() string {
	return fmt.Sprintf("%s %d", r.Book, r.Chapter)
}

// GeneratedDevotional is the validated model output for one day.
type GeneratedDevotional struct {
	PrayerContent string `json:"prayerContent"`
	Verse         string `json:"verse"`
	Reference     string `json:"reference"`
}

// Validate requires all three fields.
func (g GeneratedDevotional) Validate() error {
	switch {
	case g.PrayerContent == "":
		return fmt.Errorf("%w: prayerContent missing", ErrIncompleteCompletion)
	case g.Verse == "":
		return fmt.Errorf("%w: verse missing", ErrIncompleteCompletion)
	case g.Reference == "":
		return fmt.Errorf("%w: reference missing", ErrIncompleteCompletion)
	}
	return nil
}
