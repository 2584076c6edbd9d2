// Package transcript turns overlapping, revisable recognizer hypotheses into
// a transcript that only grows.
//
// A word is confirmed once it appears at the same position in two consecutive
// hypotheses (local agreement). Confirmed words are never rewritten; they only
// leave the tracker through one of the flush operations.
//
// A Tracker is owned by a single session goroutine and is not safe for
// concurrent use.
package transcript

import (
	"strings"
	"unicode"

	"realtime-stt-gateway/internal/models"
)

// OverlapTolerance is how far (in seconds) a new word may start before the
// end of the last confirmed word and still be considered new audio.
const OverlapTolerance = 0.1

// Tracker holds the confirmed and unconfirmed word lists of one session.
type Tracker struct {
	confirmed   []models.Word
	unconfirmed []models.Word
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Merge folds a new hypothesis into the tracker and returns the confirmed list.
func (t *Tracker) Merge(hyp models.Hypothesis) []models.Word {
	filtered := t.filterOverlap(hyp)

	n := commonPrefix(filtered, t.unconfirmed)
	t.confirmed = append(t.confirmed, filtered[:n]...)

	if n == len(filtered) {
		t.unconfirmed = nil
	} else {
		t.unconfirmed = append([]models.Word(nil), filtered[n:]...)
	}
	return t.Confirmed()
}

func (t *Tracker) filterOverlap(hyp models.Hypothesis) []models.Word {
	if len(t.confirmed) == 0 {
		return append([]models.Word(nil), hyp...)
	}
	cutoff := t.confirmed[len(t.confirmed)-1].End - OverlapTolerance
	out := make([]models.Word, 0, len(hyp))
	for _, w := range hyp {
		if w.Start > cutoff {
			out = append(out, w)
		}
	}
	return out
}

func commonPrefix(a, b []models.Word) int {
	n := 0
	for n < len(a) && n < len(b) {
		if Normalize(a[n].Text) != Normalize(b[n].Text) {
			break
		}
		n++
	}
	return n
}

// Confirmed returns a copy of the confirmed words.
func (t *Tracker) Confirmed() []models.Word {
	return append([]models.Word(nil), t.confirmed...)
}

// Unconfirmed returns a copy of the words still waiting for agreement.
func (t *Tracker) Unconfirmed() []models.Word {
	return append([]models.Word(nil), t.unconfirmed...)
}

// ConfirmedCount returns the number of confirmed words not yet flushed.
func (t *Tracker) ConfirmedCount() int {
	return len(t.confirmed)
}

// ContainsSentenceEnd reports whether any confirmed word closes a sentence.
func (t *Tracker) ContainsSentenceEnd() bool {
	return t.lastSentenceEnd() >= 0
}

// FlushConfirmed removes and returns the first count confirmed words.
// A count below zero, or above the number of confirmed words, flushes all.
func (t *Tracker) FlushConfirmed(count int) []models.Word {
	if count < 0 || count > len(t.confirmed) {
		count = len(t.confirmed)
	}
	out := append([]models.Word(nil), t.confirmed[:count]...)
	t.confirmed = append([]models.Word(nil), t.confirmed[count:]...)
	return out
}

// FlushAll removes and returns every confirmed word.
func (t *Tracker) FlushAll() []models.Word {
	return t.FlushConfirmed(-1)
}

// FlushAtSentenceEnd removes and returns the confirmed prefix up to and
// including the last word that ends a sentence. It returns nil when no
// confirmed word ends a sentence.
func (t *Tracker) FlushAtSentenceEnd() []models.Word {
	idx := t.lastSentenceEnd()
	if idx < 0 {
		return nil
	}
	return t.FlushConfirmed(idx + 1)
}

// Clear drops both word lists.
func (t *Tracker) Clear() {
	t.confirmed = nil
	t.unconfirmed = nil
}

func (t *Tracker) lastSentenceEnd() int {
	for i := len(t.confirmed) - 1; i >= 0; i-- {
		if EndsSentence(t.confirmed[i].Text) {
			return i
		}
	}
	return -1
}

// EndsSentence reports whether text ends with '.', '!' or '?'.
func EndsSentence(text string) bool {
	text = strings.TrimSpace(text)
	return strings.HasSuffix(text, ".") || strings.HasSuffix(text, "!") || strings.HasSuffix(text, "?")
}

// Normalize lower-cases text and strips everything that is not a letter, so
// "Word!" and "word" compare equal.
func Normalize(text string) string {
	text = strings.TrimRight(strings.TrimSpace(text), ".,?!")
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
