// Package models defines the data structures shared by the session engine,
// the wire protocol and the transcript event bus.
package models

import "strings"

// Word is a single recognized word with timing relative to the audio buffer
// that was transcribed. Sessions rewrite Start/End to absolute stream time
// before the word leaves the engine.
type Word struct {
	Confidence float64 `json:"conf"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Text       string  `json:"word"`
}

// Hypothesis is the ordered word list returned by one transcription call.
type Hypothesis []Word

// Texts returns the word texts in order.
func (h Hypothesis) Texts() []string {
	out := make([]string, len(h))
	for i, w := range h {
		out[i] = w.Text
	}
	return out
}

// JoinText concatenates word texts separated by a single space.
func JoinText(words []Word) string {
	parts := make([]string, 0, len(words))
	for _, w := range words {
		if t := strings.TrimSpace(w.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

// PartialMessage is sent to the client after every partial transcription.
type PartialMessage struct {
	Partial string `json:"partial"`
}

// FinalMessage is sent to the client for every committed transcript fragment.
type FinalMessage struct {
	Result []Word `json:"result"`
	Text   string `json:"text"`
}

// NewFinalMessage builds the wire record for a flushed word list.
func NewFinalMessage(words []Word) FinalMessage {
	result := make([]Word, len(words))
	copy(result, words)
	return FinalMessage{Result: result, Text: JoinText(words)}
}

// End returns the end time of the last word, or 0 for an empty record.
func (f FinalMessage) End() float64 {
	if len(f.Result) == 0 {
		return 0
	}
	return f.Result[len(f.Result)-1].End
}

// ExportArtifact is handed to the export store once a stream ends.
type ExportArtifact struct {
	ID     string         `json:"id"`
	Audio  []byte         `json:"-"`
	Finals []FinalMessage `json:"finals"`
}

// TranscriptPartial is the bus event emitted for every partial.
type TranscriptPartial struct {
	EventType string `json:"eventType"`
	SessionID string `json:"sessionId"`
	Pool      string `json:"pool"`
	Timestamp int64  `json:"timestamp"`
	Text      string `json:"text"`
}

// TranscriptFinal is the bus event emitted for every final.
type TranscriptFinal struct {
	EventType     string  `json:"eventType"`
	SessionID     string  `json:"sessionId"`
	Pool          string  `json:"pool"`
	Timestamp     int64   `json:"timestamp"`
	SegmentID     string  `json:"segmentId"`
	Text          string  `json:"text"`
	Words         []Word  `json:"words"`
	Confidence    float64 `json:"confidence"`
	AudioOffsetMs int64   `json:"audioOffsetMs"`
}

// ExportReady is the bus event emitted after an export was persisted.
type ExportReady struct {
	EventType  string `json:"eventType"`
	SessionID  string `json:"sessionId"`
	ExportID   string `json:"exportId"`
	AudioBytes int    `json:"audioBytes"`
	Finals     int    `json:"finals"`
	Timestamp  int64  `json:"timestamp"`
}

// Event type names used on the bus.
const (
	EventTranscriptPartial = "stream.transcript.partial"
	EventTranscriptFinal   = "stream.transcript.final"
	EventExportReady       = "stream.export.ready"
)

// MeanConfidence averages word confidences; 0 for an empty list.
func MeanConfidence(words []Word) float64 {
	if len(words) == 0 {
		return 0
	}
	var sum float64
	for _, w := range words {
		sum += w.Confidence
	}
	return sum / float64(len(words))
}
