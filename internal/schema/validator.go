// Package schema checks wire records before they leave the gateway and
// classifies server messages on the client side.
package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"realtime-stt-gateway/internal/models"
)

var (
	ErrInvalidFinal   = errors.New("invalid final record")
	ErrInvalidPartial = errors.New("invalid partial record")
	ErrUnknownEvent   = errors.New("unknown event type")
)

// Kind classifies a server-to-client message.
type Kind int

const (
	KindText Kind = iota
	KindPartial
	KindFinal
)

func (k Kind) String() string {
	switch k {
	case KindPartial:
		return "partial"
	case KindFinal:
		return "final"
	default:
		return "text"
	}
}

// Message is a decoded server message. Text holds the raw body for KindText
// (notices and export IDs).
type Message struct {
	Kind    Kind
	Partial models.PartialMessage
	Final   models.FinalMessage
	Text    string
}

type Validator struct{}

func New() *Validator {
	return &Validator{}
}

// Validate dispatches on the concrete event type.
func (v *Validator) Validate(event any) error {
	switch e := event.(type) {
	case models.FinalMessage:
		return v.ValidateFinal(e)
	case *models.FinalMessage:
		return v.ValidateFinal(*e)
	case models.PartialMessage:
		return v.ValidatePartial(e)
	case models.TranscriptFinal:
		if e.SessionID == "" || e.SegmentID == "" {
			return fmt.Errorf("%w: missing session or segment id", ErrInvalidFinal)
		}
		return v.ValidateFinal(models.FinalMessage{Result: e.Words, Text: e.Text})
	case models.TranscriptPartial:
		if e.SessionID == "" {
			return fmt.Errorf("%w: missing session id", ErrInvalidPartial)
		}
		return v.ValidatePartial(models.PartialMessage{Partial: e.Text})
	default:
		return fmt.Errorf("%w: %T", ErrUnknownEvent, event)
	}
}

// ValidateFinal checks word ordering, timing and confidence and that the
// text is the space-joined word list.
func (v *Validator) ValidateFinal(f models.FinalMessage) error {
	if len(f.Result) == 0 {
		return fmt.Errorf("%w: no words", ErrInvalidFinal)
	}
	prevStart := math.Inf(-1)
	for i, w := range f.Result {
		if strings.TrimSpace(w.Text) == "" {
			return fmt.Errorf("%w: word %d is empty", ErrInvalidFinal, i)
		}
		if w.Confidence < 0 || w.Confidence > 1 {
			return fmt.Errorf("%w: word %d confidence %.3f out of range", ErrInvalidFinal, i, w.Confidence)
		}
		if w.Start > w.End {
			return fmt.Errorf("%w: word %d starts after it ends", ErrInvalidFinal, i)
		}
		if w.Start < prevStart {
			return fmt.Errorf("%w: word %d out of order", ErrInvalidFinal, i)
		}
		prevStart = w.Start
	}
	if want := models.JoinText(f.Result); f.Text != want {
		return fmt.Errorf("%w: text %q does not match words %q", ErrInvalidFinal, f.Text, want)
	}
	return nil
}

// ValidatePartial rejects partials with leading or trailing whitespace.
func (v *Validator) ValidatePartial(p models.PartialMessage) error {
	if strings.TrimSpace(p.Partial) != p.Partial {
		return fmt.Errorf("%w: untrimmed text", ErrInvalidPartial)
	}
	return nil
}

// Decode classifies a server text frame. Frames that are not a partial or
// final JSON object are returned as KindText.
func (v *Validator) Decode(data []byte) (Message, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return Message{Kind: KindText, Text: string(data)}, nil
	}

	if _, ok := probe["partial"]; ok {
		var p models.PartialMessage
		if err := json.Unmarshal(data, &p); err != nil {
			return Message{}, fmt.Errorf("%w: %v", ErrInvalidPartial, err)
		}
		return Message{Kind: KindPartial, Partial: p}, nil
	}

	if _, ok := probe["result"]; ok {
		var f models.FinalMessage
		if err := json.Unmarshal(data, &f); err != nil {
			return Message{}, fmt.Errorf("%w: %v", ErrInvalidFinal, err)
		}
		if err := v.ValidateFinal(f); err != nil {
			return Message{}, err
		}
		return Message{Kind: KindFinal, Final: f}, nil
	}

	return Message{Kind: KindText, Text: string(data)}, nil
}
