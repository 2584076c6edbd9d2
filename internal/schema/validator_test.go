package schema

import (
	"errors"
	"testing"

	"realtime-stt-gateway/internal/models"
)

func TestValidateFinal(t *testing.T) {
	v := New()
	good := []models.Word{
		{Text: "hello", Start: 0.1, End: 0.5, Confidence: 0.9},
		{Text: "world.", Start: 0.6, End: 1.0, Confidence: 1},
	}

	tests := []struct {
		name    string
		msg     models.FinalMessage
		wantErr bool
	}{
		{"valid", models.NewFinalMessage(good), false},
		{"empty", models.FinalMessage{}, true},
		{"text mismatch", models.FinalMessage{Result: good, Text: "hello"}, true},
		{"confidence", models.NewFinalMessage([]models.Word{{Text: "a", Start: 0, End: 1, Confidence: 1.5}}), true},
		{"inverted timing", models.NewFinalMessage([]models.Word{{Text: "a", Start: 2, End: 1}}), true},
		{"out of order", models.NewFinalMessage([]models.Word{{Text: "a", Start: 2, End: 3}, {Text: "b", Start: 1, End: 2}}), true},
		{"blank word", models.FinalMessage{Result: []models.Word{{Text: " ", Start: 0, End: 1}}, Text: ""}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateFinal(tt.msg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidFinal) {
				t.Errorf("expected ErrInvalidFinal, got %v", err)
			}
		})
	}
}

func TestValidate_Dispatch(t *testing.T) {
	v := New()

	if err := v.Validate(models.PartialMessage{Partial: "hello"}); err != nil {
		t.Errorf("partial: %v", err)
	}
	if err := v.Validate(models.PartialMessage{Partial: " hello"}); !errors.Is(err, ErrInvalidPartial) {
		t.Errorf("untrimmed partial: %v", err)
	}
	if err := v.Validate(models.TranscriptFinal{SessionID: "s"}); !errors.Is(err, ErrInvalidFinal) {
		t.Errorf("final without segment: %v", err)
	}
	if err := v.Validate(42); !errors.Is(err, ErrUnknownEvent) {
		t.Errorf("unknown: %v", err)
	}
}

func TestDecode(t *testing.T) {
	v := New()

	tests := []struct {
		name string
		in   string
		kind Kind
	}{
		{"partial", `{"partial": "hello wor"}`, KindPartial},
		{"final", `{"result": [{"conf": 1, "start": 0, "end": 0.5, "word": "hi"}], "text": "hi"}`, KindFinal},
		{"export id", "0123456789abcdef0123456789abcdef", KindText},
		{"notice", "no worker available, retrying", KindText},
		{"other json", `{"foo": 1}`, KindText},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := v.Decode([]byte(tt.in))
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if msg.Kind != tt.kind {
				t.Fatalf("kind = %v, want %v", msg.Kind, tt.kind)
			}
		})
	}

	msg, _ := v.Decode([]byte(`{"partial": "hello wor"}`))
	if msg.Partial.Partial != "hello wor" {
		t.Errorf("partial text = %q", msg.Partial.Partial)
	}
}

func TestDecode_InvalidFinal(t *testing.T) {
	_, err := New().Decode([]byte(`{"result": [], "text": ""}`))
	if !errors.Is(err, ErrInvalidFinal) {
		t.Fatalf("expected ErrInvalidFinal, got %v", err)
	}
}
