package export

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"realtime-stt-gateway/internal/models"
)

var idPattern = regexp.MustCompile(`^[0-9a-f]{32}$`)

func TestNewID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewID()
		if len(id) != IDLength || !idPattern.MatchString(id) {
			t.Fatalf("unexpected id %q", id)
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}

func TestEncodeWAV(t *testing.T) {
	pcm := []byte{1, 0, 2, 0, 3, 0}
	wav, err := EncodeWAV(pcm)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(wav) != 44+len(pcm) {
		t.Fatalf("expected %d bytes, got %d", 44+len(pcm), len(wav))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" || string(wav[36:40]) != "data" {
		t.Error("invalid WAV markers")
	}
	if rate := binary.LittleEndian.Uint32(wav[24:28]); rate != 16000 {
		t.Errorf("expected 16000 Hz, got %d", rate)
	}
	if size := binary.LittleEndian.Uint32(wav[40:44]); size != uint32(len(pcm)) {
		t.Errorf("expected data size %d, got %d", len(pcm), size)
	}
}

func TestFileStore_Save(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(filepath.Join(dir, "exports"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	artifact := models.ExportArtifact{
		ID:    NewID(),
		Audio: make([]byte, 3200),
		Finals: []models.FinalMessage{
			models.NewFinalMessage([]models.Word{{Text: "hello", Start: 0, End: 0.5, Confidence: 0.9}}),
		},
	}
	if err := store.Save(context.Background(), artifact); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wav, err := os.ReadFile(filepath.Join(store.Dir(), artifact.ID+".wav"))
	if err != nil {
		t.Fatalf("expected wav file: %v", err)
	}
	if len(wav) != 44+3200 {
		t.Errorf("unexpected wav size %d", len(wav))
	}

	raw, err := os.ReadFile(filepath.Join(store.Dir(), artifact.ID+".json"))
	if err != nil {
		t.Fatalf("expected json file: %v", err)
	}
	var finals []models.FinalMessage
	if err := json.Unmarshal(raw, &finals); err != nil {
		t.Fatalf("invalid finals json: %v", err)
	}
	if len(finals) != 1 || finals[0].Text != "hello" {
		t.Errorf("unexpected finals %+v", finals)
	}
}

func TestFileStore_EmptyFinals(t *testing.T) {
	store, _ := NewFileStore(t.TempDir())
	artifact := models.ExportArtifact{ID: NewID()}
	if err := store.Save(context.Background(), artifact); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	raw, _ := os.ReadFile(filepath.Join(store.Dir(), artifact.ID+".json"))
	if string(raw) != "[]" {
		t.Errorf("expected empty json array, got %s", raw)
	}
}

func TestStores_RejectEmptyID(t *testing.T) {
	store, _ := NewFileStore(t.TempDir())
	for name, s := range map[string]Store{"file": store, "discard": Discard{}} {
		if err := s.Save(context.Background(), models.ExportArtifact{}); !errors.Is(err, ErrEmptyID) {
			t.Errorf("%s: expected ErrEmptyID, got %v", name, err)
		}
	}
}
