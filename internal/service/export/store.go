// Package export persists the audio and finals of a finished stream.
package export

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"realtime-stt-gateway/internal/models"
)

// IDLength is the length of an export identifier.
const IDLength = 32

// ErrEmptyID is returned when an artifact without identifier is saved.
var ErrEmptyID = errors.New("export id is empty")

// Store persists export artifacts. Callers treat Save as fire-and-forget:
// failures are logged, never retried.
type Store interface {
	Save(ctx context.Context, artifact models.ExportArtifact) error
}

// NewID returns a 32-character opaque identifier.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Backend names accepted in configuration.
const (
	BackendFile     = "file"
	BackendPostgres = "postgres"
	BackendNone     = "none"
)

// Discard is a Store that drops every artifact.
type Discard struct{}

// Save implements Store.
func (Discard) Save(ctx context.Context, artifact models.ExportArtifact) error {
	if artifact.ID == "" {
		return ErrEmptyID
	}
	return nil
}
