package export

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"realtime-stt-gateway/internal/models"
	"realtime-stt-gateway/internal/service/window"
)

// wavHeader is the canonical 44-byte PCM WAV header.
type wavHeader struct {
	ChunkID       [4]byte
	ChunkSize     uint32
	Format        [4]byte
	Subchunk1ID   [4]byte
	Subchunk1Size uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte
	Subchunk2Size uint32
}

// FileStore writes <id>.wav and <id>.json into a directory.
type FileStore struct {
	dir string
}

// NewFileStore creates dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create export dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the export directory.
func (s *FileStore) Dir() string { return s.dir }

// Save implements Store.
func (s *FileStore) Save(ctx context.Context, artifact models.ExportArtifact) error {
	if artifact.ID == "" {
		return ErrEmptyID
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	wav, err := EncodeWAV(artifact.Audio)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(s.dir, artifact.ID+".wav"), wav, 0o644); err != nil {
		return fmt.Errorf("write export audio: %w", err)
	}

	finals := artifact.Finals
	if finals == nil {
		finals = []models.FinalMessage{}
	}
	payload, err := json.MarshalIndent(finals, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal export finals: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.dir, artifact.ID+".json"), payload, 0o644); err != nil {
		return fmt.Errorf("write export finals: %w", err)
	}
	return nil
}

// EncodeWAV wraps raw stream PCM in a WAV container.
func EncodeWAV(pcm []byte) ([]byte, error) {
	const bitsPerSample = window.BytesPerSample * 8
	dataSize := uint32(len(pcm))
	header := wavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   window.Channels,
		SampleRate:    window.SampleRate,
		ByteRate:      window.BytesPerSecond,
		BlockAlign:    window.Channels * window.BytesPerSample,
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	buf := bytes.NewBuffer(make([]byte, 0, 44+len(pcm)))
	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("write wav header: %w", err)
	}
	buf.Write(pcm)
	return buf.Bytes(), nil
}
