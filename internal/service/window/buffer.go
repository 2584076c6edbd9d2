// Package window holds the bounded audio window that is re-transcribed on
// every partial run.
package window

// Audio contract: 16 kHz, 16-bit, mono PCM.
const (
	SampleRate     = 16000
	BytesPerSample = 2
	Channels       = 1
	BytesPerSecond = SampleRate * BytesPerSample * Channels
)

// Buffer is an append-only byte window whose head can be trimmed. It tracks
// how many bytes were discarded so relative recognizer timestamps can be
// mapped back to stream time.
//
// Not safe for concurrent use; a Buffer belongs to one session.
type Buffer struct {
	bytes             []byte
	previousByteCount int64
	windowStart       float64
}

// NewBuffer returns an empty window.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Append adds chunk to the end of the window.
func (b *Buffer) Append(chunk []byte) {
	b.bytes = append(b.bytes, chunk...)
}

// Len returns the number of bytes currently in the window.
func (b *Buffer) Len() int {
	return len(b.bytes)
}

// Bytes returns a copy of the window contents.
func (b *Buffer) Bytes() []byte {
	return append([]byte(nil), b.bytes...)
}

// PreviousByteCount returns the number of bytes trimmed so far.
func (b *Buffer) PreviousByteCount() int64 {
	return b.previousByteCount
}

// WindowStart returns the stream time, in seconds, of the first byte in the window.
func (b *Buffer) WindowStart() float64 {
	return b.windowStart
}

// TrimToMax drops bytes from the head until at most maxBytes remain and
// returns the number of bytes removed. The cut is aligned down to a sample
// boundary so the window never starts mid-sample.
func (b *Buffer) TrimToMax(maxBytes int) int {
	if maxBytes < 0 || len(b.bytes) <= maxBytes {
		return 0
	}
	removed := len(b.bytes) - maxBytes
	if rem := removed % BytesPerSample; rem != 0 {
		removed += BytesPerSample - rem
	}
	if removed > len(b.bytes) {
		removed = len(b.bytes)
	}
	b.bytes = append([]byte(nil), b.bytes[removed:]...)
	b.previousByteCount += int64(removed)
	b.windowStart += float64(removed) / BytesPerSecond
	return removed
}

// AbsoluteTime converts a time relative to the current window into stream time.
func (b *Buffer) AbsoluteTime(relative float64) float64 {
	return AbsoluteTime(relative, b.previousByteCount)
}

// AbsoluteTime converts a window-relative time given the trimmed byte count
// that was in effect when the window was captured.
func AbsoluteTime(relative float64, previousByteCount int64) float64 {
	return relative + float64(previousByteCount)/BytesPerSecond
}

// Duration returns the duration in seconds of n bytes of audio.
func Duration(n int) float64 {
	return float64(n) / BytesPerSecond
}
