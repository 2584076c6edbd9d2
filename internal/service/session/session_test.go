package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"realtime-stt-gateway/internal/models"
	"realtime-stt-gateway/internal/service/cadence"
	"realtime-stt-gateway/internal/service/export"
	"realtime-stt-gateway/internal/service/pool"
)

const chunkBytes = 3200

var errConnClosed = errors.New("use of closed connection")

// --- fakes ---

type fakeConn struct {
	in     chan frame
	out    chan string
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan frame, 16),
		out:    make(chan string, 64),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case f := <-c.in:
		return f.typ, f.data, f.err
	case <-c.closed:
		return 0, nil, errConnClosed
	}
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	select {
	case <-c.closed:
		return errConnClosed
	default:
	}
	c.out <- string(data)
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) sendAudio(n int) {
	c.in <- frame{typ: websocket.BinaryMessage, data: make([]byte, n)}
}

func (c *fakeConn) sendText(text string) {
	c.in <- frame{typ: websocket.TextMessage, data: []byte(text)}
}

func (c *fakeConn) fail(err error) {
	c.in <- frame{err: err}
}

func (c *fakeConn) next(t *testing.T) string {
	t.Helper()
	select {
	case m := <-c.out:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a server message")
		return ""
	}
}

func (c *fakeConn) expectSilence(t *testing.T) {
	t.Helper()
	select {
	case m := <-c.out:
		t.Fatalf("unexpected server message %q", m)
	case <-time.After(50 * time.Millisecond):
	}
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

type scriptedTranscriber struct {
	mu      sync.Mutex
	script  []models.Hypothesis
	prompts []string
	err     error
	block   bool
	called  chan struct{}
}

func newScripted(script ...models.Hypothesis) *scriptedTranscriber {
	return &scriptedTranscriber{script: script, called: make(chan struct{}, 16)}
}

func (s *scriptedTranscriber) Transcribe(ctx context.Context, _ []byte, prompt string) (models.Hypothesis, error) {
	s.mu.Lock()
	n := len(s.prompts)
	s.prompts = append(s.prompts, prompt)
	var hyp models.Hypothesis
	if len(s.script) > 0 {
		hyp = s.script[min(n, len(s.script)-1)]
	}
	err, block := s.err, s.block
	s.mu.Unlock()

	s.called <- struct{}{}
	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return hyp, err
}

func (s *scriptedTranscriber) Name() string { return "scripted" }
func (s *scriptedTranscriber) Close() error { return nil }

func (s *scriptedTranscriber) promptAt(i int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prompts[i]
}

type fakeStore struct {
	saved chan models.ExportArtifact
}

func newFakeStore() *fakeStore {
	return &fakeStore{saved: make(chan models.ExportArtifact, 1)}
}

func (f *fakeStore) Save(_ context.Context, a models.ExportArtifact) error {
	f.saved <- a
	return nil
}

func (f *fakeStore) wait(t *testing.T) models.ExportArtifact {
	t.Helper()
	select {
	case a := <-f.saved:
		return a
	case <-time.After(2 * time.Second):
		t.Fatal("export was not saved")
		return models.ExportArtifact{}
	}
}

// gatedStore blocks Save until release is closed.
type gatedStore struct {
	release chan struct{}
	saved   atomic.Bool
}

func (g *gatedStore) Save(context.Context, models.ExportArtifact) error {
	<-g.release
	g.saved.Store(true)
	return nil
}

type recordingSink struct {
	mu       sync.Mutex
	partials []models.TranscriptPartial
	finals   []models.TranscriptFinal
}

func (r *recordingSink) Name() string { return "recording" }

func (r *recordingSink) PublishPartial(_ context.Context, _ string, event any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.partials = append(r.partials, event.(models.TranscriptPartial))
	return nil
}

func (r *recordingSink) PublishFinal(_ context.Context, _ string, event any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finals = append(r.finals, event.(models.TranscriptFinal))
	return nil
}

func (r *recordingSink) PublishExportReady(context.Context, string, any) error { return nil }
func (r *recordingSink) Close() error                                          { return nil }

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// --- helpers ---

func word(text string, start, end float64) models.Word {
	return models.Word{Text: text, Start: start, End: end, Confidence: 0.9}
}

func testConfig() Config {
	return Config{
		Cadence: cadence.Config{
			InitialPartialBytes: chunkBytes,
			MarginSeconds:       0.25,
			FinalMultiplier:     1000,
			FinalWordThreshold:  6,
		},
		RetryDelay:   10 * time.Millisecond,
		TickInterval: 5 * time.Millisecond,
		PromptChars:  200,
	}
}

type harness struct {
	conn    *fakeConn
	alloc   *pool.Allocator
	set     *pool.Set
	store   *fakeStore
	sink    *recordingSink
	clock   *fakeClock
	session *Session
	done    chan error
}

func newHarness(t *testing.T, tr *scriptedTranscriber, capacity int) *harness {
	t.Helper()
	alloc := pool.NewAllocator("cpu", tr, capacity)
	set, err := pool.NewSet(alloc)
	if err != nil {
		t.Fatal(err)
	}
	h := &harness{
		conn:  newFakeConn(),
		alloc: alloc,
		set:   set,
		store: newFakeStore(),
		sink:  &recordingSink{},
		clock: &fakeClock{t: time.Unix(1700000000, 0)},
		done:  make(chan error, 1),
	}
	h.session = New("sess-1", h.conn, set, h.store, h.sink, testConfig())
	h.session.now = h.clock.Now
	return h
}

func (h *harness) start(ctx context.Context) {
	go func() { h.done <- h.session.Run(ctx) }()
}

func (h *harness) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end")
		return nil
	}
}

func (h *harness) assertReleased(t *testing.T) {
	t.Helper()
	if got := h.alloc.Available(); got != h.alloc.Capacity() {
		t.Errorf("seats available = %d, want %d", got, h.alloc.Capacity())
	}
	if !h.conn.isClosed() {
		t.Error("connection was not closed")
	}
	if h.session.State() != StateClosed {
		t.Errorf("state = %s, want CLOSED", h.session.State())
	}
}

func decodePartial(t *testing.T, msg string) string {
	t.Helper()
	var p models.PartialMessage
	if err := json.Unmarshal([]byte(msg), &p); err != nil {
		t.Fatalf("not a partial message: %q", msg)
	}
	return p.Partial
}

// --- tests ---

func TestSession_EOFReturnsExportID(t *testing.T) {
	h := newHarness(t, newScripted(), 1)
	h.start(context.Background())

	h.conn.sendText("eof")
	id := h.conn.next(t)
	if len(id) != export.IDLength {
		t.Fatalf("export id %q has length %d, want %d", id, len(id), export.IDLength)
	}

	if err := h.wait(t); err != nil {
		t.Fatalf("Run returned %v", err)
	}
	artifact := h.store.wait(t)
	if artifact.ID != id {
		t.Errorf("saved artifact id %q, sent %q", artifact.ID, id)
	}
	h.assertReleased(t)
}

func TestSession_WaitCoversExport(t *testing.T) {
	h := newHarness(t, newScripted(), 1)
	store := &gatedStore{release: make(chan struct{})}
	h.session.store = store
	h.start(context.Background())

	h.conn.sendText("eof")
	h.conn.next(t)
	if err := h.wait(t); err != nil {
		t.Fatalf("Run returned %v", err)
	}

	waited := make(chan struct{})
	go func() {
		h.session.Wait()
		close(waited)
	}()

	select {
	case <-waited:
		t.Fatal("Wait returned while the export was still saving")
	case <-time.After(50 * time.Millisecond):
	}

	close(store.release)
	select {
	case <-waited:
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after the export was saved")
	}
	if !store.saved.Load() {
		t.Error("export was not saved")
	}
}

func TestSession_UnknownControlMessage(t *testing.T) {
	h := newHarness(t, newScripted(), 1)
	h.start(context.Background())

	h.conn.sendText(`{"config": {"sample_rate": 16000}}`)
	if got := h.conn.next(t); got != ReplyUnknownControl {
		t.Fatalf("got %q, want %q", got, ReplyUnknownControl)
	}
	if h.session.State() != StateStreaming {
		t.Fatalf("state = %s after unknown control message", h.session.State())
	}

	h.conn.sendText(`{"eof" : 1}`)
	if id := h.conn.next(t); len(id) != export.IDLength {
		t.Fatalf("expected export id, got %q", id)
	}
	if err := h.wait(t); err != nil {
		t.Fatal(err)
	}
	h.assertReleased(t)
}

func TestSession_PartialsThenFinal(t *testing.T) {
	tr := newScripted(
		models.Hypothesis{word("This", 0, 1), word("is", 1, 2), word("Error", 2, 3)},
		models.Hypothesis{word("This", 0, 1), word("is", 1, 2), word("a", 2, 3), word("test.", 3, 4)},
		models.Hypothesis{word("This", 0, 1), word("is", 1, 2), word("a", 2, 3), word("test.", 3, 4)},
		models.Hypothesis{word("This", 0, 1), word("is", 1, 2), word("a", 2, 3), word("test.", 3, 4), word("Next", 4.2, 4.6)},
	)
	h := newHarness(t, tr, 1)
	h.start(context.Background())

	h.conn.sendAudio(chunkBytes)
	if got := decodePartial(t, h.conn.next(t)); got != "This is Error" {
		t.Fatalf("partial 1 = %q", got)
	}

	h.conn.sendAudio(chunkBytes)
	if got := decodePartial(t, h.conn.next(t)); got != "a test." {
		t.Fatalf("partial 2 = %q", got)
	}

	h.conn.sendAudio(chunkBytes)
	if got := decodePartial(t, h.conn.next(t)); got != "" {
		t.Fatalf("partial 3 = %q", got)
	}

	var final models.FinalMessage
	if err := json.Unmarshal([]byte(h.conn.next(t)), &final); err != nil {
		t.Fatal(err)
	}
	if final.Text != "This is a test." || len(final.Result) != 4 {
		t.Fatalf("unexpected final %+v", final)
	}
	if final.Result[3].End != 4 {
		t.Errorf("last word end = %v", final.Result[3].End)
	}

	// Words at or before the last final's end are not announced again.
	h.conn.sendAudio(chunkBytes)
	if got := decodePartial(t, h.conn.next(t)); got != "Next" {
		t.Fatalf("partial 4 = %q", got)
	}
	if got := tr.promptAt(3); got != "This is a test." {
		t.Errorf("prompt after final = %q", got)
	}

	h.conn.sendText("eof")
	id := h.conn.next(t)
	if err := h.wait(t); err != nil {
		t.Fatal(err)
	}

	artifact := h.store.wait(t)
	if artifact.ID != id {
		t.Errorf("artifact id %q, sent %q", artifact.ID, id)
	}
	if len(artifact.Audio) != 4*chunkBytes {
		t.Errorf("artifact audio = %d bytes", len(artifact.Audio))
	}
	if len(artifact.Finals) != 1 || artifact.Finals[0].Text != "This is a test." {
		t.Errorf("artifact finals = %+v", artifact.Finals)
	}

	h.sink.mu.Lock()
	defer h.sink.mu.Unlock()
	if len(h.sink.partials) != 4 {
		t.Errorf("bus partials = %d, want 4", len(h.sink.partials))
	}
	if len(h.sink.finals) != 1 || h.sink.finals[0].SegmentID != "sess-1-seg-1" {
		t.Errorf("bus finals = %+v", h.sink.finals)
	}
	h.assertReleased(t)
}

func TestSession_AdmissionRetry(t *testing.T) {
	tr := newScripted(models.Hypothesis{word("hello", 0, 0.5)})
	h := newHarness(t, tr, 1)

	held, ok := h.set.TryAcquire()
	if !ok {
		t.Fatal("could not take the only seat")
	}

	h.start(context.Background())
	if got := h.conn.next(t); got != NoticeNoWorker {
		t.Fatalf("got %q, want notice", got)
	}
	if h.session.State() != StateAwaitingWorker {
		t.Fatalf("state = %s", h.session.State())
	}

	// Audio sent while waiting is transcribed once a seat frees up.
	h.conn.sendAudio(chunkBytes)
	held.Release()

	var msg string
	for msg = h.conn.next(t); msg == NoticeNoWorker; msg = h.conn.next(t) {
	}
	if got := decodePartial(t, msg); got != "hello" {
		t.Fatalf("partial = %q", got)
	}

	h.conn.sendText("eof")
	h.conn.next(t)
	if err := h.wait(t); err != nil {
		t.Fatal(err)
	}
	h.assertReleased(t)
}

func TestSession_EOFWhileAwaitingWorker(t *testing.T) {
	h := newHarness(t, newScripted(), 0)
	h.start(context.Background())

	if got := h.conn.next(t); got != NoticeNoWorker {
		t.Fatalf("got %q, want notice", got)
	}
	h.conn.sendAudio(chunkBytes)
	h.conn.sendText("eof")

	var id string
	for id = h.conn.next(t); id == NoticeNoWorker; id = h.conn.next(t) {
	}
	if len(id) != export.IDLength {
		t.Fatalf("expected export id, got %q", id)
	}
	if err := h.wait(t); err != nil {
		t.Fatal(err)
	}
	if a := h.store.wait(t); len(a.Audio) != chunkBytes {
		t.Errorf("artifact audio = %d bytes", len(a.Audio))
	}
	h.assertReleased(t)
}

func TestSession_TranscriptionErrorReleasesSeat(t *testing.T) {
	boom := errors.New("recognizer crashed")
	tr := newScripted()
	tr.err = boom
	h := newHarness(t, tr, 1)
	h.start(context.Background())

	h.conn.sendAudio(chunkBytes)
	err := h.wait(t)
	if !errors.Is(err, boom) {
		t.Fatalf("Run returned %v, want %v", err, boom)
	}
	h.conn.expectSilence(t)
	h.assertReleased(t)
}

func TestSession_DisconnectReleasesSeat(t *testing.T) {
	h := newHarness(t, newScripted(), 1)
	h.start(context.Background())

	h.conn.sendAudio(chunkBytes / 2)
	h.conn.fail(io.ErrUnexpectedEOF)

	if err := h.wait(t); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("Run returned %v", err)
	}
	h.assertReleased(t)
}

func TestSession_DisconnectDuringTranscription(t *testing.T) {
	tr := newScripted()
	tr.block = true
	h := newHarness(t, tr, 1)
	h.start(context.Background())

	h.conn.sendAudio(chunkBytes)
	select {
	case <-tr.called:
	case <-time.After(2 * time.Second):
		t.Fatal("transcriber was not called")
	}
	h.conn.fail(io.ErrUnexpectedEOF)

	if err := h.wait(t); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("Run returned %v", err)
	}
	h.conn.expectSilence(t)
	h.assertReleased(t)
}

func TestSession_ContextCanceled(t *testing.T) {
	h := newHarness(t, newScripted(), 1)
	ctx, cancel := context.WithCancel(context.Background())
	h.start(ctx)

	cancel()
	if err := h.wait(t); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run returned %v", err)
	}
	h.assertReleased(t)
}

func TestSession_SilenceFinalIsNoop(t *testing.T) {
	h := newHarness(t, newScripted(), 1)
	h.start(context.Background())

	// Well past the final staleness threshold with nothing confirmed.
	h.clock.Advance(10 * time.Minute)
	h.conn.expectSilence(t)

	h.conn.sendText("eof")
	if id := h.conn.next(t); len(id) != export.IDLength {
		t.Fatalf("first message after silence = %q, want export id", id)
	}
	if err := h.wait(t); err != nil {
		t.Fatal(err)
	}
	if a := h.store.wait(t); len(a.Finals) != 0 {
		t.Errorf("finals = %+v, want none", a.Finals)
	}
}

func TestSession_RunTwice(t *testing.T) {
	h := newHarness(t, newScripted(), 1)
	h.start(context.Background())
	h.conn.sendText("eof")
	h.conn.next(t)
	if err := h.wait(t); err != nil {
		t.Fatal(err)
	}

	if err := h.session.Run(context.Background()); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("second Run returned %v", err)
	}
}

func TestSession_NoPools(t *testing.T) {
	conn := newFakeConn()
	s := New("sess-1", conn, nil, nil, nil, testConfig())

	if err := s.Run(context.Background()); !errors.Is(err, pool.ErrNoPools) {
		t.Fatalf("Run returned %v", err)
	}
	if !conn.isClosed() {
		t.Error("connection left open")
	}
}

func TestSession_AbsoluteWords(t *testing.T) {
	s := New("sess-1", newFakeConn(), nil, nil, nil, testConfig())
	s.finals = []models.FinalMessage{models.NewFinalMessage([]models.Word{word("done.", 3.5, 4.0)})}

	// 3200 bytes already trimmed: relative times shift by 0.1s.
	hyp := models.Hypothesis{word("done.", 3.4, 3.9), word("edge", 3.9, 3.905), word("next", 4.0, 4.4)}
	got := s.absoluteWords(hyp, chunkBytes)

	if len(got) != 1 {
		t.Fatalf("kept %d words, want 1: %+v", len(got), got)
	}
	if got[0].Text != "next" || got[0].Start != 4.1 || got[0].End != 4.5 {
		t.Errorf("unexpected word %+v", got[0])
	}
}

func TestSession_AbsoluteWords_NoFinals(t *testing.T) {
	s := New("sess-1", newFakeConn(), nil, nil, nil, testConfig())

	got := s.absoluteWords(models.Hypothesis{word("hi", 0, 0.005)}, 0)
	if len(got) != 1 {
		t.Fatalf("words before the first final must be kept, got %+v", got)
	}
}

func TestDropRepeatedLeadingWord(t *testing.T) {
	prev := models.NewFinalMessage([]models.Word{word("I", 0, 0.2), word("said", 0.2, 0.5), word("hello", 0.5, 1)})

	tests := []struct {
		name  string
		words []models.Word
		want  string
	}{
		{"boundary duplicate", []models.Word{word("hello", 1, 1.3), word("there.", 1.3, 1.8)}, "there."},
		{"padded duplicate", []models.Word{word(" hello", 1, 1.3), word("again.", 1.3, 1.8)}, "again."},
		{"different word", []models.Word{word("Hello", 1, 1.3), word("there.", 1.3, 1.8)}, "Hello there."},
		{"empty", nil, ""},
		// A speaker who really says "hello hello" across the boundary loses one.
		{"genuine repeat is dropped", []models.Word{word("hello", 1.4, 1.8)}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := models.JoinText(dropRepeatedLeadingWord(prev, tt.words))
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTail(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"hello world", 5, "world"},
		{"hello", 10, "hello"},
		{"hello", 0, ""},
		{"ça va", 4, "a va"},
	}
	for _, tt := range tests {
		if got := tail(tt.in, tt.n); got != tt.want {
			t.Errorf("tail(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}
