// Package session runs one client stream: seat admission, the receive loop,
// partial re-transcription of the sliding window and final publishing.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"realtime-stt-gateway/internal/events"
	"realtime-stt-gateway/internal/models"
	"realtime-stt-gateway/internal/observability/logging"
	"realtime-stt-gateway/internal/observability/metrics"
	"realtime-stt-gateway/internal/schema"
	"realtime-stt-gateway/internal/service/cadence"
	"realtime-stt-gateway/internal/service/export"
	"realtime-stt-gateway/internal/service/pool"
	"realtime-stt-gateway/internal/service/transcript"
	"realtime-stt-gateway/internal/service/window"
)

// Client-facing text messages.
const (
	NoticeNoWorker       = "no worker available, retrying"
	ReplyUnknownControl  = "control message unknown"
	ControlEndOfStream   = "eof"
	finalCutoffTolerance = 0.01
	exportTimeout        = 30 * time.Second
	busDrainTimeout      = 5 * time.Second
	busQueueSize         = 64
)

// Close reasons, used as log field and metric label.
const (
	ReasonEOF           = "eof"
	ReasonTransport     = "transport"
	ReasonTranscription = "transcription"
	ReasonSend          = "send"
	ReasonCanceled      = "canceled"
)

// Conn is the message transport of a session. *websocket.Conn satisfies it;
// message types are the gorilla websocket constants. Only the session's own
// loop writes.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Config holds per-session tunables.
type Config struct {
	MaxWindowBytes int
	Cadence        cadence.Config
	RetryDelay     time.Duration
	TickInterval   time.Duration
	PromptChars    int
}

// DefaultConfig returns the standard session settings: a 30s window,
// 10s admission retry and a 250ms cadence tick.
func DefaultConfig() Config {
	return Config{
		MaxWindowBytes: 30 * window.BytesPerSecond,
		Cadence:        cadence.DefaultConfig(),
		RetryDelay:     10 * time.Second,
		TickInterval:   250 * time.Millisecond,
		PromptChars:    200,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxWindowBytes <= 0 {
		c.MaxWindowBytes = def.MaxWindowBytes
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = def.RetryDelay
	}
	if c.TickInterval <= 0 {
		c.TickInterval = def.TickInterval
	}
	if c.PromptChars < 0 {
		c.PromptChars = 0
	}
	return c
}

type frame struct {
	typ  int
	data []byte
	err  error
}

type result struct {
	hyp         models.Hypothesis
	err         error
	offset      int64
	windowBytes int
	took        time.Duration
}

type busEvent struct {
	kind  string
	event any
}

// Session owns one connection. Window, tracker and cadence state are only
// touched by the goroutine running Run; transcription calls run in a helper
// goroutine, at most one at a time, and report back over results.
type Session struct {
	id        string
	cfg       Config
	conn      Conn
	pools     *pool.Set
	store     export.Store
	sink      events.Sink
	validator *schema.Validator
	segments  *SegmentIDs
	lifecycle *Lifecycle
	logger    zerolog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
	started   atomic.Bool

	window  *window.Buffer
	tracker *transcript.Tracker
	cadence *cadence.Controller
	audio   []byte
	finals  []models.FinalMessage
	history string

	lease    *pool.Lease
	inFlight bool
	results  chan result

	bus     chan busEvent
	busDone chan struct{}

	background sync.WaitGroup
}

// New creates a session for an accepted connection. A nil store discards
// exports, a nil sink drops bus events.
func New(id string, conn Conn, pools *pool.Set, store export.Store, sink events.Sink, cfg Config) *Session {
	if store == nil {
		store = export.Discard{}
	}
	if sink == nil {
		sink = events.Nop{}
	}
	return &Session{
		id:        id,
		cfg:       cfg.withDefaults(),
		conn:      conn,
		pools:     pools,
		store:     store,
		sink:      sink,
		validator: schema.New(),
		segments:  NewSegmentIDs(),
		lifecycle: NewLifecycle(),
		logger:    logging.WithSession(id),
		metrics:   metrics.DefaultMetrics,
		now:       time.Now,
		window:    window.NewBuffer(),
		tracker:   transcript.NewTracker(),
		results:   make(chan result, 1),
		bus:       make(chan busEvent, busQueueSize),
		busDone:   make(chan struct{}),
	}
}

// ID returns the session ID.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State { return s.lifecycle.State() }

// Wait blocks until export work started by the session has finished. Run
// returns as soon as the client has its export ID, so the owner of the
// export store and sink calls Wait before closing them.
func (s *Session) Wait() {
	s.background.Wait()
}

// Run drives the session until end-of-stream, a transport or transcription
// error, or ctx cancellation. The seat, if one was leased, is released and
// the connection closed before Run returns. A clean end-of-stream returns nil.
func (s *Session) Run(ctx context.Context) (err error) {
	if !s.started.CompareAndSwap(false, true) {
		return ErrSessionClosed
	}
	if s.pools == nil {
		s.lifecycle.Close()
		_ = s.conn.Close()
		return pool.ErrNoPools
	}

	start := s.now()
	s.metrics.RecordSessionStart()
	s.cadence = cadence.New(s.cfg.Cadence, start)

	busCtx, busCancel := context.WithCancel(context.WithoutCancel(ctx))
	go s.drainEvents(busCtx, s.logger)

	reason := ReasonCanceled
	defer func() {
		s.shutdown(reason, err, start, busCancel)
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	inbound := make(chan frame)
	go s.readLoop(ctx, inbound)

	s.logger.Info().Msg("Session accepted, awaiting worker")

	reason, err = s.admit(ctx, inbound)
	if reason != "" {
		return err
	}
	reason, err = s.stream(ctx, inbound)
	return err
}

func (s *Session) readLoop(ctx context.Context, out chan<- frame) {
	for {
		typ, data, err := s.conn.ReadMessage()
		select {
		case out <- frame{typ: typ, data: data, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

// admit polls the pools until a seat is leased. Audio received while waiting
// is buffered; end-of-stream while waiting ends the session. An empty reason
// means the session holds a seat and is STREAMING.
func (s *Session) admit(ctx context.Context, inbound <-chan frame) (string, error) {
	waitStart := s.now()
	for {
		if lease, ok := s.pools.TryAcquire(); ok {
			s.lease = lease
			if err := s.lifecycle.Transition(StateStreaming); err != nil {
				return ReasonCanceled, err
			}
			s.logger = s.logger.With().Str("pool", lease.Pool()).Logger()
			s.metrics.RecordAdmitted(s.now().Sub(waitStart).Seconds())
			s.logger.Info().
				Str("provider", lease.Transcriber().Name()).
				Int("bufferedBytes", s.window.Len()).
				Msg("Worker seat leased, streaming")
			return "", nil
		}

		s.metrics.RecordAdmissionWait()
		s.logger.Debug().Dur("retryIn", s.cfg.RetryDelay).Msg("No worker available")
		if err := s.sendText(NoticeNoWorker); err != nil {
			return ReasonSend, err
		}

		timer := time.NewTimer(s.cfg.RetryDelay)
	wait:
		for {
			select {
			case <-ctx.Done():
				timer.Stop()
				return ReasonCanceled, ctx.Err()
			case f := <-inbound:
				reason, done, err := s.handleFrame(ctx, f)
				if done {
					timer.Stop()
					return reason, err
				}
				// Nothing transcribes yet, so the window may be trimmed freely.
				s.window.TrimToMax(s.cfg.MaxWindowBytes)
			case <-timer.C:
				break wait
			}
		}
	}
}

// stream is the STREAMING receive loop.
func (s *Session) stream(ctx context.Context, inbound <-chan frame) (string, error) {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ReasonCanceled, ctx.Err()
		case f := <-inbound:
			if reason, done, err := s.handleFrame(ctx, f); done {
				return reason, err
			}
		case res := <-s.results:
			s.inFlight = false
			if reason, err := s.handleResult(res); err != nil {
				return reason, err
			}
		case <-ticker.C:
		}

		if err := s.step(ctx); err != nil {
			return ReasonSend, err
		}
	}
}

// handleFrame processes one inbound message. done reports that the session
// must end with reason.
func (s *Session) handleFrame(ctx context.Context, f frame) (reason string, done bool, err error) {
	if f.err != nil {
		return ReasonTransport, true, f.err
	}
	switch f.typ {
	case websocket.BinaryMessage:
		s.ingest(f.data)
	case websocket.TextMessage:
		return s.control(ctx, f.data)
	}
	return "", false, nil
}

func (s *Session) ingest(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	s.window.Append(chunk)
	s.audio = append(s.audio, chunk...)
	s.cadence.AddBytes(len(chunk))
	s.metrics.RecordAudioReceived(len(chunk))
}

func (s *Session) control(ctx context.Context, data []byte) (string, bool, error) {
	text := strings.TrimSpace(string(data))
	if !strings.Contains(text, ControlEndOfStream) {
		s.metrics.RecordUnknownControl()
		s.logger.Warn().Str("message", text).Msg("Unknown control message")
		if err := s.sendText(ReplyUnknownControl); err != nil {
			return ReasonSend, true, err
		}
		return "", false, nil
	}

	id := s.persistExport(ctx)
	if err := s.sendText(id); err != nil {
		return ReasonSend, true, err
	}
	return ReasonEOF, true, nil
}

// persistExport hands the artifact to the store in the background and
// returns its ID.
func (s *Session) persistExport(ctx context.Context) string {
	artifact := models.ExportArtifact{
		ID:     export.NewID(),
		Audio:  s.audio,
		Finals: append([]models.FinalMessage(nil), s.finals...),
	}
	s.audio = nil

	logger := s.logger.With().Str("exportId", artifact.ID).Logger()
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), exportTimeout)
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		defer cancel()
		err := s.store.Save(saveCtx, artifact)
		s.metrics.RecordExport(err)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to persist export")
			return
		}
		logger.Info().
			Int("audioBytes", len(artifact.Audio)).
			Int("finals", len(artifact.Finals)).
			Msg("Export persisted")

		ev := models.ExportReady{
			EventType:  models.EventExportReady,
			SessionID:  s.id,
			ExportID:   artifact.ID,
			AudioBytes: len(artifact.Audio),
			Finals:     len(artifact.Finals),
			Timestamp:  time.Now().UnixMilli(),
		}
		if err := s.sink.PublishExportReady(saveCtx, s.id, ev); err != nil {
			logger.Warn().Err(err).Msg("Failed to publish export event")
		}
	}()
	return artifact.ID
}

// step runs whatever the cadence allows. A final is considered first so the
// window is trimmed before the next partial snapshots it.
func (s *Session) step(ctx context.Context) error {
	if s.inFlight {
		return nil
	}
	now := s.now()
	if s.cadence.ShouldPublishFinal(s.tracker.ConfirmedCount(), s.tracker.ContainsSentenceEnd(), now) {
		if err := s.publishFinal(now); err != nil {
			return err
		}
	}
	if s.window.Len() > 0 && s.cadence.ShouldRunPartial(now) {
		s.dispatch(ctx, now)
	}
	return nil
}

// dispatch starts a transcription of the current window.
func (s *Session) dispatch(ctx context.Context, now time.Time) {
	audio := s.window.Bytes()
	offset := s.window.PreviousByteCount()
	prompt := s.history
	t := s.lease.Transcriber()

	s.cadence.MarkPartial(now)
	s.inFlight = true

	go func() {
		start := s.now()
		hyp, err := t.Transcribe(ctx, audio, prompt)
		s.results <- result{
			hyp:         hyp,
			err:         err,
			offset:      offset,
			windowBytes: len(audio),
			took:        s.now().Sub(start),
		}
	}()
}

// handleResult merges a finished transcription and sends the partial.
func (s *Session) handleResult(res result) (string, error) {
	poolName, provider := s.lease.Pool(), s.lease.Transcriber().Name()
	s.metrics.RecordTranscription(poolName, provider, res.err, res.took.Seconds())
	if res.err != nil {
		return ReasonTranscription, fmt.Errorf("transcribe: %w", res.err)
	}

	words := s.absoluteWords(res.hyp, res.offset)
	s.tracker.Merge(words)

	partial := models.JoinText(s.tracker.Unconfirmed())
	if err := s.sendJSON(models.PartialMessage{Partial: partial}); err != nil {
		return ReasonSend, err
	}
	s.metrics.RecordPartial()
	s.emit(models.EventTranscriptPartial, models.TranscriptPartial{
		EventType: models.EventTranscriptPartial,
		SessionID: s.id,
		Pool:      poolName,
		Timestamp: time.Now().UnixMilli(),
		Text:      partial,
	})

	if s.cadence.RecordPartialRun(res.took, res.windowBytes, s.cfg.MaxWindowBytes) {
		interval := s.cadence.PartialInterval()
		s.metrics.RecordPartialThreshold(interval.Seconds())
		s.logger.Debug().
			Dur("took", res.took).
			Dur("partialInterval", interval).
			Dur("finalThreshold", s.cadence.FinalThreshold()).
			Msg("Cadence adapted")
	}
	return "", nil
}

// absoluteWords moves hypothesis timestamps to stream time and drops words
// already covered by a published final.
func (s *Session) absoluteWords(hyp models.Hypothesis, offset int64) []models.Word {
	cutoff, haveFinal := s.lastFinalEnd()
	out := make([]models.Word, 0, len(hyp))
	for _, w := range hyp {
		w.Start = window.AbsoluteTime(w.Start, offset)
		w.End = window.AbsoluteTime(w.End, offset)
		if haveFinal && w.End <= cutoff+finalCutoffTolerance {
			continue
		}
		out = append(out, w)
	}
	return out
}

func (s *Session) lastFinalEnd() (float64, bool) {
	if len(s.finals) == 0 {
		return 0, false
	}
	return s.finals[len(s.finals)-1].End(), true
}

// publishFinal commits confirmed words. An empty flush sends nothing and
// leaves the cadence untouched.
func (s *Session) publishFinal(now time.Time) error {
	var words []models.Word
	if s.tracker.ContainsSentenceEnd() {
		words = s.tracker.FlushAtSentenceEnd()
	} else {
		words = s.tracker.FlushAll()
	}
	if len(s.finals) > 0 {
		words = dropRepeatedLeadingWord(s.finals[len(s.finals)-1], words)
	}
	if len(words) == 0 {
		return nil
	}

	final := models.NewFinalMessage(words)
	if err := s.validator.ValidateFinal(final); err != nil {
		s.logger.Warn().Err(err).Msg("Final failed validation")
	}
	s.finals = append(s.finals, final)
	s.history = tail(strings.TrimSpace(s.history+" "+final.Text), s.cfg.PromptChars)
	if removed := s.window.TrimToMax(s.cfg.MaxWindowBytes); removed > 0 {
		s.logger.Debug().Int("removedBytes", removed).Float64("windowStart", s.window.WindowStart()).Msg("Window trimmed")
	}

	if err := s.sendJSON(final); err != nil {
		return err
	}
	s.cadence.MarkFinal(now)
	s.metrics.RecordFinal(len(final.Result))

	segmentID := s.segments.Next(s.id)
	s.logger.Info().
		Str("segmentId", segmentID).
		Int("words", len(final.Result)).
		Float64("end", final.End()).
		Msg("Final published")
	s.emit(models.EventTranscriptFinal, models.TranscriptFinal{
		EventType:     models.EventTranscriptFinal,
		SessionID:     s.id,
		Pool:          s.lease.Pool(),
		Timestamp:     time.Now().UnixMilli(),
		SegmentID:     segmentID,
		Text:          final.Text,
		Words:         final.Result,
		Confidence:    models.MeanConfidence(final.Result),
		AudioOffsetMs: int64(final.Result[0].Start * 1000),
	})
	return nil
}

// dropRepeatedLeadingWord removes the first word of words when it repeats the
// last word of the previous final. Consecutive windows tend to re-recognize
// the boundary word; a genuinely repeated word at the boundary is lost.
func dropRepeatedLeadingWord(prev models.FinalMessage, words []models.Word) []models.Word {
	if len(prev.Result) == 0 || len(words) == 0 {
		return words
	}
	last := strings.TrimSpace(prev.Result[len(prev.Result)-1].Text)
	if strings.TrimSpace(words[0].Text) == last {
		return words[1:]
	}
	return words
}

// tail returns the last n runes of text.
func tail(text string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(text)
	if len(r) <= n {
		return text
	}
	return string(r[len(r)-n:])
}

func (s *Session) sendText(text string) error {
	if err := s.conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

func (s *Session) sendJSON(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

// emit queues a bus event. Events are dropped when the queue is full so a
// slow broker never stalls the stream.
func (s *Session) emit(kind string, event any) {
	select {
	case s.bus <- busEvent{kind: kind, event: event}:
	default:
		s.logger.Warn().Str("eventType", kind).Msg("Event queue full, dropping event")
	}
}

func (s *Session) drainEvents(ctx context.Context, logger zerolog.Logger) {
	defer close(s.busDone)
	for ev := range s.bus {
		var err error
		switch ev.kind {
		case models.EventTranscriptPartial:
			err = s.sink.PublishPartial(ctx, s.id, ev.event)
		case models.EventTranscriptFinal:
			err = s.sink.PublishFinal(ctx, s.id, ev.event)
		}
		if err != nil {
			logger.Warn().Err(err).Str("eventType", ev.kind).Msg("Failed to publish event")
		}
	}
}

// shutdown is the single exit path: CLOSING, close the connection, wait out
// any in-flight call, release the seat, CLOSED.
func (s *Session) shutdown(reason string, err error, start time.Time, busCancel context.CancelFunc) {
	if terr := s.lifecycle.Transition(StateClosing); terr != nil && !errors.Is(terr, ErrSessionClosed) {
		s.logger.Debug().Err(terr).Msg("Closing from unexpected state")
	}

	if cerr := s.conn.Close(); cerr != nil {
		s.logger.Debug().Err(cerr).Msg("Connection close")
	}

	// The call sees a canceled context; its result is discarded.
	if s.inFlight {
		<-s.results
		s.inFlight = false
	}
	if s.lease != nil {
		s.lease.Release()
	}
	s.lifecycle.Close()

	close(s.bus)
	select {
	case <-s.busDone:
	case <-time.After(busDrainTimeout):
		s.logger.Warn().Msg("Timed out draining events")
	}
	busCancel()

	duration := s.now().Sub(start)
	s.metrics.RecordSessionEnd(reason, reason == ReasonEOF, duration.Seconds())

	ev := s.logger.Info()
	if err != nil && reason != ReasonEOF {
		ev = s.logger.Warn().Err(err)
	}
	ev.Str("reason", reason).
		Int("finals", len(s.finals)).
		Dur("duration", duration).
		Msg("Session closed")
}
