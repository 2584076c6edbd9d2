// Transcript tail prints transcript and export events from Kafka as they
// arrive.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"

	"realtime-stt-gateway/internal/models"
)

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}

// event carries the union of the fields printed for every event type.
type event struct {
	EventType string        `json:"eventType"`
	SessionID string        `json:"sessionId"`
	SegmentID string        `json:"segmentId"`
	Text      string        `json:"text"`
	ExportID  string        `json:"exportId"`
	Words     []models.Word `json:"words"`
}

func consume(ctx context.Context, brokers []string, topic string, since time.Duration, maxLen int) {
	// Partition reader without consumer group, so several tails can run side by side
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   brokers,
		Topic:     topic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  10e6,
	})
	defer reader.Close()

	if err := reader.SetOffsetAt(ctx, time.Now().Add(-since)); err != nil {
		log.Printf("Cannot seek %s: %v", topic, err)
	}
	log.Printf("Consuming from Kafka topic: %s partition 0 (last %v)", topic, since)

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("Kafka read error on %s: %v", topic, err)
			time.Sleep(time.Second)
			continue
		}

		var e event
		if err := json.Unmarshal(msg.Value, &e); err != nil {
			log.Printf("JSON unmarshal error: %v", err)
			continue
		}

		switch {
		case e.ExportID != "":
			log.Printf("[%s] %s export=%s", e.SessionID, e.EventType, e.ExportID)
		case e.SegmentID != "":
			log.Printf("[%s] %s %s (%d words, segment %s)", e.SessionID, e.EventType, truncate(e.Text, maxLen), len(e.Words), e.SegmentID)
		default:
			log.Printf("[%s] %s %s", e.SessionID, e.EventType, truncate(e.Text, maxLen))
		}
	}
}

func main() {
	brokers := flag.String("brokers", "localhost:9092", "Kafka brokers (comma-separated)")
	topics := flag.String("topics", "stream.transcript.partial,stream.transcript.final,stream.export.ready", "Topics to follow (comma-separated)")
	since := flag.Duration("since", time.Hour, "How far back to start reading")
	maxLen := flag.Int("max-len", 80, "Truncate printed text to this many characters")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	for _, topic := range strings.Split(*topics, ",") {
		topic = strings.TrimSpace(topic)
		if topic == "" {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			consume(ctx, strings.Split(*brokers, ","), topic, *since, *maxLen)
		}()
	}
	wg.Wait()
}
