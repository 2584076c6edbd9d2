package main

import (
	"encoding/binary"
	"flag"
	"io"
	"log"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"

	"realtime-stt-gateway/internal/schema"
	"realtime-stt-gateway/internal/service/window"
)

// WAV header is 44 bytes for standard PCM files
const wavHeaderSize = 44

// Stream audio in chunks to simulate real-time streaming
// At 16kHz 16-bit mono = 32000 bytes/second
// 100ms chunks = 3200 bytes
const chunkSize = window.BytesPerSecond / 10
const chunkIntervalMs = 100

func main() {
	audioFile := flag.String("audio", "testdata/sample-16khz.wav", "Path to WAV file (16kHz 16-bit mono)")
	serverAddr := flag.String("server", "localhost:8080", "Gateway HTTP address")
	realtime := flag.Bool("realtime", true, "Pace frames at wall clock speed")
	flag.Parse()

	// Open audio file
	f, err := os.Open(*audioFile)
	if err != nil {
		log.Fatalf("Failed to open audio file: %v", err)
	}
	defer f.Close()

	// Read and validate WAV header
	header := make([]byte, wavHeaderSize)
	if _, err := io.ReadFull(f, header); err != nil {
		log.Fatalf("Failed to read WAV header: %v", err)
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		log.Fatal("Not a valid WAV file")
	}

	audioFormat := binary.LittleEndian.Uint16(header[20:22])
	numChannels := binary.LittleEndian.Uint16(header[22:24])
	sampleRate := binary.LittleEndian.Uint32(header[24:28])
	bitsPerSample := binary.LittleEndian.Uint16(header[34:36])

	log.Printf("WAV file: format=%d channels=%d sampleRate=%d bitsPerSample=%d",
		audioFormat, numChannels, sampleRate, bitsPerSample)

	if audioFormat != 1 { // PCM
		log.Fatal("Only PCM format supported")
	}
	if sampleRate != window.SampleRate || numChannels != 1 || bitsPerSample != 16 {
		log.Printf("Warning: expected %d Hz 16-bit mono, transcripts will be off", window.SampleRate)
	}

	u := url.URL{Scheme: "ws", Host: *serverAddr, Path: "/v1/stream"}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()

	log.Printf("Connected to %s", u.String())

	done := make(chan struct{})
	go receive(conn, done)

	// Stream audio in chunks
	audioChunk := make([]byte, chunkSize)
	var totalBytes int64
	var chunkNum int
	startTime := time.Now()

	for {
		n, err := io.ReadFull(f, audioChunk)
		if n > 0 {
			chunkNum++
			totalBytes += int64(n)
			if err := conn.WriteMessage(websocket.BinaryMessage, audioChunk[:n]); err != nil {
				log.Fatalf("Failed to send frame: %v", err)
			}
			if chunkNum%50 == 0 {
				log.Printf("Sent chunk %d (%d bytes total)", chunkNum, totalBytes)
			}
			if *realtime {
				time.Sleep(chunkIntervalMs * time.Millisecond)
			}
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			log.Fatalf("Failed to read audio: %v", err)
		}
	}

	log.Printf("Finished streaming: %d chunks, %d bytes in %v", chunkNum, totalBytes, time.Since(startTime))
	log.Println("Sending eof, waiting for export id...")

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"eof" : 1}`)); err != nil {
		log.Fatalf("Failed to send eof: %v", err)
	}

	select {
	case <-done:
	case <-time.After(60 * time.Second):
		log.Fatal("Timed out waiting for the export id")
	}
}

// receive prints server messages until the connection closes. The export
// id is the last plain text message before close.
func receive(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	v := schema.New()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				log.Printf("Connection closed: %v", err)
			}
			return
		}

		msg, err := v.Decode(data)
		if err != nil {
			log.Printf("Invalid message: %v", err)
			continue
		}
		switch msg.Kind {
		case schema.KindPartial:
			if msg.Partial.Partial != "" {
				log.Printf("partial: %s", msg.Partial.Partial)
			}
		case schema.KindFinal:
			log.Printf("FINAL:   %s (%d words, ends %.2fs)", msg.Final.Text, len(msg.Final.Result), msg.Final.End())
		default:
			log.Printf("server:  %s", msg.Text)
		}
	}
}
