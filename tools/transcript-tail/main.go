// Transcript Tail - follows the transcript Kafka topics and prints every
// interim and final result to the terminal, grouped by session.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"
)

// TranscriptEvent mirrors the shape the service publishes.
type TranscriptEvent struct {
	EventType  string  `json:"eventType"`
	SessionID  string  `json:"sessionId"`
	ResultID   string  `json:"resultId"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence,omitempty"`
	Final      bool    `json:"final"`
	Provider   string  `json:"provider"`
	SpeakerID  string  `json:"speakerId,omitempty"`
	Timestamp  int64   `json:"timestamp"`
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

func consume(ctx context.Context, brokers, topic string, events chan<- TranscriptEvent) {
	// Partition reader without a consumer group; works through port-forward.
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   strings.Split(brokers, ","),
		Topic:     topic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  10e6,
	})
	defer reader.Close()

	reader.SetOffsetAt(ctx, time.Now().Add(-1*time.Hour))

	log.Printf("consuming topic %s partition 0 (last hour)", topic)

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("kafka read error on %s: %v", topic, err)
			time.Sleep(time.Second)
			continue
		}

		var event TranscriptEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			log.Printf("json unmarshal error: %v", err)
			continue
		}
		events <- event
	}
}

func main() {
	brokers := flag.String("brokers", "localhost:9092", "Kafka brokers (comma-separated)")
	topicPartial := flag.String("topic-partial", "interview.transcript.partial", "Interim transcript topic")
	topicFinal := flag.String("topic-final", "interview.transcript.final", "Final transcript topic")
	finalsOnly := flag.Bool("finals-only", false, "Only print final results")
	session := flag.String("session", "", "Only print results for this session id")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	events := make(chan TranscriptEvent, 100)
	if !*finalsOnly {
		go consume(ctx, *brokers, *topicPartial, events)
	}
	go consume(ctx, *brokers, *topicFinal, events)

	log.Printf("tailing transcripts from %s", *brokers)

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(os.Stderr)
			return
		case e := <-events:
			if *session != "" && e.SessionID != *session {
				continue
			}

			marker := "…"
			if e.Final {
				marker = "✔"
			}
			speaker := ""
			if e.SpeakerID != "" {
				speaker = " [" + e.SpeakerID + "]"
			}
			fmt.Printf("%s %s%s (%s, %.2f): %s\n",
				marker, truncate(e.SessionID, 16), speaker, e.Provider, e.Confidence, e.Text)
		}
	}
}
