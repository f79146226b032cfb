// Command wsclient is a development client: it joins a session over the
// websocket gateway, streams a WAV file in real-time-sized chunks and prints
// every event the room receives.
package main

import (
	"encoding/binary"
	"encoding/json"
	"flag"
	"io"
	"log"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

// WAV header is 44 bytes for standard PCM files.
const wavHeaderSize = 44

// 100ms chunks at 16kHz 16-bit mono = 3200 bytes.
const chunkSize = 3200
const chunkIntervalMs = 100

type inbound struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Seq       int    `json:"seq,omitempty"`
	Format    string `json:"format,omitempty"`
	Audio     []byte `json:"audio,omitempty"`
}

func main() {
	serverURL := flag.String("server", "ws://localhost:8080/v1/ws", "gateway websocket URL")
	participant := flag.String("participant", "dev-client", "participant id")
	sessionID := flag.String("session", "dev-session-"+time.Now().Format("150405"), "session id")
	audioFile := flag.String("audio", "", "path to a WAV file to stream (16kHz 16-bit mono)")
	useStream := flag.Bool("stream", false, "use a continuous stream instead of one-shot chunks")
	flag.Parse()

	ws, _, err := websocket.DefaultDialer.Dial(*serverURL+"?participant="+*participant, nil)
	if err != nil {
		log.Fatalf("dial failed: %v", err)
	}
	defer ws.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, payload, err := ws.ReadMessage()
			if err != nil {
				return
			}
			var pretty map[string]any
			if json.Unmarshal(payload, &pretty) == nil {
				log.Printf("<- %s: %s", pretty["type"], payload)
			}
		}
	}()

	send := func(msg inbound) {
		if err := ws.WriteJSON(msg); err != nil {
			log.Fatalf("write failed: %v", err)
		}
	}

	send(inbound{Type: "join", SessionID: *sessionID})
	log.Printf("joined session %s as %s", *sessionID, *participant)

	if *audioFile == "" {
		log.Println("no -audio file given, listening only; ctrl-c to exit")
		<-done
		return
	}

	f, err := os.Open(*audioFile)
	if err != nil {
		log.Fatalf("failed to open audio file: %v", err)
	}
	defer f.Close()

	header := make([]byte, wavHeaderSize)
	if _, err := io.ReadFull(f, header); err != nil {
		log.Fatalf("failed to read WAV header: %v", err)
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		log.Fatal("not a valid WAV file")
	}

	numChannels := binary.LittleEndian.Uint16(header[22:24])
	sampleRate := binary.LittleEndian.Uint32(header[24:28])
	bitsPerSample := binary.LittleEndian.Uint16(header[34:36])
	log.Printf("WAV file: channels=%d sampleRate=%d bitsPerSample=%d",
		numChannels, sampleRate, bitsPerSample)

	if *useStream {
		send(inbound{Type: "stream-start"})
	}

	chunk := make([]byte, chunkSize)
	var totalBytes int64
	var seq int
	start := time.Now()

	for {
		n, err := f.Read(chunk)
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Fatalf("failed to read audio: %v", err)
		}

		send(inbound{Type: "audio", Seq: seq, Format: "pcm", Audio: chunk[:n]})
		seq++
		totalBytes += int64(n)

		if seq%10 == 0 {
			log.Printf("-> sent chunk %d (%d bytes total)", seq, totalBytes)
		}
		time.Sleep(chunkIntervalMs * time.Millisecond)
	}

	log.Printf("finished streaming: %d chunks, %d bytes in %v", seq, totalBytes, time.Since(start))

	if *useStream {
		send(inbound{Type: "stream-stop"})
	}

	// Give the final results a moment to arrive.
	select {
	case <-done:
	case <-time.After(10 * time.Second):
	}
}
