// voicesim is a local stand-in for the voice platform gateway. It serves the
// websocket protocol the recorder consumes and replays WAV files as speakers:
// one JSON speaking event, the audio as RTP-framed PCM, then a stop event.
// Run the recorder with AUDIO_CODEC=pcm against it.
//
// Usage:
//
//	voicesim -addr :8765 alice.wav bob.wav
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/rtp"

	"voice-scribe-service/internal/audio"
)

const frameDuration = 20 * time.Millisecond

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

type speaker struct {
	userID   string
	username string
	ssrc     uint32
	wav      []byte
	info     *audio.WAVInfo
}

func main() {
	addr := flag.String("addr", ":8765", "listen address")
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: voicesim [-addr :8765] <wav file>...")
		os.Exit(2)
	}

	speakers := make([]speaker, 0, flag.NArg())
	for i, path := range flag.Args() {
		data, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "read %s: %v\n", path, err)
			os.Exit(1)
		}
		info, err := audio.ReadWAVInfo(data)
		if err != nil {
			fmt.Fprintf(os.Stderr, "parse %s: %v\n", path, err)
			os.Exit(1)
		}
		name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		speakers = append(speakers, speaker{
			userID:   fmt.Sprintf("%d", 1001+i),
			username: name,
			ssrc:     uint32(100 + i),
			wav:      data[44:],
			info:     info,
		})
	}

	http.HandleFunc("/voice", func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		room := r.URL.Query().Get("room")
		fmt.Printf("client joined room %q, replaying %d speakers\n", room, len(speakers))

		for _, sp := range speakers {
			if err := replay(ws, sp); err != nil {
				fmt.Fprintf(os.Stderr, "replay %s: %v\n", sp.username, err)
				return
			}
		}
		ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"))
	})

	fmt.Printf("voicesim listening on %s\n", *addr)
	if err := http.ListenAndServe(*addr, nil); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func replay(ws *websocket.Conn, sp speaker) error {
	if err := sendSpeaking(ws, sp, true); err != nil {
		return err
	}

	bytesPerFrame := int(sp.info.SampleRate) * int(sp.info.Channels) * int(sp.info.BitsPerSample) / 8 / 50
	samplesPerFrame := uint32(sp.info.SampleRate / 50)

	var seq uint16
	var ts uint32
	for off := 0; off < len(sp.wav); off += bytesPerFrame {
		end := off + bytesPerFrame
		if end > len(sp.wav) {
			end = len(sp.wav)
		}
		pkt := rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				PayloadType:    120,
				SequenceNumber: seq,
				Timestamp:      ts,
				SSRC:           sp.ssrc,
			},
			Payload: sp.wav[off:end],
		}
		data, err := pkt.Marshal()
		if err != nil {
			return err
		}
		if err := ws.WriteMessage(websocket.BinaryMessage, data); err != nil {
			return err
		}
		seq++
		ts += samplesPerFrame
		time.Sleep(frameDuration)
	}

	return sendSpeaking(ws, sp, false)
}

func sendSpeaking(ws *websocket.Conn, sp speaker, speaking bool) error {
	msg, err := json.Marshal(map[string]any{
		"op":       "speaking",
		"userId":   sp.userID,
		"username": sp.username,
		"ssrc":     sp.ssrc,
		"speaking": speaking,
	})
	if err != nil {
		return err
	}
	return ws.WriteMessage(websocket.TextMessage, msg)
}
