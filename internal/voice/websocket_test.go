package voice

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/rtp"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// gatewayStub runs a one-connection websocket server that records the join
// request and plays a scripted message sequence.
func gatewayStub(t *testing.T, script func(*websocket.Conn)) (*httptest.Server, chan *http.Request) {
	t.Helper()
	joined := make(chan *http.Request, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		joined <- r.Clone(context.Background())
		ws, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer ws.Close()
		script(ws)
	}))
	t.Cleanup(srv.Close)
	return srv, joined
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestJoin_SendsRoomAndAuth(t *testing.T) {
	srv, joined := gatewayStub(t, func(ws *websocket.Conn) {
		ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	})

	g := NewWebsocketGateway(wsURL(srv), "secret-token")
	conn, err := g.Join(context.Background(), "room-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer conn.Close()

	req := <-joined
	if got := req.URL.Query().Get("room"); got != "room-1" {
		t.Errorf("expected room query parameter, got %q", got)
	}
	if got := req.Header.Get("Authorization"); got != "Bearer secret-token" {
		t.Errorf("expected bearer auth header, got %q", got)
	}
}

func TestJoin_DialFailure(t *testing.T) {
	g := NewWebsocketGateway("ws://127.0.0.1:1/voice", "")
	if _, err := g.Join(context.Background(), "room-1"); err == nil {
		t.Error("expected dial error")
	}
}

func TestReadPump_DeliversEventsAndFrames(t *testing.T) {
	pkt := rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			SequenceNumber: 7,
			Timestamp:      960,
			SSRC:           42,
		},
		Payload: []byte{0x01, 0x02, 0x03},
	}
	raw, err := pkt.Marshal()
	if err != nil {
		t.Fatal(err)
	}

	srv, _ := gatewayStub(t, func(ws *websocket.Conn) {
		ws.WriteMessage(websocket.TextMessage,
			[]byte(`{"op":"speaking","userId":"1001","username":"alice","ssrc":42,"speaking":true}`))
		ws.WriteMessage(websocket.BinaryMessage, raw)
		// Unknown ops and malformed payloads must be skipped silently.
		ws.WriteMessage(websocket.TextMessage, []byte(`{"op":"ping"}`))
		ws.WriteMessage(websocket.TextMessage, []byte(`not json`))
		ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	})

	conn, err := NewWebsocketGateway(wsURL(srv), "").Join(context.Background(), "room-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case ev := <-conn.Events():
		if ev.UserID != "1001" || ev.Username != "alice" || ev.SSRC != 42 || !ev.Speaking {
			t.Errorf("unexpected event: %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for speaking event")
	}

	select {
	case f := <-conn.Frames():
		if f.SSRC != 42 || f.Sequence != 7 || f.Timestamp != 960 {
			t.Errorf("unexpected frame header: %+v", f)
		}
		if string(f.Opus) != "\x01\x02\x03" {
			t.Errorf("unexpected payload: %v", f.Opus)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
	}

	// Server close ends the stream: both channels must close.
	for range conn.Frames() {
	}
	for range conn.Events() {
	}
}

func TestClose_Idempotent(t *testing.T) {
	srv, _ := gatewayStub(t, func(ws *websocket.Conn) {
		ws.ReadMessage() // block until the client goes away
	})

	conn, err := NewWebsocketGateway(wsURL(srv), "").Join(context.Background(), "room-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := conn.Close(); err != nil {
		t.Errorf("unexpected error on close: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Errorf("expected second close to be a no-op, got %v", err)
	}
}
