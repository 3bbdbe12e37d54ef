package voice

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/rtp"
	"github.com/rs/zerolog/log"
)

// WebsocketGateway talks to the voice platform over a websocket: JSON text
// messages carry speaking-activity events, binary messages carry RTP packets
// with Opus payloads.
type WebsocketGateway struct {
	BaseURL   string
	AuthToken string
	Dialer    *websocket.Dialer
}

// NewWebsocketGateway creates a gateway client for the given base URL.
func NewWebsocketGateway(baseURL, authToken string) *WebsocketGateway {
	return &WebsocketGateway{
		BaseURL:   baseURL,
		AuthToken: authToken,
		Dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// speakingPayload is the control message the platform sends on voice
// activity transitions.
type speakingPayload struct {
	Op       string `json:"op"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
	SSRC     uint32 `json:"ssrc"`
	Speaking bool   `json:"speaking"`
}

// Join dials the gateway for one room and starts the read pump.
func (g *WebsocketGateway) Join(ctx context.Context, roomID string) (Conn, error) {
	u, err := url.Parse(g.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid gateway url: %w", err)
	}
	q := u.Query()
	q.Set("room", roomID)
	u.RawQuery = q.Encode()

	header := http.Header{}
	if g.AuthToken != "" {
		header.Set("Authorization", "Bearer "+g.AuthToken)
	}

	ws, _, err := g.Dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return nil, fmt.Errorf("dial voice gateway: %w", err)
	}

	c := &wsConn{
		ws:     ws,
		events: make(chan SpeakingEvent, 16),
		frames: make(chan Frame, 256),
	}
	go c.readPump(roomID)
	return c, nil
}

type wsConn struct {
	ws        *websocket.Conn
	events    chan SpeakingEvent
	frames    chan Frame
	closeOnce sync.Once
}

func (c *wsConn) Events() <-chan SpeakingEvent { return c.events }
func (c *wsConn) Frames() <-chan Frame         { return c.frames }

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.ws.Close()
	})
	return err
}

// readPump drains the websocket until it closes, fanning messages out to the
// event and frame channels. Both channels are closed on exit so consumers
// observe end-of-stream.
func (c *wsConn) readPump(roomID string) {
	defer func() {
		close(c.frames)
		close(c.events)
		c.Close()
	}()

	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Err(err).Str("roomId", roomID).Msg("Voice gateway read ended")
			}
			return
		}

		switch msgType {
		case websocket.TextMessage:
			var p speakingPayload
			if err := json.Unmarshal(data, &p); err != nil {
				log.Warn().Err(err).Str("roomId", roomID).Msg("Malformed gateway control message")
				continue
			}
			if p.Op != "speaking" {
				continue
			}
			c.events <- SpeakingEvent{
				UserID:   p.UserID,
				Username: p.Username,
				SSRC:     p.SSRC,
				Speaking: p.Speaking,
				At:       time.Now(),
			}
		case websocket.BinaryMessage:
			pkt := &rtp.Packet{}
			if err := pkt.Unmarshal(data); err != nil {
				log.Warn().Err(err).Str("roomId", roomID).Msg("Malformed RTP packet from gateway")
				continue
			}
			c.frames <- Frame{
				SSRC:      pkt.SSRC,
				Sequence:  pkt.SequenceNumber,
				Timestamp: pkt.Timestamp,
				Opus:      pkt.Payload,
			}
		}
	}
}
