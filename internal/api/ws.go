package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/banshee-data/frametransform/internal/bus"
	"github.com/banshee-data/frametransform/internal/httputil"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
}

// WSMessage is the websocket frame in both directions. Payload is the raw
// JSON published on the bus.
type WSMessage struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
	TimeNs  int64           `json:"time_ns,omitempty"`
}

// handleWebSocket subscribes the connection to every ?topic= pattern and
// forwards matching bus messages. Frames sent by the client are published
// on the bus, so a websocket can also feed observation batches.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		httputil.Unavailable(w, "bus")
		return
	}
	patterns := r.URL.Query()["topic"]
	if len(patterns) == 0 {
		httputil.BadRequest(w, "at least one topic is required")
		return
	}

	subs := make([]*bus.Subscription, 0, len(patterns))
	defer func() {
		for _, sub := range subs {
			s.bus.Unsubscribe(sub.ID)
		}
	}()
	for _, p := range patterns {
		sub, err := s.bus.Subscribe(p)
		if err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		subs = append(subs, sub)
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WS] failed to upgrade: %v", err)
		return
	}
	defer ws.Close()
	log.Printf("[WS] client %s subscribed to %v", r.RemoteAddr, patterns)

	merged := make(chan bus.Message)
	done := make(chan struct{})
	defer close(done)
	for _, sub := range subs {
		go func(c <-chan bus.Message) {
			for msg := range c {
				select {
				case merged <- msg:
				case <-done:
					return
				}
			}
		}(sub.C)
	}

	readErr := make(chan error, 1)
	go func() { readErr <- s.readPump(ws) }()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	for {
		select {
		case err := <-readErr:
			if err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("[WS] client %s: %v", r.RemoteAddr, err)
			}
			return
		case msg := <-merged:
			out := WSMessage{Topic: msg.Topic, Payload: payloadJSON(msg.Payload), TimeNs: msg.Time.UnixNano()}
			_ = ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := ws.WriteJSON(out); err != nil {
				return
			}
		case <-ping.C:
			_ = ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump publishes client frames until the connection fails.
func (s *Server) readPump(ws *websocket.Conn) error {
	_ = ws.SetReadDeadline(time.Now().Add(wsPongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		var in WSMessage
		if err := ws.ReadJSON(&in); err != nil {
			var syntaxErr *json.SyntaxError
			if errors.As(err, &syntaxErr) {
				continue
			}
			return err
		}
		if _, err := s.bus.Publish(in.Topic, in.Payload); err != nil {
			log.Printf("[WS] publish %q: %v", in.Topic, err)
		}
	}
}

// payloadJSON passes JSON payloads through and quotes anything else.
func payloadJSON(p []byte) json.RawMessage {
	if json.Valid(p) {
		return p
	}
	quoted, _ := json.Marshal(string(p))
	return quoted
}
