package ws

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"outreach_engine/internal/logbus"
)

const (
	writeWait    = 5 * time.Second
	pingInterval = 30 * time.Second
	subBuffer    = 256
)

// Handler streams bus events to websocket clients. A client receives the
// buffered snapshot first, then live events. The optional "types" query
// parameter (comma separated) restricts which event types are forwarded.
type Handler struct {
	bus          *logbus.Bus
	allowOrigins []string
	upgrader     websocket.Upgrader
}

func NewHandler(bus *logbus.Bus, allowOrigins []string) *Handler {
	h := &Handler{
		bus:          bus,
		allowOrigins: allowOrigins,
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin: h.checkOrigin,
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	want := parseTypes(r.URL.Query().Get("types"))

	// Subscribe before sending the snapshot so nothing published in between is lost.
	ch, cancel := h.bus.Subscribe(subBuffer)
	defer cancel()

	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	for _, msg := range h.bus.Snapshot() {
		if !want.match(msg.Type) {
			continue
		}
		if err := conn.WriteJSON(msg); err != nil {
			return
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case msg, ok := <-ch:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(writeWait))
				return
			}
			if !want.match(msg.Type) {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
	}
}

type typeFilter map[string]struct{}

func parseTypes(raw string) typeFilter {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	f := typeFilter{}
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			f[t] = struct{}{}
		}
	}
	return f
}

func (f typeFilter) match(typ string) bool {
	if len(f) == 0 {
		return true
	}
	_, ok := f[typ]
	return ok
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range h.allowOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}
