package rosterfeed

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jrsteele09/go-attendance-server/ledger"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Event is the message written to dashboard sockets.
type Event struct {
	Type string       `json:"type"`
	Mark *ledger.Mark `json:"mark,omitempty"`
}

// BacklogLoader returns the marks already recorded for a session.
type BacklogLoader func() ([]*ledger.Mark, error)

// BacklogError reports a failed backlog load. Nothing has been written to the response.
type BacklogError struct {
	Err error
}

func (e *BacklogError) Error() string { return "roster backlog: " + e.Err.Error() }
func (e *BacklogError) Unwrap() error { return e.Err }

// Stream upgrades the request and streams marks for sessionID until the client goes away,
// the subscriber is dropped, or the request context ends. The subscription is taken before
// backlog runs, so a mark recorded in between is delivered once, either in the backlog or
// on the stream.
func (h *Hub) Stream(w http.ResponseWriter, r *http.Request, checkOrigin func(*http.Request) bool, sessionID string, backlog BacklogLoader) error {
	marks, unsubscribe := h.Subscribe(sessionID)
	defer unsubscribe()

	var existing []*ledger.Mark
	if backlog != nil {
		var err error
		if existing, err = backlog(); err != nil {
			return &BacklogError{Err: err}
		}
	}

	upgrader := websocket.Upgrader{CheckOrigin: checkOrigin}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		return errors.Wrap(err, "[Hub.Stream] upgrade")
	}
	defer conn.Close()

	closed := make(chan struct{})
	go readPump(conn, closed)

	sent := make(map[string]struct{}, len(existing))
	for _, m := range existing {
		sent[m.ID] = struct{}{}
		if err := writeEvent(conn, Event{Type: "mark", Mark: m}); err != nil {
			return nil
		}
	}
	if err := writeEvent(conn, Event{Type: "ready"}); err != nil {
		return nil
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return nil
		case <-closed:
			return nil
		case m, ok := <-marks:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "subscriber too slow"),
					time.Now().Add(writeWait))
				return nil
			}
			if _, dup := sent[m.ID]; dup {
				delete(sent, m.ID)
				continue
			}
			if err := writeEvent(conn, Event{Type: "mark", Mark: &m}); err != nil {
				log.Debug().Err(err).Str("session_id", sessionID).Msg("roster socket write failed")
				return nil
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return nil
			}
		}
	}
}

func writeEvent(conn *websocket.Conn, e Event) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(e)
}

// readPump discards client messages and signals when the connection closes.
func readPump(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
