package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"pricepulse/internal/application/usecase/realtime"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

type clientMessage struct {
	Type    string   `json:"type"`
	CoinIDs []string `json:"coin_ids,omitempty"`
	UserID  string   `json:"user_id,omitempty"`
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	conn := realtime.NewConn(uuid.NewString())
	s.hub.Register(conn)

	go s.writePump(ws, conn)
	go s.readPump(ws, conn)
}

func (s *Server) readPump(ws *websocket.Conn, conn *realtime.Conn) {
	defer func() {
		s.hub.Unregister(conn.ID)
		ws.Close()
	}()
	ws.SetReadLimit(maxMessageSize)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("conn", conn.ID).Msg("websocket read failed")
			}
			return
		}
		var msg clientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			log.Debug().Str("conn", conn.ID).Msg("malformed client message")
			continue
		}
		s.dispatch(conn, msg)
	}
}

func (s *Server) dispatch(conn *realtime.Conn, msg clientMessage) {
	switch msg.Type {
	case "subscribe":
		s.hub.Subscribe(conn.ID, s.canonicalize(msg.CoinIDs))
	case "unsubscribe":
		s.hub.Unsubscribe(conn.ID, s.canonicalize(msg.CoinIDs))
	case "join":
		if msg.UserID != "" {
			s.hub.Join(conn.ID, msg.UserID)
		}
	default:
		log.Debug().Str("conn", conn.ID).Str("type", msg.Type).Msg("unknown client message type")
	}
}

// canonicalize maps raw identifiers to canonical coin ids, dropping unknowns.
func (s *Server) canonicalize(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		id, err := s.svc.Normalize(r)
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	return out
}

func (s *Server) writePump(ws *websocket.Conn, conn *realtime.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case payload, ok := <-conn.Send:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
