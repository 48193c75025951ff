package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/AaronLay10/RuleChain/internal/events"
	"github.com/gorilla/websocket"
)

const (
	// backlog sent to a client before live events
	recentEventsCount = 50

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Basic auth is checked by the router before the upgrade.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// eventFilter builds a filter from ?chain_id=ID and ?event=prefix[,prefix].
// It returns nil when neither is set.
func eventFilter(r *http.Request) events.Filter {
	q := r.URL.Query()
	var filters []events.Filter
	if id := q.Get("chain_id"); id != "" {
		filters = append(filters, events.ForChain(id))
	}
	var prefixes []string
	for _, v := range q["event"] {
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				prefixes = append(prefixes, p)
			}
		}
	}
	if len(prefixes) > 0 {
		filters = append(filters, events.WithPrefix(prefixes...))
	}
	if len(filters) == 0 {
		return nil
	}
	return events.All(filters...)
}

// wsSession streams events to one WebSocket client.
type wsSession struct {
	conn *websocket.Conn
	sub  events.Subscriber
}

func (s *wsSession) send(e events.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		// Fields that cannot be encoded are skipped, not fatal to the stream.
		return nil
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *wsSession) ping() error {
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.PingMessage, nil)
}

// readLoop consumes control frames and closes done when the peer goes away.
func (s *wsSession) readLoop(done chan<- struct{}) {
	defer close(done)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// wsEventsHandler sends the recent backlog, then every new event accepted
// by the request's filter.
func wsEventsHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}

	filter := eventFilter(r)
	s := &wsSession{conn: conn, sub: events.SubscribeFiltered(filter)}
	defer conn.Close()

	for _, e := range events.RecentMatching(recentEventsCount, filter) {
		if err := s.send(e); err != nil {
			log.Printf("ws backlog write failed: %v", err)
			events.Unsubscribe(s.sub)
			return
		}
	}

	done := make(chan struct{})
	go s.readLoop(done)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			events.Unsubscribe(s.sub)
			return
		case e, ok := <-s.sub:
			if !ok {
				return
			}
			if err := s.send(e); err != nil {
				log.Printf("ws write failed: %v", err)
				events.Unsubscribe(s.sub)
				return
			}
		case <-ticker.C:
			if err := s.ping(); err != nil {
				events.Unsubscribe(s.sub)
				return
			}
		}
	}
}
