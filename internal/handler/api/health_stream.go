package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	models "SwapQuote/internal/domain/models"
	"SwapQuote/internal/usecase"
	xlogger "SwapQuote/pkg/logger"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const (
	streamSendBuffer = 8
	streamWriteWait  = 5 * time.Second
	streamPongWait   = 60 * time.Second
)

// HealthFeed is the subscription side of the health monitor.
type HealthFeed interface {
	Latest() (models.SystemHealth, bool)
	Subscribe(fn usecase.HealthListener) func()
}

type streamClient struct {
	conn *websocket.Conn
	send chan []byte
}

// HealthStream pushes every SystemHealth snapshot to websocket clients on
// /ws/health. Slow clients are dropped.
type HealthStream struct {
	logger       *xlogger.Logger
	feed         HealthFeed
	upgrader     websocket.Upgrader
	pingInterval time.Duration

	mu          sync.Mutex
	clients     map[*streamClient]struct{}
	unsubscribe func()
	closed      bool
}

func NewHealthStream(logger *xlogger.Logger, feed HealthFeed, pingInterval time.Duration) *HealthStream {
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	s := &HealthStream{
		logger:       logger,
		feed:         feed,
		pingInterval: pingInterval,
		clients:      make(map[*streamClient]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	s.unsubscribe = feed.Subscribe(s.broadcast)
	return s
}

func (s *HealthStream) RegisterRoutes(e *echo.Echo) {
	e.GET("/ws/health", s.Serve)
}

// Serve upgrades the connection and sends the latest snapshot right away.
func (s *HealthStream) Serve(c echo.Context) error {
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", xlogger.Error(err))
		return nil
	}
	cl := &streamClient{conn: conn, send: make(chan []byte, streamSendBuffer)}
	if snap, ok := s.feed.Latest(); ok {
		if b, err := json.Marshal(snap); err == nil {
			cl.send <- b
		}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	s.clients[cl] = struct{}{}
	s.mu.Unlock()

	go s.writeLoop(cl)
	s.readLoop(cl)
	return nil
}

// Clients returns the number of connected clients.
func (s *HealthStream) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Close unsubscribes from the feed and disconnects every client.
func (s *HealthStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	clients := s.clients
	s.clients = make(map[*streamClient]struct{})
	s.mu.Unlock()

	s.unsubscribe()
	for cl := range clients {
		close(cl.send)
	}
	return nil
}

func (s *HealthStream) broadcast(h models.SystemHealth) {
	b, err := json.Marshal(h)
	if err != nil {
		s.logger.Error("marshal system health", xlogger.Error(err))
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for cl := range s.clients {
		select {
		case cl.send <- b:
		default:
			// drop on backpressure
			delete(s.clients, cl)
			close(cl.send)
		}
	}
}

func (s *HealthStream) remove(cl *streamClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[cl]; ok {
		delete(s.clients, cl)
		close(cl.send)
	}
}

func (s *HealthStream) readLoop(cl *streamClient) {
	defer s.remove(cl)
	cl.conn.SetReadLimit(512)
	_ = cl.conn.SetReadDeadline(time.Now().Add(streamPongWait))
	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	for {
		if _, _, err := cl.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *HealthStream) writeLoop(cl *streamClient) {
	ticker := time.NewTicker(s.pingInterval)
	defer func() {
		ticker.Stop()
		_ = cl.conn.Close()
	}()
	for {
		select {
		case b, ok := <-cl.send:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if !ok {
				_ = cl.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := cl.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ticker.C:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
