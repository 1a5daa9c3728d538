// Package progress implements a one-way WebSocket broadcaster the
// orchestrator uses to keep an out-of-scope GUI informed of queue
// progress without the engine depending on any particular renderer.
package progress

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"

	"github.com/Pbein/JDPBookout/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Snapshot is the one JSON shape pushed to every connected client: the
// queue's current stats plus the most recent terminal outcome, if any.
type Snapshot struct {
	Stats       models.QueueStats `json:"stats"`
	LastOutcome *models.Outcome   `json:"lastOutcome,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
}

// Broadcaster is a WebSocket server, bound to the address passed to New,
// that accepts connections on /progress and streams Snapshot messages.
// It accepts no
// input from clients beyond the initial upgrade.
type Broadcaster struct {
	logger arbor.ILogger
	server *http.Server

	mu      sync.RWMutex
	clients map[*websocket.Conn]*sync.Mutex
}

// New creates a broadcaster bound to addr (host:port). The server is not
// started until Start is called.
func New(addr string, logger arbor.ILogger) *Broadcaster {
	b := &Broadcaster{
		logger:  logger,
		clients: make(map[*websocket.Conn]*sync.Mutex),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/progress", b.handleUpgrade)

	b.server = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return b
}

// Start begins listening. It runs ListenAndServe in the calling
// goroutine; callers should invoke it via SafeGo.
func (b *Broadcaster) Start() error {
	b.logger.Info().Str("addr", b.server.Addr).Msg("progress broadcaster listening")
	err := b.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop shuts the server down, closing all open connections.
func (b *Broadcaster) Stop() {
	b.mu.Lock()
	for conn := range b.clients {
		conn.Close()
	}
	b.clients = make(map[*websocket.Conn]*sync.Mutex)
	b.mu.Unlock()

	b.server.Close()
}

func (b *Broadcaster) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn().Err(err).Msg("progress client upgrade failed")
		return
	}

	b.mu.Lock()
	b.clients[conn] = &sync.Mutex{}
	b.mu.Unlock()

	b.logger.Debug().Int("clients", b.clientCount()).Msg("progress client connected")

	// Drain and discard anything the client sends; the protocol is
	// strictly one-way but the read loop must run to detect closure.
	go func() {
		defer func() {
			b.mu.Lock()
			delete(b.clients, conn)
			remaining := len(b.clients)
			b.mu.Unlock()
			conn.Close()
			b.logger.Debug().Int("clients", remaining).Msg("progress client disconnected")
		}()

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (b *Broadcaster) clientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Push sends snap to every connected client.
func (b *Broadcaster) Push(snap Snapshot) {
	data, err := json.Marshal(snap)
	if err != nil {
		b.logger.Error().Err(err).Msg("failed to marshal progress snapshot")
		return
	}

	b.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(b.clients))
	mutexes := make([]*sync.Mutex, 0, len(b.clients))
	for conn, mu := range b.clients {
		conns = append(conns, conn)
		mutexes = append(mutexes, mu)
	}
	b.mu.RUnlock()

	for i, conn := range conns {
		mutexes[i].Lock()
		err := conn.WriteMessage(websocket.TextMessage, data)
		mutexes[i].Unlock()
		if err != nil {
			b.logger.Warn().Err(err).Msg("failed to push progress snapshot to client")
		}
	}
}
