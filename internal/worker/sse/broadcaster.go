// Package sse streams runtime events to dashboard clients over Server-Sent Events.
package sse

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/focusmate/internal/notify"
)

const (
	// WriteTimeout bounds a single client write so a stale connection cannot block a broadcast.
	WriteTimeout = 2 * time.Second

	// DefaultKeepAlive is the interval between comment pings on idle streams.
	DefaultKeepAlive = 15 * time.Second
)

// Message types.
const (
	TypeConnected    = "connected"
	TypeNotification = "notification"
)

// Message is the envelope written as the data field of every event.
type Message struct {
	Data interface{} `json:"data,omitempty"`
	Type string      `json:"type"`
}

// Client is a connected SSE client.
type Client struct {
	Writer    http.ResponseWriter
	Flusher   http.Flusher
	Done      chan struct{}
	ID        string
	mu        sync.Mutex // serializes writes to Writer
	closeOnce sync.Once
}

// Broadcaster fans messages out to every connected client.
type Broadcaster struct {
	clients   map[string]*Client
	keepAlive time.Duration
	nextID    int
	mu        sync.RWMutex
}

// NewBroadcaster creates a Broadcaster with the default keep-alive interval.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		clients:   make(map[string]*Client),
		keepAlive: DefaultKeepAlive,
	}
}

// SetKeepAlive changes the ping interval for streams opened afterwards. Zero disables pings.
func (b *Broadcaster) SetKeepAlive(d time.Duration) {
	b.mu.Lock()
	b.keepAlive = d
	b.mu.Unlock()
}

// AddClient registers a streaming response writer.
func (b *Broadcaster) AddClient(w http.ResponseWriter) (*Client, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}

	b.mu.Lock()
	b.nextID++
	id := fmt.Sprintf("client-%d", b.nextID)
	client := &Client{
		ID:      id,
		Writer:  w,
		Flusher: flusher,
		Done:    make(chan struct{}),
	}
	b.clients[id] = client
	clientCount := len(b.clients)
	b.mu.Unlock()

	log.Debug().
		Str("clientId", id).
		Int("totalClients", clientCount).
		Msg("SSE client connected")

	return client, nil
}

// RemoveClient unregisters a client and closes its Done channel.
func (b *Broadcaster) RemoveClient(client *Client) {
	b.removeClientByID(client.ID)
	closeDone(client)
}

func (b *Broadcaster) removeClientByID(id string) {
	b.mu.Lock()
	client, exists := b.clients[id]
	if exists {
		delete(b.clients, id)
	}
	clientCount := len(b.clients)
	b.mu.Unlock()

	if !exists {
		return
	}
	closeDone(client)

	log.Debug().
		Str("clientId", id).
		Int("totalClients", clientCount).
		Msg("SSE client disconnected")
}

func closeDone(client *Client) {
	client.closeOnce.Do(func() { close(client.Done) })
}

// Publish sends a typed message to all clients.
func (b *Broadcaster) Publish(msgType string, data interface{}) {
	b.Broadcast(Message{Type: msgType, Data: data})
}

// Broadcast sends v as the data of one event to all clients.
// Clients whose write fails or times out are dropped.
func (b *Broadcaster) Broadcast(v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal SSE data")
		return
	}
	b.write(fmt.Sprintf("data: %s\n\n", payload))
}

// Notify publishes a notification event. It lets the broadcaster act as a notify backend.
func (b *Broadcaster) Notify(_ context.Context, n notify.Notification) error {
	b.Publish(TypeNotification, n)
	return nil
}

func (b *Broadcaster) write(message string) {
	b.mu.RLock()
	clients := make([]*Client, 0, len(b.clients))
	for _, client := range b.clients {
		clients = append(clients, client)
	}
	b.mu.RUnlock()

	if len(clients) == 0 {
		return
	}

	deadClientsCh := make(chan string, len(clients))
	var wg sync.WaitGroup
	for _, client := range clients {
		select {
		case <-client.Done:
			continue
		default:
		}
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			writeToClient(c, message, deadClientsCh)
		}(client)
	}
	wg.Wait()
	close(deadClientsCh)

	for clientID := range deadClientsCh {
		b.removeClientByID(clientID)
	}
}

func writeToClient(client *Client, message string, deadCh chan<- string) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		client.mu.Lock()
		defer client.mu.Unlock()
		if _, err := client.Writer.Write([]byte(message)); err != nil {
			log.Debug().
				Str("clientId", client.ID).
				Err(err).
				Msg("Failed to write to SSE client, marking for removal")
			deadCh <- client.ID
			return
		}
		client.Flusher.Flush()
	}()

	select {
	case <-done:
	case <-time.After(WriteTimeout):
		log.Warn().
			Str("clientId", client.ID).
			Dur("timeout", WriteTimeout).
			Msg("SSE write timed out, marking client for removal")
		deadCh <- client.ID
	case <-client.Done:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// HandleSSE serves one event stream until the client disconnects.
func (b *Broadcaster) HandleSSE(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	client, err := b.AddClient(w)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer b.RemoveClient(client)

	hello, _ := json.Marshal(Message{Type: TypeConnected, Data: map[string]string{"clientId": client.ID}})
	writeToClient(client, fmt.Sprintf("data: %s\n\n", hello), make(chan string, 1))

	b.mu.RLock()
	keepAlive := b.keepAlive
	b.mu.RUnlock()

	var ping <-chan time.Time
	if keepAlive > 0 {
		ticker := time.NewTicker(keepAlive)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-client.Done:
			return
		case <-ping:
			writeToClient(client, ": ping\n\n", make(chan string, 1))
		}
	}
}
