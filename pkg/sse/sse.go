// Package sse streams alert lifecycle events to watching clients over
// Server-Sent Events. Dispatch consoles subscribe to a single alert and
// receive every state transition as it is recorded, without polling.
package sse

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// Event is one alert transition pushed to subscribers.
type Event struct {
	AlertID string `json:"alert_id"`
	State   string `json:"state"`
	Reason  string `json:"reason,omitempty"`
	TxRef   string `json:"tx_ref,omitempty"`
	At      int64  `json:"at"`
}

type client struct {
	id   string
	ch   chan string
	done chan struct{}
}

// Hub fans alert events out to subscribers. Subscriptions are scoped to
// one alert ID; slow clients drop events rather than block the pipeline.
type Hub struct {
	mu       sync.RWMutex
	watchers map[string]map[string]*client // alertID -> clientID -> client
	interval time.Duration
	retryMs  int
	nextID   uint64
}

// NewHub creates a hub pinging idle streams every interval.
func NewHub(interval time.Duration) *Hub {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Hub{
		watchers: make(map[string]map[string]*client),
		interval: interval,
		retryMs:  5000,
	}
}

// Publish pushes a transition to every subscriber of the event's alert.
func (h *Hub) Publish(ev Event) {
	if ev.At == 0 {
		ev.At = time.Now().Unix()
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return
	}
	msg := fmt.Sprintf("event: transition\ndata: %s\n\n", b)

	h.mu.RLock()
	for _, c := range h.watchers[ev.AlertID] {
		select {
		case c.ch <- msg:
		default:
			// Dropping beats stalling an alert submission.
		}
	}
	h.mu.RUnlock()
}

func (h *Hub) subscribe(alertID string) *client {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	c := &client{
		id:   fmt.Sprintf("w%d", h.nextID),
		ch:   make(chan string, 64),
		done: make(chan struct{}),
	}
	if h.watchers[alertID] == nil {
		h.watchers[alertID] = make(map[string]*client)
	}
	h.watchers[alertID][c.id] = c
	return c
}

func (h *Hub) unsubscribe(alertID string, c *client) {
	h.mu.Lock()
	if set, ok := h.watchers[alertID]; ok {
		if _, ok := set[c.id]; ok {
			close(c.done)
			delete(set, c.id)
		}
		if len(set) == 0 {
			delete(h.watchers, alertID)
		}
	}
	h.mu.Unlock()
}

// Watchers reports the number of open subscriptions for an alert.
func (h *Hub) Watchers(alertID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.watchers[alertID])
}

// Serve holds the connection open and relays the alert's transitions until
// the client disconnects.
func (h *Hub) Serve(c *gin.Context, alertID string) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	fmt.Fprintf(c.Writer, "retry: %d\n\n", h.retryMs)

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.Status(http.StatusInternalServerError)
		return
	}

	sub := h.subscribe(alertID)
	defer h.unsubscribe(alertID, sub)

	ping := time.NewTicker(h.interval)
	defer ping.Stop()
	c.Stream(func(w io.Writer) bool { return true })

	for {
		select {
		case <-sub.done:
			return
		case <-c.Request.Context().Done():
			return
		case <-ping.C:
			fmt.Fprintf(c.Writer, "event: ping\ndata: {}\n\n")
			flusher.Flush()
		case msg := <-sub.ch:
			io.WriteString(c.Writer, msg)
			flusher.Flush()
		}
	}
}
