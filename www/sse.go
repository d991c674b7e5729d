package www

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"rolltrack/engine"
	"rolltrack/logger"
)

const keepaliveData = `{"type":"keepalive","payload":null}`

type SSEEvent struct {
	Event string
	Data  string
}

type EventHub struct {
	mu        sync.RWMutex
	clients   map[chan SSEEvent]struct{}
	broadcast chan SSEEvent
	stopChan  chan struct{}
	stopOnce  sync.Once
	keepalive time.Duration
	log       *logger.Logger
}

func NewEventHub(log *logger.Logger) *EventHub {
	if log == nil {
		log = logger.Nop()
	}
	return &EventHub{
		clients:   make(map[chan SSEEvent]struct{}),
		broadcast: make(chan SSEEvent, 256),
		stopChan:  make(chan struct{}),
		keepalive: 30 * time.Second,
		log:       log,
	}
}

func (h *EventHub) Start() {
	go h.run()
}

func (h *EventHub) Stop() {
	h.stopOnce.Do(func() { close(h.stopChan) })
}

func (h *EventHub) run() {
	keepalive := time.NewTicker(h.keepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-h.stopChan:
			return
		case evt := <-h.broadcast:
			h.send(evt)
		case <-keepalive.C:
			h.send(SSEEvent{Event: "system-status", Data: keepaliveData})
		}
	}
}

// send delivers evt to every client, skipping clients whose buffer is full.
func (h *EventHub) send(evt SSEEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.clients {
		select {
		case ch <- evt:
		default:
		}
	}
}

func (h *EventHub) Broadcast(event, data string) {
	select {
	case h.broadcast <- SSEEvent{Event: event, Data: data}:
	default:
	}
}

func (h *EventHub) AddClient() chan SSEEvent {
	ch := make(chan SSEEvent, 64)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *EventHub) RemoveClient(ch chan SSEEvent) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
	close(ch)
}

func (h *EventHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// sseName groups lifecycle events into the channels the scan screens listen on.
func sseName(t engine.EventType) string {
	switch t {
	case engine.EventLabelCreated:
		return "label-update"
	case engine.EventMasterRegistered, engine.EventMasterSlit, engine.EventChildConsumed:
		return "roll-update"
	case engine.EventStockDeleted, engine.EventStockRestored, engine.EventStockPurged:
		return "stock-update"
	default:
		return "system-status"
	}
}

// SetupEngineListeners wires engine events to SSE broadcasts.
func (h *EventHub) SetupEngineListeners(eng *engine.Engine) engine.SubscriberID {
	return eng.Events.Subscribe(func(evt engine.Event) {
		data, err := json.Marshal(map[string]any{
			"type":    evt.Type.String(),
			"payload": evt.Payload,
		})
		if err != nil {
			h.log.Warn("sse encode", "event", evt.Type.String(), "err", err)
			return
		}
		h.Broadcast(sseName(evt.Type), string(data))
	})
}

// SSEHandler serves the SSE endpoint.
func (h *EventHub) SSEHandler(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := h.AddClient()
	defer h.RemoveClient(ch)

	for {
		select {
		case <-r.Context().Done():
			return
		case evt := <-ch:
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Event, evt.Data); err != nil {
				h.log.Debug("sse write", "err", err)
				return
			}
			flusher.Flush()
		}
	}
}
