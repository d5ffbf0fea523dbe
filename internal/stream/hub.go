package stream

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/quocanhngo/devicegate/internal/model"
	"github.com/redis/go-redis/v9"
)

const redisChannel = "devicegate:events"

// Listener is one device's open listen stream. The SSE handler drains
// Events and writes each payload as a data frame.
type Listener struct {
	DeviceID string
	events   chan string
}

// Events returns the channel of control payloads for this device
func (l *Listener) Events() <-chan string {
	return l.events
}

// Hub routes access events to the devices and dashboards listening for
// them. It uses Redis Pub/Sub for horizontal scaling; with a nil redis
// client it degrades to local-only delivery (single instance).
type Hub struct {
	mu sync.RWMutex
	// deviceID -> open listen streams (a device normally has one, but a
	// reconnect race can briefly hold two)
	listeners map[string]map[*Listener]bool
	// clientAppID -> dashboard WebSocket watchers
	watchers map[uuid.UUID]map[*Client]bool

	register   chan *Client
	unregister chan *Client

	rdb *redis.Client
}

// NewHub creates a new event hub
func NewHub(rdb *redis.Client) *Hub {
	return &Hub{
		listeners:  make(map[string]map[*Listener]bool),
		watchers:   make(map[uuid.UUID]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		rdb:        rdb,
	}
}

// Run starts the hub's event loop
func (h *Hub) Run(ctx context.Context) {
	if h.rdb != nil {
		go h.subscribeRedis(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case client := <-h.register:
			h.addWatcher(client)
		case client := <-h.unregister:
			h.removeWatcher(client)
		}
	}
}

// Subscribe opens a listen stream for the device
func (h *Hub) Subscribe(deviceID string) *Listener {
	l := &Listener{DeviceID: deviceID, events: make(chan string, 8)}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.listeners[deviceID]; !ok {
		h.listeners[deviceID] = make(map[*Listener]bool)
	}
	h.listeners[deviceID][l] = true
	log.Printf("📡 Device %s listening (streams: %d)", deviceID, len(h.listeners[deviceID]))
	return l
}

// Unsubscribe closes a device's listen stream
func (h *Hub) Unsubscribe(l *Listener) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if streams, ok := h.listeners[l.DeviceID]; ok {
		if streams[l] {
			delete(streams, l)
			close(l.events)
		}
		if len(streams) == 0 {
			delete(h.listeners, l.DeviceID)
		}
	}
}

// Register queues a dashboard watcher for registration with the hub
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Publish fans an access event out to every instance. With redis configured
// the event travels through pub/sub so listeners on other instances see it;
// otherwise it is delivered locally.
func (h *Hub) Publish(ctx context.Context, event model.StreamEvent) {
	if h.rdb == nil {
		h.deliver(event)
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("Error marshaling stream event: %v", err)
		return
	}
	if err := h.rdb.Publish(ctx, redisChannel, data).Err(); err != nil {
		log.Printf("Error publishing to Redis: %v", err)
	}
}

// deliver routes one event to the local listeners and watchers
func (h *Hub) deliver(event model.StreamEvent) {
	if event.Type == model.StreamEventLogout {
		h.sendToDevice(event.DeviceID, string(model.StreamEventLogout))
	}
	h.broadcastToWatchers(event)
}

// sendToDevice pushes a control payload to every open stream of one device
func (h *Hub) sendToDevice(deviceID, payload string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for l := range h.listeners[deviceID] {
		select {
		case l.events <- payload:
		default:
			// Listener is not draining; the SSE handler will notice the
			// dead connection on its own.
		}
	}
}

// broadcastToWatchers mirrors the event to the app's dashboard connections
func (h *Hub) broadcastToWatchers(event model.StreamEvent) {
	appID, err := uuid.Parse(event.ClientAppID)
	if err != nil {
		return
	}

	// Full lock: a watcher that stopped draining gets dropped inline.
	h.mu.Lock()
	defer h.mu.Unlock()
	clients, ok := h.watchers[appID]
	if !ok {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("Error marshaling watcher event: %v", err)
		return
	}
	for client := range clients {
		select {
		case client.send <- data:
		default:
			// Watcher's send buffer is full, close connection
			close(client.send)
			delete(clients, client)
		}
	}
}

func (h *Hub) addWatcher(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.watchers[client.AppID]; !ok {
		h.watchers[client.AppID] = make(map[*Client]bool)
	}
	h.watchers[client.AppID][client] = true
	log.Printf("✅ Dashboard watcher connected for app %s", client.AppID)
}

func (h *Hub) removeWatcher(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if clients, ok := h.watchers[client.AppID]; ok {
		if clients[client] {
			delete(clients, client)
			close(client.send)
		}
		if len(clients) == 0 {
			delete(h.watchers, client.AppID)
		}
	}
	log.Printf("❌ Dashboard watcher disconnected for app %s", client.AppID)
}

// subscribeRedis subscribes to Redis and delivers events locally
func (h *Hub) subscribeRedis(ctx context.Context) {
	pubsub := h.rdb.Subscribe(ctx, redisChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	log.Println("📡 Redis Pub/Sub subscriber started")

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-ch:
			var event model.StreamEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Printf("Error unmarshaling Redis message: %v", err)
				continue
			}
			h.deliver(event)
		}
	}
}
