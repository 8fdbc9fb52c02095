package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"docchat/internal/dto"
	"docchat/internal/pkg/logger"
	"docchat/pkg/stompws"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/google/uuid"
)

// Broker relays published frames between relay instances.
type Broker interface {
	Publish(ctx context.Context, payload []byte) error
	Subscribe(ctx context.Context, handler func(payload []byte)) error
	Close() error
}

// MessageHandler receives chat turns clients SEND to the message destination.
type MessageHandler func(ctx context.Context, req *dto.ChatMessageRequest)

type HubConfig struct {
	HeartbeatOutgoing time.Duration
	HeartbeatIncoming time.Duration
}

// clusterFrame is what travels over the broker.
type clusterFrame struct {
	Origin      string `json:"origin"`
	Destination string `json:"destination"`
	Body        []byte `json:"body"`
}

type Hub struct {
	id  string
	cfg HubConfig

	// Registered clients and their subscriptions: destination -> client -> subscription ids.
	clients map[*Client]struct{}
	topics  map[string]map[*Client]map[string]struct{}

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	// Lock for safe map access
	mu sync.RWMutex

	// Cross-instance fan-out; nil for a single instance.
	broker Broker

	handler MessageHandler
	logger  logger.ILogger
	done    chan struct{}

	// Context for in-flight SEND handlers, cancelled when Run returns.
	ctx    context.Context
	cancel context.CancelFunc
}

func NewHub(cfg HubConfig, broker Broker, log logger.ILogger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		id:         uuid.NewString(),
		cfg:        cfg,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]struct{}),
		topics:     make(map[string]map[*Client]map[string]struct{}),
		broker:     broker,
		logger:     log,
		done:       make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// SetMessageHandler installs the handler for SEND frames. Call before Run.
func (h *Hub) SetMessageHandler(handler MessageHandler) {
	h.handler = handler
}

// Run serves registrations until ctx ends, then closes every client and
// cancels the handlers still answering.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	defer h.cancel()

	if h.broker != nil {
		if err := h.broker.Subscribe(ctx, h.receiveFromBroker); err != nil {
			h.logger.Error("Hub", "Broker subscription failed, running single-instance", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			h.mu.Unlock()
			close(client.registered)
			h.logger.Info("Hub", "Client registered", map[string]interface{}{"client_id": client.id})

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				h.dropSubscriptions(client)
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Info("Hub", "Client unregistered", map[string]interface{}{"client_id": client.id})

		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				h.dropSubscriptions(client)
				close(client.send)
			}
			h.mu.Unlock()
			return
		}
	}
}

// handle runs the message handler for a SEND without blocking the reader.
func (h *Hub) handle(req *dto.ChatMessageRequest) {
	if h.handler == nil {
		return
	}
	go h.handler(h.ctx, req)
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} { return h.done }

// Publish delivers body to every local subscriber of destination and hands it
// to the broker for other instances.
func (h *Hub) Publish(destination string, body []byte) {
	h.deliver(destination, body)

	if h.broker == nil {
		return
	}
	payload, err := json.Marshal(clusterFrame{Origin: h.id, Destination: destination, Body: body})
	if err != nil {
		return
	}
	if err := h.broker.Publish(context.Background(), payload); err != nil {
		h.logger.Warn("Hub", "Broker publish failed", map[string]interface{}{
			"destination": destination,
			"error":       err.Error(),
		})
	}
}

func (h *Hub) receiveFromBroker(payload []byte) {
	var cf clusterFrame
	if err := json.Unmarshal(payload, &cf); err != nil {
		h.logger.Warn("Hub", "Broker message parse error", map[string]interface{}{"error": err.Error()})
		return
	}
	// Our own frames were delivered locally already.
	if cf.Origin == h.id {
		return
	}
	h.deliver(cf.Destination, cf.Body)
}

func (h *Hub) deliver(destination string, body []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client, subIDs := range h.topics[destination] {
		for subID := range subIDs {
			f := frame.New(frame.MESSAGE,
				frame.Destination, destination,
				frame.Subscription, subID,
				frame.MessageId, uuid.NewString(),
				frame.ContentType, "application/json",
			)
			f.Body = body
			payload, err := stompws.Encode(f)
			if err != nil {
				h.logger.Error("Hub", "Failed to encode MESSAGE", map[string]interface{}{"error": err.Error()})
				continue
			}
			select {
			case client.send <- payload:
			default:
				h.logger.Warn("Hub", "Client send buffer full, dropping client", map[string]interface{}{
					"client_id": client.id,
				})
				client.closeConn()
			}
		}
	}
}

// sendTo queues a frame for one registered client.
func (h *Hub) sendTo(client *Client, payload []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[client]; !ok {
		return false
	}
	select {
	case client.send <- payload:
		return true
	default:
		client.closeConn()
		return false
	}
}

func (h *Hub) subscribe(client *Client, destination, subID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; !ok {
		return false
	}
	subs, ok := h.topics[destination]
	if !ok {
		subs = make(map[*Client]map[string]struct{})
		h.topics[destination] = subs
	}
	if subs[client] == nil {
		subs[client] = make(map[string]struct{})
	}
	subs[client][subID] = struct{}{}
	client.destinations[subID] = destination
	return true
}

func (h *Hub) unsubscribe(client *Client, subID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	destination, ok := client.destinations[subID]
	if !ok {
		return
	}
	delete(client.destinations, subID)
	if subs := h.topics[destination]; subs != nil {
		delete(subs[client], subID)
		if len(subs[client]) == 0 {
			delete(subs, client)
		}
		if len(subs) == 0 {
			delete(h.topics, destination)
		}
	}
}

// dropSubscriptions must be called with mu held.
func (h *Hub) dropSubscriptions(client *Client) {
	for subID, destination := range client.destinations {
		if subs := h.topics[destination]; subs != nil {
			delete(subs, client)
			if len(subs) == 0 {
				delete(h.topics, destination)
			}
		}
		delete(client.destinations, subID)
	}
}

// Subscribers reports how many subscriptions destination has on this instance.
func (h *Hub) Subscribers(destination string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, subIDs := range h.topics[destination] {
		n += len(subIDs)
	}
	return n
}
