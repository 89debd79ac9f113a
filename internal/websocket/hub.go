package websocket

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"

	"github.com/bookshelf/api/internal/model"
)

const sendBufferSize = 64

// Client is one websocket subscriber of a book's generation progress
type Client struct {
	BookID string
	Conn   *websocket.Conn
	Send   chan []byte

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient creates a client subscribed to bookID
func NewClient(bookID string, conn *websocket.Conn) *Client {
	return &Client{
		BookID: bookID,
		Conn:   conn,
		Send:   make(chan []byte, sendBufferSize),
		done:   make(chan struct{}),
	}
}

// Done is closed once the hub has dropped the client
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Hub fans job updates out to the websocket clients watching each book
type Hub struct {
	// Clients grouped by book ID
	clients map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *BroadcastMessage
	stop       chan struct{}
	stopOnce   sync.Once

	mu sync.RWMutex
}

// BroadcastMessage is an encoded message for every subscriber of a book
type BroadcastMessage struct {
	BookID  string
	Message []byte
}

// NewHub creates a new Hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *BroadcastMessage, 256),
		stop:       make(chan struct{}),
	}
}

// Run starts the hub's main loop; it returns after Stop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.BookID] == nil {
				h.clients[client.BookID] = make(map[*Client]bool)
			}
			h.clients[client.BookID][client] = true
			h.mu.Unlock()
			log.Printf("[WS] Client subscribed to book %s", client.BookID)

		case client := <-h.unregister:
			h.remove(client)
			log.Printf("[WS] Client unsubscribed from book %s", client.BookID)

		case msg := <-h.broadcast:
			var slow []*Client
			h.mu.RLock()
			for client := range h.clients[msg.BookID] {
				select {
				case client.Send <- msg.Message:
				default:
					slow = append(slow, client)
				}
			}
			h.mu.RUnlock()
			for _, client := range slow {
				log.Printf("[WS] Dropping slow client of book %s", client.BookID)
				h.remove(client)
			}

		case <-h.stop:
			h.mu.Lock()
			for _, clients := range h.clients {
				for client := range clients {
					client.close()
				}
			}
			h.clients = make(map[string]map[*Client]bool)
			h.mu.Unlock()
			return
		}
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if clients, ok := h.clients[client.BookID]; ok {
		if _, ok := clients[client]; ok {
			delete(clients, client)
			client.close()
			if len(clients) == 0 {
				delete(h.clients, client.BookID)
			}
		}
	}
}

// Stop ends Run and disconnects every client
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// Register adds a new client
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.stop:
		client.close()
	}
}

// Unregister removes a client
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.stop:
	}
}

// Subscribers returns how many clients watch the book
func (h *Hub) Subscribers(bookID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[bookID])
}

func (h *Hub) publish(bookID string, msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[WS] Failed to marshal message: %v", err)
		return
	}

	// never block a generation job on slow delivery
	select {
	case h.broadcast <- &BroadcastMessage{BookID: bookID, Message: data}:
	default:
		log.Printf("[WS] Broadcast queue full, dropping update for book %s", bookID)
	}
}

func progressMessage(job *model.AudioGenerationJob) model.WSProgressMessage {
	return model.WSProgressMessage{
		Type:               model.WSMessageTypeProgress,
		BookID:             job.BookID,
		Status:             job.Status,
		CurrentPage:        job.CurrentPage,
		TotalPages:         job.TotalPages,
		ProgressPercentage: job.ProgressPercentage,
	}
}

// BroadcastProgress sends a progress update to the book's subscribers
func (h *Hub) BroadcastProgress(job *model.AudioGenerationJob) {
	h.publish(job.BookID, progressMessage(job))
}

// BroadcastComplete sends the final job record once a job completes or is cancelled
func (h *Hub) BroadcastComplete(job *model.AudioGenerationJob) {
	h.publish(job.BookID, model.WSCompleteMessage{
		Type:   model.WSMessageTypeComplete,
		BookID: job.BookID,
		Job:    job,
	})
}

// BroadcastError tells the book's subscribers that its job failed
func (h *Hub) BroadcastError(bookID, code, message string) {
	h.publish(bookID, model.WSErrorMessage{
		Type:   model.WSMessageTypeError,
		BookID: bookID,
		Error: model.WSError{
			Code:    code,
			Message: message,
		},
	})
}

// HandleConnection serves one websocket until it closes. When current is
// not nil it is sent first so the client starts from the latest state.
func (h *Hub) HandleConnection(c *websocket.Conn, bookID string, current *model.AudioGenerationJob) {
	client := NewClient(bookID, c)
	if current != nil {
		if data, err := json.Marshal(progressMessage(current)); err == nil {
			client.Send <- data
		}
	}

	h.Register(client)
	defer h.Unregister(client)

	// Start writer goroutine
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case message := <-client.Send:
				if err := c.WriteMessage(websocket.TextMessage, message); err != nil {
					return
				}

			case <-client.done:
				c.WriteMessage(websocket.CloseMessage, []byte{})
				return

			case <-ticker.C:
				// Send ping for keep-alive
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	// Reader loop
	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[WS] WebSocket error: %v", err)
			}
			break
		}

		var msg model.WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		if msg.Type == model.WSMessageTypePing {
			pong, _ := json.Marshal(model.WSMessage{Type: model.WSMessageTypePong})
			select {
			case client.Send <- pong:
			case <-client.done:
			default:
			}
		}
	}
}
