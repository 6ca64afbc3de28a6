package ws

import "sync"

// sendQueueSize bounds the events buffered for one subscriber before it is
// treated as stalled and dropped.
const sendQueueSize = 32

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// peer pairs a subscriber with its outbound queue. A dedicated goroutine
// drains the queue so a slow subscriber never blocks the dispatch loop.
type peer struct {
	sub   Subscriber
	queue chan []byte
}

// Hub fans pipeline events out to every connected subscriber.
type Hub struct {
	clients   map[Subscriber]*peer
	register  chan Subscriber
	unreg     chan Subscriber
	broadcast chan []byte
	done      chan struct{}
	stopOnce  sync.Once
}

// NewHub creates a Hub and starts its dispatch loop.
func NewHub() *Hub {
	h := &Hub{
		clients:   make(map[Subscriber]*peer),
		register:  make(chan Subscriber),
		unreg:     make(chan Subscriber),
		broadcast: make(chan []byte),
		done:      make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case c := <-h.register:
			if _, ok := h.clients[c]; ok {
				continue
			}
			p := &peer{sub: c, queue: make(chan []byte, sendQueueSize)}
			h.clients[c] = p
			go h.pump(p)
		case c := <-h.unreg:
			h.drop(c)
		case payload := <-h.broadcast:
			for c, p := range h.clients {
				select {
				case p.queue <- payload:
				default:
					// Its pump may be stuck in Send; closing the
					// connection unblocks it.
					h.drop(c)
					go c.Close()
				}
			}
		case <-h.done:
			for c := range h.clients {
				h.drop(c)
			}
			return
		}
	}
}

// drop removes c and closes its queue; the pump then closes the subscriber.
// Only the dispatch loop calls it, so each queue is closed once.
func (h *Hub) drop(c Subscriber) {
	p, ok := h.clients[c]
	if !ok {
		return
	}
	delete(h.clients, c)
	close(p.queue)
}

func (h *Hub) pump(p *peer) {
	defer p.sub.Close()
	for payload := range p.queue {
		if err := p.sub.Send(payload); err != nil {
			h.Unregister(p.sub)
			for range p.queue {
			}
			return
		}
	}
}

// Register adds a client to the stream.
func (h *Hub) Register(client Subscriber) {
	select {
	case h.register <- client:
	case <-h.done:
		client.Close()
	}
}

// Unregister removes and closes a client.
func (h *Hub) Unregister(client Subscriber) {
	select {
	case h.unreg <- client:
	case <-h.done:
	}
}

// Broadcast queues payload for every client without waiting for delivery.
// It is a no-op once the hub is stopped.
func (h *Hub) Broadcast(payload []byte) {
	select {
	case h.broadcast <- payload:
	case <-h.done:
	}
}

// Stop closes every client and terminates the dispatch loop.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}
