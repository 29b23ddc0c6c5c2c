package room

import (
	"sync"

	"github.com/capitalize-ai/voice-configurator/internal/dialog"
)

// Data-channel topics.
const (
	// ChatTopic carries recognized user text.
	ChatTopic = "chat"
	// ReplyTopic carries agent text replies.
	ReplyTopic = "agent.reply"
)

// Router fans inbound data packets out by topic. Chat packets go to the utterance
// handler; every other topic goes to the data subscribers.
type Router struct {
	self string

	mu        sync.RWMutex
	handlers  map[uint64]func(dialog.DataPacket)
	next      uint64
	utterance func(dialog.DataPacket)
}

// NewRouter creates a router that ignores packets sent by identity self.
func NewRouter(self string) *Router {
	return &Router{
		self:     self,
		handlers: make(map[uint64]func(dialog.DataPacket)),
	}
}

// SubscribeData implements dialog.DataSource.
func (r *Router) SubscribeData(handler func(dialog.DataPacket)) (func(), error) {
	r.mu.Lock()
	id := r.next
	r.next++
	r.handlers[id] = handler
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.handlers, id)
			r.mu.Unlock()
		})
	}, nil
}

// OnUtterance sets the handler for chat packets.
func (r *Router) OnUtterance(handler func(dialog.DataPacket)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.utterance = handler
}

// Dispatch routes one packet.
func (r *Router) Dispatch(pkt dialog.DataPacket) {
	if r.self != "" && pkt.Sender == r.self {
		return
	}

	r.mu.RLock()
	var targets []func(dialog.DataPacket)
	switch pkt.Topic {
	case ReplyTopic:
	case ChatTopic:
		if r.utterance != nil {
			targets = append(targets, r.utterance)
		}
	default:
		for _, h := range r.handlers {
			targets = append(targets, h)
		}
	}
	r.mu.RUnlock()

	for _, h := range targets {
		h(pkt)
	}
}
