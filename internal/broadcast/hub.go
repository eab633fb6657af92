package broadcast

import (
	"sync"

	"go.uber.org/zap"
)

// Hub is the in-process channel fabric. Every Open call joins a named
// channel; publishing through one member fans out to the other members of
// the same channel synchronously, with each handler isolated so one
// failing subscriber cannot starve the rest.
type Hub struct {
	mu       sync.RWMutex
	channels map[string]map[int64]*member
	nextID   int64
	logger   *zap.Logger
}

type member struct {
	id       int64
	hub      *Hub
	channel  string
	mu       sync.Mutex
	handlers map[int64]func(Message)
	nextSub  int64
	closed   bool
}

// NewHub constructs an empty hub. The logger is optional.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		channels: make(map[string]map[int64]*member),
		logger:   logger,
	}
}

// Open joins the named channel and returns the member handle.
func (h *Hub) Open(channel string) Channel {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	joined := &member{
		id:       h.nextID,
		hub:      h,
		channel:  channel,
		handlers: make(map[int64]func(Message)),
	}
	if _, ok := h.channels[channel]; !ok {
		h.channels[channel] = make(map[int64]*member)
	}
	h.channels[channel][joined.id] = joined
	return joined
}

func (h *Hub) publish(channel string, senderID int64, message Message) {
	h.mu.RLock()
	members := h.channels[channel]
	recipients := make([]*member, 0, len(members))
	for _, candidate := range members {
		if candidate.id == senderID {
			continue
		}
		recipients = append(recipients, candidate)
	}
	h.mu.RUnlock()

	for _, recipient := range recipients {
		recipient.deliver(message, h.logger)
	}
}

func (h *Hub) remove(channel string, memberID int64) {
	h.mu.Lock()
	members := h.channels[channel]
	if members != nil {
		delete(members, memberID)
		if len(members) == 0 {
			delete(h.channels, channel)
		}
	}
	h.mu.Unlock()
}

// Publish implements Channel.
func (m *member) Publish(payload ChangePayload) error {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return nil
	}
	m.hub.publish(m.channel, m.id, Message{Type: MessageTypeSync, Payload: payload})
	return nil
}

// Subscribe implements Channel.
func (m *member) Subscribe(handler func(Message)) func() {
	if handler == nil {
		return func() {}
	}
	m.mu.Lock()
	m.nextSub++
	id := m.nextSub
	m.handlers[id] = handler
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.handlers, id)
		m.mu.Unlock()
	}
}

// Close implements Channel.
func (m *member) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.handlers = make(map[int64]func(Message))
	m.mu.Unlock()
	m.hub.remove(m.channel, m.id)
	return nil
}

func (m *member) deliver(message Message, logger *zap.Logger) {
	m.mu.Lock()
	handlers := make([]func(Message), 0, len(m.handlers))
	for _, handler := range m.handlers {
		handlers = append(handlers, handler)
	}
	m.mu.Unlock()

	for _, handler := range handlers {
		func() {
			defer func() {
				if recovered := recover(); recovered != nil {
					logger.Error("broadcast handler panicked", zap.Any("panic", recovered))
				}
			}()
			handler(message)
		}()
	}
}
