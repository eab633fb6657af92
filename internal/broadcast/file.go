package broadcast

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// FileChannel is a cross-process channel built on a beacon file. Publish
// serializes the message into the beacon; sibling processes watching the
// same path decode it and drop messages carrying their own sender id.
// Delivery is fire-and-forget: a missed beacon only delays convergence
// until the next write.
type FileChannel struct {
	path     string
	senderID string
	watcher  *fsnotify.Watcher
	logger   *zap.Logger

	mu       sync.Mutex
	handlers map[int64]func(Message)
	nextSub  int64
	closed   bool
	done     chan struct{}
}

// FileChannelConfig carries the dependencies for OpenFile.
type FileChannelConfig struct {
	// Path is the beacon file location; its directory must exist.
	Path     string
	SenderID string
	Logger   *zap.Logger
}

// OpenFile joins a file-backed channel and starts watching the beacon.
func OpenFile(cfg FileChannelConfig) (*FileChannel, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	senderID := cfg.SenderID
	if senderID == "" {
		senderID = uuid.NewString()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(cfg.Path)); err != nil {
		watcher.Close()
		return nil, err
	}

	channel := &FileChannel{
		path:     cfg.Path,
		senderID: senderID,
		watcher:  watcher,
		logger:   logger,
		handlers: make(map[int64]func(Message)),
		done:     make(chan struct{}),
	}
	go channel.watch()
	return channel, nil
}

// Publish implements Channel.
func (c *FileChannel) Publish(payload ChangePayload) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil
	}
	message := Message{Type: MessageTypeSync, Payload: payload, Sender: c.senderID}
	encoded, err := json.Marshal(message)
	if err != nil {
		return err
	}
	return os.WriteFile(c.path, encoded, 0o644)
}

// Subscribe implements Channel.
func (c *FileChannel) Subscribe(handler func(Message)) func() {
	if handler == nil {
		return func() {}
	}
	c.mu.Lock()
	c.nextSub++
	id := c.nextSub
	c.handlers[id] = handler
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.handlers, id)
		c.mu.Unlock()
	}
}

// Close implements Channel.
func (c *FileChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	close(c.done)
	return c.watcher.Close()
}

func (c *FileChannel) watch() {
	for {
		select {
		case <-c.done:
			return
		case event, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			if event.Name != c.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			c.consumeBeacon()
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			c.logger.Warn("beacon watcher error", zap.Error(err))
		}
	}
}

func (c *FileChannel) consumeBeacon() {
	raw, err := os.ReadFile(c.path)
	if err != nil {
		c.logger.Warn("beacon read failed", zap.Error(err))
		return
	}
	var message Message
	if err := json.Unmarshal(raw, &message); err != nil {
		c.logger.Warn("beacon decode failed", zap.Error(err))
		return
	}
	if message.Sender == c.senderID {
		return
	}

	c.mu.Lock()
	handlers := make([]func(Message), 0, len(c.handlers))
	for _, handler := range c.handlers {
		handlers = append(handlers, handler)
	}
	c.mu.Unlock()

	for _, handler := range handlers {
		func() {
			defer func() {
				if recovered := recover(); recovered != nil {
					c.logger.Error("beacon handler panicked", zap.Any("panic", recovered))
				}
			}()
			handler(message)
		}()
	}
}
