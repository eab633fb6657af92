// Package queue buffers log intents made while the device is offline and
// replays them into the store once connectivity resumes. The queue
// persists under its own storage document so unflushed intents survive a
// restart.
package queue

import (
	"encoding/json"
	"errors"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/pulselog/pulselog/internal/kv"
	"github.com/pulselog/pulselog/internal/schema"
	"go.uber.org/zap"
)

// DefaultKey is the storage document holding the queue.
const DefaultKey = "pulselog-offline-queue"

var (
	errMissingStorage   = errors.New("queue: storage dependency is required")
	errMissingCommitter = errors.New("queue: committer dependency is required")
)

// Item is one deferred write intent. It only becomes part of the log
// collection once a flush commits it.
type Item struct {
	ID       string   `json:"id"`
	Type     string   `json:"type"`
	Value    *float64 `json:"value"`
	Unit     string   `json:"unit,omitempty"`
	Note     string   `json:"note,omitempty"`
	Source   string   `json:"source"`
	QueuedAt string   `json:"queuedAt"`
}

// Committer turns a queued item into a committed log entry. An error
// re-queues the item for the next flush.
type Committer interface {
	Commit(item Item) (schema.LogEntry, error)
}

// FlushResult pairs a drained item with the log entry it became.
type FlushResult struct {
	Entry Item
	Log   schema.LogEntry
}

// Config carries the dependencies for a Queue.
type Config struct {
	Storage   kv.Store
	Committer Committer
	Clock     func() time.Time
	Logger    *zap.Logger
	Key       string
	// Online is the initial connectivity assumption.
	Online bool
	// RetryInterval schedules periodic flush attempts while items remain;
	// zero disables the scheduler.
	RetryInterval time.Duration
}

// Queue is the offline write queue.
type Queue struct {
	storage   kv.Store
	committer Committer
	clock     func() time.Time
	logger    *zap.Logger
	key       string

	mu     sync.Mutex
	items  []Item
	online bool

	listenersMu    sync.Mutex
	changeList     map[int64]func([]Item)
	flushList      map[int64]func(FlushResult)
	nextListenerID int64

	scheduler gocron.Scheduler
}

// New loads any persisted queue and, when a retry interval is configured,
// starts the flush scheduler.
func New(cfg Config) (*Queue, error) {
	if cfg.Storage == nil {
		return nil, errMissingStorage
	}
	if cfg.Committer == nil {
		return nil, errMissingCommitter
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	key := cfg.Key
	if key == "" {
		key = DefaultKey
	}

	q := &Queue{
		storage:    cfg.Storage,
		committer:  cfg.Committer,
		clock:      clock,
		logger:     logger,
		key:        key,
		online:     cfg.Online,
		changeList: make(map[int64]func([]Item)),
		flushList:  make(map[int64]func(FlushResult)),
	}
	q.items = q.loadItems()

	if cfg.RetryInterval > 0 {
		scheduler, err := gocron.NewScheduler()
		if err != nil {
			return nil, err
		}
		if _, err := scheduler.NewJob(
			gocron.DurationJob(cfg.RetryInterval),
			gocron.NewTask(q.Flush),
		); err != nil {
			return nil, err
		}
		scheduler.Start()
		q.scheduler = scheduler
	}

	return q, nil
}

// Close stops the retry scheduler.
func (q *Queue) Close() error {
	if q.scheduler != nil {
		return q.scheduler.Shutdown()
	}
	return nil
}

// Items returns a snapshot of the pending queue.
func (q *Queue) Items() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	return cloneItems(q.items)
}

// Enqueue normalizes and appends an intent, persists the queue, notifies
// listeners, and attempts an immediate flush.
func (q *Queue) Enqueue(entry Item) Item {
	item := q.normalize(entry)

	q.mu.Lock()
	q.items = append(q.items, item)
	q.persistLocked()
	q.mu.Unlock()
	q.notifyChange()

	q.Flush()
	return item
}

// Remove drops a single queued item before it flushes (undo). A missing
// id is a no-op returning nil.
func (q *Queue) Remove(id string) *Item {
	if id == "" {
		return nil
	}

	q.mu.Lock()
	var removed *Item
	remaining := make([]Item, 0, len(q.items))
	for _, item := range q.items {
		if item.ID == id && removed == nil {
			kept := item
			removed = &kept
			continue
		}
		remaining = append(remaining, item)
	}
	if removed == nil {
		q.mu.Unlock()
		return nil
	}
	q.items = remaining
	q.persistLocked()
	q.mu.Unlock()

	q.notifyChange()
	return removed
}

// SetOnline records the connectivity signal; transitioning to online
// triggers an unconditional flush attempt.
func (q *Queue) SetOnline(online bool) {
	q.mu.Lock()
	wasOnline := q.online
	q.online = online
	q.mu.Unlock()

	if online && !wasOnline {
		q.Flush()
	}
}

// Flush drains the queue into the store. It is a no-op when the queue is
// empty or connectivity is unavailable. The whole queue is taken and
// cleared atomically before processing, so a flush triggered mid-flush
// sees an empty queue instead of double-committing. Items whose commit
// fails are re-queued ahead of anything enqueued meanwhile, preserving
// their original order.
func (q *Queue) Flush() {
	q.mu.Lock()
	if !q.online || len(q.items) == 0 {
		q.mu.Unlock()
		return
	}
	pending := q.items
	q.items = nil
	q.persistLocked()
	q.mu.Unlock()
	q.notifyChange()

	failed := make([]Item, 0)
	for _, item := range pending {
		log, err := q.committer.Commit(item)
		if err != nil {
			q.logger.Warn("queued item commit failed, re-queueing",
				zap.String("id", item.ID), zap.Error(err))
			failed = append(failed, item)
			continue
		}
		q.notifyFlush(FlushResult{Entry: item, Log: log})
	}

	if len(failed) > 0 {
		q.mu.Lock()
		q.items = append(failed, q.items...)
		q.persistLocked()
		q.mu.Unlock()
		q.notifyChange()
	}
}

// OnQueueChange registers a listener invoked with a snapshot after every
// queue mutation. Returns the unsubscribe function.
func (q *Queue) OnQueueChange(listener func([]Item)) func() {
	if listener == nil {
		return func() {}
	}
	q.listenersMu.Lock()
	q.nextListenerID++
	id := q.nextListenerID
	q.changeList[id] = listener
	q.listenersMu.Unlock()
	return func() {
		q.listenersMu.Lock()
		delete(q.changeList, id)
		q.listenersMu.Unlock()
	}
}

// OnFlush registers a listener invoked once per successfully committed
// item. Returns the unsubscribe function.
func (q *Queue) OnFlush(listener func(FlushResult)) func() {
	if listener == nil {
		return func() {}
	}
	q.listenersMu.Lock()
	q.nextListenerID++
	id := q.nextListenerID
	q.flushList[id] = listener
	q.listenersMu.Unlock()
	return func() {
		q.listenersMu.Lock()
		delete(q.flushList, id)
		q.listenersMu.Unlock()
	}
}

func (q *Queue) normalize(entry Item) Item {
	item := entry
	if strings.TrimSpace(item.ID) == "" {
		item.ID = schema.NewID()
	}
	item.Type = strings.ToLower(strings.TrimSpace(item.Type))
	if item.Type == "" {
		item.Type = schema.TypeNote
	}
	if item.Value != nil && (math.IsNaN(*item.Value) || math.IsInf(*item.Value, 0)) {
		item.Value = nil
	}
	if item.Source == "" {
		item.Source = schema.SourceQuick
	}
	if _, ok := schema.ParseTime(item.QueuedAt); !ok {
		item.QueuedAt = schema.FormatTime(q.clock())
	}
	return item
}

// persistLocked writes the queue document. Callers hold q.mu. Failures
// are logged and tolerated; the in-memory queue stays authoritative.
func (q *Queue) persistLocked() {
	encoded, err := json.Marshal(q.items)
	if err != nil {
		q.logger.Error("queue marshal failed", zap.Error(err))
		return
	}
	if err := q.storage.Set(q.key, encoded); err != nil {
		q.logger.Warn("queue persist failed, keeping in-memory queue", zap.Error(err))
	}
}

func (q *Queue) loadItems() []Item {
	raw, ok, err := q.storage.Get(q.key)
	if err != nil {
		q.logger.Warn("queue read failed, starting empty", zap.Error(err))
		return nil
	}
	if !ok {
		return nil
	}
	var items []Item
	if err := json.Unmarshal(raw, &items); err != nil {
		q.logger.Warn("unparseable queue document, starting empty", zap.Error(err))
		return nil
	}
	normalized := make([]Item, 0, len(items))
	for _, item := range items {
		normalized = append(normalized, q.normalize(item))
	}
	return normalized
}

func (q *Queue) notifyChange() {
	snapshot := q.Items()
	q.listenersMu.Lock()
	listeners := make([]func([]Item), 0, len(q.changeList))
	for _, listener := range q.changeList {
		listeners = append(listeners, listener)
	}
	q.listenersMu.Unlock()

	for _, listener := range listeners {
		func() {
			defer func() {
				if recovered := recover(); recovered != nil {
					q.logger.Error("queue listener panicked", zap.Any("panic", recovered))
				}
			}()
			listener(cloneItems(snapshot))
		}()
	}
}

func (q *Queue) notifyFlush(result FlushResult) {
	q.listenersMu.Lock()
	listeners := make([]func(FlushResult), 0, len(q.flushList))
	for _, listener := range q.flushList {
		listeners = append(listeners, listener)
	}
	q.listenersMu.Unlock()

	for _, listener := range listeners {
		func() {
			defer func() {
				if recovered := recover(); recovered != nil {
					q.logger.Error("flush listener panicked", zap.Any("panic", recovered))
				}
			}()
			listener(result)
		}()
	}
}

func cloneItems(items []Item) []Item {
	cloned := make([]Item, len(items))
	for i, item := range items {
		cloned[i] = item
		if item.Value != nil {
			value := *item.Value
			cloned[i].Value = &value
		}
	}
	return cloned
}
