package queue

import (
	"github.com/pulselog/pulselog/internal/schema"
	"github.com/pulselog/pulselog/internal/store"
)

// StoreCommitter replays queued items through the persistent store.
type StoreCommitter struct {
	Store *store.Store
}

// Commit implements Committer.
func (c StoreCommitter) Commit(item Item) (schema.LogEntry, error) {
	source := item.Source
	if source == "" {
		source = schema.SourceQueue
	}
	entry := c.Store.PushLog(item.Type, item.Value, store.LogOptions{
		Unit:   item.Unit,
		Note:   item.Note,
		Source: source,
	})
	return entry, nil
}
