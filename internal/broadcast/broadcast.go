// Package broadcast carries change-invalidation signals between store
// instances. Messages are advisory: receivers re-read ground truth from
// storage rather than trusting the payload.
package broadcast

// MessageTypeSync is the single message type exchanged on a channel.
const MessageTypeSync = "sync"

// Change targets.
const (
	TargetLogs     = "logs"
	TargetTargets  = "targets"
	TargetSettings = "settings"
	TargetMeds     = "meds"
	TargetQueue    = "queue"
	TargetNotes    = "notes"
	TargetState    = "state"
)

// Change actions.
const (
	ActionPush   = "push"
	ActionUpdate = "update"
	ActionRemove = "remove"
	ActionSet    = "set"
	ActionFlush  = "flush"
)

// ChangePayload names what changed. Consumers must tolerate targets they
// do not recognize.
type ChangePayload struct {
	Target string `json:"target"`
	Action string `json:"action"`
	ID     string `json:"id,omitempty"`
}

// Message is the envelope published on a channel.
type Message struct {
	Type    string        `json:"type"`
	Payload ChangePayload `json:"payload"`
	Sender  string        `json:"sender,omitempty"`
}

// Channel is one member handle on a named broadcast channel. Publishing
// delivers to every other member, never back to the sender.
type Channel interface {
	Publish(payload ChangePayload) error
	Subscribe(handler func(Message)) (unsubscribe func())
	Close() error
}
