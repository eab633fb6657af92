package broadcast

import (
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func openTestFileChannel(t *testing.T, path, senderID string) *FileChannel {
	t.Helper()
	channel, err := OpenFile(FileChannelConfig{Path: path, SenderID: senderID})
	if err != nil {
		t.Fatalf("open file channel failed: %v", err)
	}
	t.Cleanup(func() { channel.Close() })
	return channel
}

func TestFileChannelDeliversAcrossHandles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "beacon.json")
	sender := openTestFileChannel(t, path, "process-a")
	receiver := openTestFileChannel(t, path, "process-b")

	var mu sync.Mutex
	var got []Message
	receiver.Subscribe(func(message Message) {
		mu.Lock()
		got = append(got, message)
		mu.Unlock()
	})

	if err := sender.Publish(ChangePayload{Target: TargetLogs, Action: ActionPush, ID: "l1"}); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		mu.Lock()
		count := len(got)
		mu.Unlock()
		if count > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for beacon delivery")
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if got[0].Sender != "process-a" {
		t.Fatalf("expected sender id carried, got %q", got[0].Sender)
	}
	if got[0].Payload.ID != "l1" {
		t.Fatalf("expected payload id carried, got %q", got[0].Payload.ID)
	}
}

func TestFileChannelDropsOwnMessages(t *testing.T) {
	path := filepath.Join(t.TempDir(), "beacon.json")
	sender := openTestFileChannel(t, path, "process-a")

	var mu sync.Mutex
	delivered := 0
	sender.Subscribe(func(Message) {
		mu.Lock()
		delivered++
		mu.Unlock()
	})

	if err := sender.Publish(ChangePayload{Target: TargetState, Action: ActionSet}); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	// give the watcher a moment to observe the write
	time.Sleep(200 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if delivered != 0 {
		t.Fatalf("sender must drop its own beacon, got %d deliveries", delivered)
	}
}
