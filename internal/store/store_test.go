package store

import (
	"errors"
	"testing"
	"time"

	"github.com/pulselog/pulselog/internal/broadcast"
	"github.com/pulselog/pulselog/internal/kv"
	"github.com/pulselog/pulselog/internal/schema"
)

func testClock() func() time.Time {
	current := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		current = current.Add(time.Second)
		return current
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Config{Storage: kv.NewMemory(), Clock: testClock()})
	if err != nil {
		t.Fatalf("store construction failed: %v", err)
	}
	return s
}

func TestNewRequiresStorage(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected error without storage")
	}
}

func TestPushLogAssignsUniqueIDs(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 50; i++ {
		s.PushLog(schema.TypeWater, schema.Float(250), LogOptions{})
	}

	seen := make(map[string]bool)
	for _, entry := range s.State().Logs {
		if seen[entry.ID] {
			t.Fatalf("duplicate id %q", entry.ID)
		}
		seen[entry.ID] = true
	}
	if len(seen) != 50 {
		t.Fatalf("expected 50 entries, got %d", len(seen))
	}
}

func TestLogsStaySortedDescending(t *testing.T) {
	s := newTestStore(t)
	s.PushLog(schema.TypeWater, schema.Float(250), LogOptions{CreatedAt: "2024-05-30T10:00:00.000Z"})
	s.PushLog(schema.TypeWater, schema.Float(500), LogOptions{CreatedAt: "2024-05-30T08:00:00.000Z"})
	s.PushLog(schema.TypeWater, schema.Float(100), LogOptions{CreatedAt: "2024-05-30T09:00:00.000Z"})

	logs := s.State().Logs
	for i := 1; i < len(logs); i++ {
		previous, _ := schema.ParseTime(logs[i-1].CreatedAt)
		current, _ := schema.ParseTime(logs[i].CreatedAt)
		if current.After(previous) {
			t.Fatalf("logs out of order at %d: %s after %s", i, logs[i].CreatedAt, logs[i-1].CreatedAt)
		}
	}
}

func TestPushLogStampsDevicePing(t *testing.T) {
	s := newTestStore(t)
	entry := s.PushLog(schema.TypeSteps, schema.Float(4000), LogOptions{})
	if got := s.Settings().LastDevicePingISO; got != entry.CreatedAt {
		t.Fatalf("expected ping %q, got %q", entry.CreatedAt, got)
	}
}

func TestPushRemoveRoundTripRestoresPriorLogs(t *testing.T) {
	s := newTestStore(t)
	s.PushLog(schema.TypeWater, schema.Float(250), LogOptions{})
	before := s.State().Logs

	entry := s.PushLog(schema.TypeSteps, schema.Float(1000), LogOptions{})
	removed := s.RemoveLog(entry.ID)
	if removed == nil || removed.ID != entry.ID {
		t.Fatalf("expected removed entry returned, got %#v", removed)
	}

	after := s.State().Logs
	if len(after) != len(before) {
		t.Fatalf("expected %d logs, got %d", len(before), len(after))
	}
	for i := range before {
		if before[i].ID != after[i].ID {
			t.Fatalf("log %d differs after round trip", i)
		}
	}
}

func TestUpdateLogMissingIDIsNoOp(t *testing.T) {
	s := newTestStore(t)
	s.PushLog(schema.TypeWater, schema.Float(250), LogOptions{})
	before := s.State()

	if got := s.UpdateLog("nope", LogPatch{Note: ptr("x")}); got != nil {
		t.Fatalf("expected nil for missing id, got %#v", got)
	}
	if got := s.RemoveLog("nope"); got != nil {
		t.Fatalf("expected nil removal for missing id, got %#v", got)
	}
	if len(s.State().Logs) != len(before.Logs) {
		t.Fatalf("no-op must not change logs")
	}
}

func TestUpdateLogBumpsUpdatedAt(t *testing.T) {
	s := newTestStore(t)
	entry := s.PushLog(schema.TypeWater, schema.Float(250), LogOptions{})

	updated := s.UpdateLog(entry.ID, LogPatch{Value: schema.Float(300), Note: ptr("refill")})
	if updated == nil {
		t.Fatalf("expected updated entry")
	}
	if *updated.Value != 300 || updated.Note != "refill" {
		t.Fatalf("patch not applied: %#v", updated)
	}
	if updated.UpdatedAt == entry.UpdatedAt {
		t.Fatalf("expected updatedAt bumped")
	}
	if updated.CreatedAt != entry.CreatedAt {
		t.Fatalf("createdAt must not move on update")
	}
}

func TestListLogsFiltersInclusive(t *testing.T) {
	s := newTestStore(t)
	s.PushLog(schema.TypeWater, schema.Float(250), LogOptions{CreatedAt: "2024-05-30T08:00:00.000Z"})
	s.PushLog(schema.TypeWater, schema.Float(500), LogOptions{CreatedAt: "2024-05-30T10:00:00.000Z"})
	s.PushLog(schema.TypeSteps, schema.Float(4000), LogOptions{CreatedAt: "2024-05-30T09:00:00.000Z"})

	since := time.Date(2024, 5, 30, 8, 0, 0, 0, time.UTC)
	until := time.Date(2024, 5, 30, 10, 0, 0, 0, time.UTC)
	all := s.ListLogs(Filter{Since: &since, Until: &until})
	if len(all) != 3 {
		t.Fatalf("inclusive bounds must match boundary entries, got %d", len(all))
	}

	water := s.ListLogs(Filter{Type: schema.TypeWater})
	if len(water) != 2 {
		t.Fatalf("expected 2 water logs, got %d", len(water))
	}

	limited := s.ListLogs(Filter{Limit: 1})
	if len(limited) != 1 {
		t.Fatalf("expected limit respected, got %d", len(limited))
	}
}

func TestSetTargetsMergesOntoExisting(t *testing.T) {
	s := newTestStore(t)
	before := s.Targets()

	merged := s.SetTargets(schema.TargetSet{schema.TargetSteps: 10000})
	if merged[schema.TargetSteps] != 10000 {
		t.Fatalf("expected steps 10000, got %v", merged[schema.TargetSteps])
	}
	for _, key := range []string{schema.TargetWaterML, schema.TargetSleepMin, schema.TargetCaffeineMG} {
		if merged[key] != before[key] {
			t.Fatalf("key %q must stay untouched", key)
		}
	}
}

func TestUpdateMedToday(t *testing.T) {
	s := newTestStore(t)
	meds := s.SetMedsToday([]schema.MedicationEntry{{Title: "Iron"}, {Title: "B12"}})
	if len(meds) != 2 || meds[0].ID == "" {
		t.Fatalf("expected normalized meds, got %#v", meds)
	}

	taken := true
	updated := s.UpdateMedToday(meds[0].ID, MedPatch{Taken: &taken})
	if updated == nil || !updated.Taken {
		t.Fatalf("expected taken toggled, got %#v", updated)
	}
	if got := s.UpdateMedToday("missing", MedPatch{Taken: &taken}); got != nil {
		t.Fatalf("expected nil for missing med id")
	}
}

func TestStatePersistsAcrossInstances(t *testing.T) {
	storage := kv.NewMemory()
	first, err := New(Config{Storage: storage, Clock: testClock()})
	if err != nil {
		t.Fatalf("store construction failed: %v", err)
	}
	entry := first.PushLog(schema.TypeWater, schema.Float(250), LogOptions{})
	first.SetNotesText("hydration going well")

	second, err := New(Config{Storage: storage, Clock: testClock()})
	if err != nil {
		t.Fatalf("second store construction failed: %v", err)
	}
	logs := second.State().Logs
	if len(logs) != 1 || logs[0].ID != entry.ID {
		t.Fatalf("expected persisted log visible to new instance, got %#v", logs)
	}
	if second.NotesText() != "hydration going well" {
		t.Fatalf("expected notes persisted, got %q", second.NotesText())
	}
}

func TestCrossInstanceConvergenceViaBroadcast(t *testing.T) {
	storage := kv.NewMemory()
	hub := broadcast.NewHub(nil)

	tabA, err := New(Config{Storage: storage, Channel: hub.Open("pulselog"), Clock: testClock()})
	if err != nil {
		t.Fatalf("tab A construction failed: %v", err)
	}
	tabB, err := New(Config{Storage: storage, Channel: hub.Open("pulselog"), Clock: testClock()})
	if err != nil {
		t.Fatalf("tab B construction failed: %v", err)
	}

	var received []broadcast.ChangePayload
	tabB.OnChange(func(payload broadcast.ChangePayload) {
		received = append(received, payload)
	})

	tabA.SetTargets(schema.TargetSet{schema.TargetSteps: 10000})

	if got := tabB.Targets()[schema.TargetSteps]; got != 10000 {
		t.Fatalf("expected tab B to converge to 10000, got %v", got)
	}
	if len(received) == 0 {
		t.Fatalf("expected tab B listeners re-notified after reload")
	}
	if received[0].Target != broadcast.TargetTargets {
		t.Fatalf("expected targets payload, got %q", received[0].Target)
	}
}

func TestListenerPanicDoesNotBlockOthers(t *testing.T) {
	s := newTestStore(t)
	calls := 0
	s.OnChange(func(broadcast.ChangePayload) { panic("listener exploded") })
	s.OnChange(func(broadcast.ChangePayload) { calls++ })

	s.PushLog(schema.TypeWater, schema.Float(250), LogOptions{})
	if calls != 1 {
		t.Fatalf("expected surviving listener notified, got %d", calls)
	}
}

func TestNotificationsArriveInCommitOrder(t *testing.T) {
	s := newTestStore(t)
	var actions []string
	s.OnChange(func(payload broadcast.ChangePayload) {
		actions = append(actions, payload.Target+"/"+payload.Action)
	})

	entry := s.PushLog(schema.TypeWater, schema.Float(250), LogOptions{})
	s.SetTargets(schema.TargetSet{schema.TargetSteps: 9000})
	s.RemoveLog(entry.ID)

	want := []string{"logs/push", "targets/set", "logs/remove"}
	if len(actions) != len(want) {
		t.Fatalf("expected %d notifications, got %d", len(want), len(actions))
	}
	for i := range want {
		if actions[i] != want[i] {
			t.Fatalf("notification %d: expected %q, got %q", i, want[i], actions[i])
		}
	}
}

func TestFailingStorageKeepsSessionConsistent(t *testing.T) {
	failing := &failingStorage{}
	s, err := New(Config{Storage: failing, Clock: testClock()})
	if err != nil {
		t.Fatalf("store construction failed: %v", err)
	}

	entry := s.PushLog(schema.TypeWater, schema.Float(250), LogOptions{})
	logs := s.State().Logs
	if len(logs) != 1 || logs[0].ID != entry.ID {
		t.Fatalf("in-memory state must reflect the attempted write, got %#v", logs)
	}
}

func TestSetStateDeduplicatesLogIDs(t *testing.T) {
	s := newTestStore(t)
	next := s.State()
	next.Logs = []schema.LogEntry{
		{ID: "dup", Type: schema.TypeWater, Value: schema.Float(250), CreatedAt: "2024-05-30T10:00:00.000Z"},
		{ID: "dup", Type: schema.TypeWater, Value: schema.Float(500), CreatedAt: "2024-05-30T09:00:00.000Z"},
	}
	committed := s.SetState(next, Options{})
	if len(committed.Logs) != 1 {
		t.Fatalf("expected duplicates collapsed, got %d", len(committed.Logs))
	}
	if *committed.Logs[0].Value != 250 {
		t.Fatalf("expected first occurrence kept, got %v", *committed.Logs[0].Value)
	}
}

type failingStorage struct{}

func (f *failingStorage) Get(string) ([]byte, bool, error) { return nil, false, nil }
func (f *failingStorage) Set(string, []byte) error         { return errors.New("quota exceeded") }
func (f *failingStorage) Delete(string) error              { return nil }

func ptr(value string) *string {
	return &value
}
