package app

import (
	"context"
	"io"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"schedule-worker/internal/domain/faults"
	"schedule-worker/internal/domain/notifications"
	"schedule-worker/internal/domain/schedule"
	"schedule-worker/internal/infra/logger"
	"schedule-worker/internal/infra/store"
)

func TestMain(m *testing.M) {
	logger.Init("error")
	logger.SetWriters(io.Discard, io.Discard)
	m.Run()
}

// fakeStore — потокобезопасная in-memory реализация SessionStore.
type fakeStore struct {
	mu sync.Mutex

	queue    []*store.Session
	images   map[string][]store.Image
	done     map[string]bool
	failed   map[string]string
	loseHB   bool // heartbeat сообщает о потере лизинга
	failDone bool // MarkDone сообщает о потере лизинга

	versions      map[string][]fakeVersion // ключ user|date
	snapshots     map[string][]schedule.Shift
	eventKeys     map[string]string // дедуп-ключ события -> event_id
	sessionEvents map[string][]notifications.EventRecord
	notifs        map[string]notifications.Notification
	eventSeq      int
}

type fakeVersion struct {
	version   int
	sessionID string
	hash      string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		images:        make(map[string][]store.Image),
		done:          make(map[string]bool),
		failed:        make(map[string]string),
		versions:      make(map[string][]fakeVersion),
		snapshots:     make(map[string][]schedule.Shift),
		eventKeys:     make(map[string]string),
		sessionEvents: make(map[string][]notifications.EventRecord),
		notifs:        make(map[string]notifications.Notification),
	}
}

func dayKey(userID int64, date string) string {
	return strconv.FormatInt(userID, 10) + "|" + date
}

func (f *fakeStore) ClaimNext(context.Context, time.Duration, time.Duration) (*store.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queue) == 0 {
		return nil, nil
	}
	sess := f.queue[0]
	f.queue = f.queue[1:]
	return sess, nil
}

func (f *fakeStore) CountWaiting(context.Context, time.Duration) (int, error) { return 0, nil }

func (f *fakeStore) Images(_ context.Context, sessionID string) ([]store.Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.images[sessionID], nil
}

func (f *fakeStore) Heartbeat(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loseHB {
		return faults.Newf(faults.LeaseLost, faults.StageLifecycle, "lease on session %s lost", sessionID)
	}
	return nil
}

func (f *fakeStore) MarkDone(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDone {
		return faults.Newf(faults.LeaseLost, faults.StageLifecycle, "lease lost")
	}
	f.done[sessionID] = true
	return nil
}

func (f *fakeStore) MarkFailed(_ context.Context, sessionID, errText string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed[sessionID] = errText
	return nil
}

func (f *fakeStore) WriteVersion(
	_ context.Context,
	userID int64,
	scheduleDate, sessionID string,
	_ []byte,
	payloadHash string,
) (store.VersionOutcome, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := dayKey(userID, scheduleDate)
	rows := f.versions[key]
	latest := 0
	latestHash := ""
	for _, row := range rows {
		if row.sessionID == sessionID {
			return store.VersionAlreadyExisted, latest, nil
		}
		if row.version > latest {
			latest = row.version
			latestHash = row.hash
		}
	}
	if latest > 0 && latestHash == payloadHash {
		return store.VersionUnchanged, latest, nil
	}
	next := latest + 1
	f.versions[key] = append(rows, fakeVersion{version: next, sessionID: sessionID, hash: payloadHash})
	return store.VersionCreated, next, nil
}

func (f *fakeStore) LoadSnapshot(_ context.Context, userID int64, scheduleDate string) ([]schedule.Shift, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshots[dayKey(userID, scheduleDate)], nil
}

func (f *fakeStore) PersistCycle(
	_ context.Context,
	userID int64,
	scheduleDate, sessionID string,
	events []schedule.Event,
	snapshot []schedule.Shift,
) ([]notifications.EventRecord, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	inserted := 0
	for _, ev := range events {
		dedupe := strings.Join([]string{
			dayKey(userID, scheduleDate), string(ev.Type), ev.LocationFingerprint,
			schedule.ValueHash(ev.Old), schedule.ValueHash(ev.New),
		}, "|")
		if _, exists := f.eventKeys[dedupe]; exists {
			continue
		}
		f.eventSeq++
		id := "ev-" + strconv.Itoa(f.eventSeq)
		f.eventKeys[dedupe] = id
		f.sessionEvents[sessionID] = append(f.sessionEvents[sessionID],
			notifications.EventRecord{EventID: id, Event: ev})
		inserted++
	}
	f.snapshots[dayKey(userID, scheduleDate)] = snapshot

	// Как и боевой store: возвращаются все события сессии, не только новые.
	records := make([]notifications.EventRecord, len(f.sessionEvents[sessionID]))
	copy(records, f.sessionEvents[sessionID])
	return records, inserted, nil
}

func (f *fakeStore) StoreNotifications(_ context.Context, items []notifications.Notification) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored := 0
	for _, n := range items {
		if _, exists := f.notifs[n.ID]; exists {
			continue
		}
		f.notifs[n.ID] = n
		stored++
	}
	return stored, nil
}

// fakeReader отдаёт заранее заданные результаты интерпретации по ключу.
type fakeReader struct {
	days  map[string]ImageDay
	delay time.Duration
}

func (r *fakeReader) ReadImage(ctx context.Context, key string) (ImageDay, error) {
	if r.delay > 0 {
		select {
		case <-ctx.Done():
			return ImageDay{}, ctx.Err()
		case <-time.After(r.delay):
		}
	}
	return r.days[key], nil
}

// fakeCache — кэш уведомлённых событий в памяти.
type fakeCache struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func newFakeCache() *fakeCache {
	return &fakeCache{seen: make(map[string]struct{})}
}

func (c *fakeCache) Seen(ids []string) (map[string]struct{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]struct{})
	for _, id := range ids {
		if _, ok := c.seen[id]; ok {
			out[id] = struct{}{}
		}
	}
	return out, nil
}

func (c *fakeCache) Mark(ids []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		c.seen[id] = struct{}{}
	}
	return nil
}

func acmeShift(start, end string) schedule.Shift {
	return schedule.Shift{
		Start: start, End: end,
		CustomerName: "Acme",
		Street:       "Main", StreetNumber: "5", City: "Göteborg",
		Type:                schedule.TypeOffice,
		LocationFingerprint: "loc-acme",
		CustomerFingerprint: "cust-acme",
	}
}

func newTestPipeline(fs *fakeStore, reader DayReader, cache NotifiedCache) *Pipeline {
	return NewPipeline(fs, reader, cache, 50*time.Millisecond,
		notifications.DefaultSummaryThreshold, schedule.DefaultTimeTolerance)
}

func TestProcessFirstObservation(t *testing.T) {
	fs := newFakeStore()
	fs.images["s1"] = []store.Image{{ID: "i1", Sequence: 1, R2Key: "k1"}}
	reader := &fakeReader{days: map[string]ImageDay{
		"k1": {ScheduleDate: "2026-03-02", BoxCount: 12, Shifts: []schedule.Shift{acmeShift("10:00", "14:00")}},
	}}
	p := newTestPipeline(fs, reader, newFakeCache())

	err := p.Process(context.Background(), &store.Session{ID: "s1", UserID: 7})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	if !fs.done["s1"] {
		t.Error("session must be marked done")
	}
	rows := fs.versions[dayKey(7, "2026-03-02")]
	if len(rows) != 1 || rows[0].version != 1 {
		t.Fatalf("versions = %+v, want single v1", rows)
	}
	if len(fs.eventKeys) != 1 {
		t.Fatalf("events = %d, want 1 shift_added", len(fs.eventKeys))
	}
	if len(fs.notifs) != 1 {
		t.Fatalf("notifications = %d, want 1", len(fs.notifs))
	}
	for _, n := range fs.notifs {
		if n.Kind != notifications.KindEvent {
			t.Errorf("kind = %s, want event", n.Kind)
		}
		if !strings.Contains(n.Message, "Acme") || !strings.Contains(n.Message, "10:00-14:00") {
			t.Errorf("message = %q", n.Message)
		}
	}
}

func TestProcessTimeMoveThenNoChange(t *testing.T) {
	fs := newFakeStore()
	fs.images["s1"] = []store.Image{{ID: "i1", Sequence: 1, R2Key: "k1"}}
	fs.images["s2"] = []store.Image{{ID: "i2", Sequence: 1, R2Key: "k2"}}
	fs.images["s3"] = []store.Image{{ID: "i3", Sequence: 1, R2Key: "k2"}}
	reader := &fakeReader{days: map[string]ImageDay{
		"k1": {ScheduleDate: "2026-03-02", Shifts: []schedule.Shift{acmeShift("10:00", "14:00")}},
		"k2": {ScheduleDate: "2026-03-02", Shifts: []schedule.Shift{acmeShift("10:30", "14:30")}},
	}}
	p := newTestPipeline(fs, reader, newFakeCache())
	ctx := context.Background()

	if err := p.Process(ctx, &store.Session{ID: "s1", UserID: 7}); err != nil {
		t.Fatalf("process s1: %v", err)
	}
	if err := p.Process(ctx, &store.Session{ID: "s2", UserID: 7}); err != nil {
		t.Fatalf("process s2: %v", err)
	}

	rows := fs.versions[dayKey(7, "2026-03-02")]
	if len(rows) != 2 {
		t.Fatalf("versions = %d, want 2", len(rows))
	}

	var moveMsg string
	for _, n := range fs.notifs {
		if strings.Contains(n.Message, "→") {
			moveMsg = n.Message
		}
	}
	want := "2026-03-02: Acme 10:00-14:00 → 10:30-14:30"
	if moveMsg != want {
		t.Errorf("time move message = %q, want %q", moveMsg, want)
	}

	// Повтор того же дня: ни версии, ни событий, ни уведомлений.
	events := len(fs.eventKeys)
	notifs := len(fs.notifs)
	if err := p.Process(ctx, &store.Session{ID: "s3", UserID: 7}); err != nil {
		t.Fatalf("process s3: %v", err)
	}
	if len(fs.versions[dayKey(7, "2026-03-02")]) != 2 {
		t.Error("no-change rerun must not create a version")
	}
	if len(fs.eventKeys) != events || len(fs.notifs) != notifs {
		t.Error("no-change rerun must not create events or notifications")
	}
	if !fs.done["s3"] {
		t.Error("no-change session still finishes done")
	}
}

func TestProcessStormSuppression(t *testing.T) {
	fs := newFakeStore()
	fs.images["s1"] = []store.Image{{ID: "i1", Sequence: 1, R2Key: "k1"}}

	shifts := make([]schedule.Shift, 0, 5)
	starts := []string{"08:00", "10:00", "12:00", "14:00", "16:00"}
	for _, start := range starts {
		s := acmeShift(start, "17:00")
		s.LocationFingerprint = "loc-" + start
		s.CustomerFingerprint = "cust-" + start
		shifts = append(shifts, s)
	}
	reader := &fakeReader{days: map[string]ImageDay{
		"k1": {ScheduleDate: "2026-03-02", Shifts: shifts},
	}}
	p := newTestPipeline(fs, reader, newFakeCache())

	if err := p.Process(context.Background(), &store.Session{ID: "s1", UserID: 7}); err != nil {
		t.Fatalf("Process: %v", err)
	}

	if len(fs.eventKeys) != 5 {
		t.Fatalf("events = %d, want 5", len(fs.eventKeys))
	}
	if len(fs.notifs) != 1 {
		t.Fatalf("notifications = %d, want single summary", len(fs.notifs))
	}
	for _, n := range fs.notifs {
		if n.Kind != notifications.KindSummary {
			t.Errorf("kind = %s, want summary", n.Kind)
		}
		if len(n.EventIDs) != 5 {
			t.Errorf("summary covers %d events, want 5", len(n.EventIDs))
		}
	}
}

func TestProcessMultiImageAggregation(t *testing.T) {
	fs := newFakeStore()
	fs.images["s1"] = []store.Image{
		{ID: "i1", Sequence: 1, R2Key: "k1"},
		{ID: "i2", Sequence: 2, R2Key: "k2"},
	}
	reader := &fakeReader{days: map[string]ImageDay{
		"k1": {ScheduleDate: "2026-03-02", Shifts: []schedule.Shift{acmeShift("10:00", "14:00")}},
		"k2": {ScheduleDate: "2026-03-02", Shifts: []schedule.Shift{acmeShift("10:02", "14:05")}},
	}}
	p := newTestPipeline(fs, reader, newFakeCache())

	if err := p.Process(context.Background(), &store.Session{ID: "s1", UserID: 7}); err != nil {
		t.Fatalf("Process: %v", err)
	}

	snapshot := fs.snapshots[dayKey(7, "2026-03-02")]
	if len(snapshot) != 1 {
		t.Fatalf("snapshot = %d shifts, want merged 1", len(snapshot))
	}
	if snapshot[0].Start != "10:00" || snapshot[0].End != "14:05" {
		t.Errorf("merged times = %s-%s, want 10:00-14:05", snapshot[0].Start, snapshot[0].End)
	}
}

func TestProcessDateConflictFails(t *testing.T) {
	fs := newFakeStore()
	fs.images["s1"] = []store.Image{
		{ID: "i1", Sequence: 1, R2Key: "k1"},
		{ID: "i2", Sequence: 2, R2Key: "k2"},
	}
	reader := &fakeReader{days: map[string]ImageDay{
		"k1": {ScheduleDate: "2026-03-02", Shifts: []schedule.Shift{acmeShift("10:00", "14:00")}},
		"k2": {ScheduleDate: "2026-03-03", Shifts: []schedule.Shift{acmeShift("10:00", "14:00")}},
	}}
	p := newTestPipeline(fs, reader, newFakeCache())

	err := p.Process(context.Background(), &store.Session{ID: "s1", UserID: 7})
	if err == nil {
		t.Fatal("date conflict must fail the session")
	}
	if faults.KindOf(err) != faults.Canonicalization {
		t.Errorf("kind = %s, want canonicalization", faults.KindOf(err))
	}
	if fs.failed["s1"] == "" {
		t.Error("session must be marked failed with non-empty error")
	}
	if len(fs.versions) != 0 || len(fs.eventKeys) != 0 || len(fs.notifs) != 0 {
		t.Error("failed session must not write version, events or notifications")
	}
}

func TestProcessLeaseLostAbortsWithoutFinalize(t *testing.T) {
	fs := newFakeStore()
	fs.loseHB = true
	fs.images["s1"] = []store.Image{{ID: "i1", Sequence: 1, R2Key: "k1"}}
	reader := &fakeReader{
		days: map[string]ImageDay{
			"k1": {ScheduleDate: "2026-03-02", Shifts: []schedule.Shift{acmeShift("10:00", "14:00")}},
		},
		delay: 500 * time.Millisecond,
	}
	// Heartbeat каждые 10мс теряет лизинг раньше, чем читается снимок.
	p := NewPipeline(fs, reader, newFakeCache(), 10*time.Millisecond,
		notifications.DefaultSummaryThreshold, schedule.DefaultTimeTolerance)

	err := p.Process(context.Background(), &store.Session{ID: "s1", UserID: 7})
	if !faults.IsLeaseLost(err) {
		t.Fatalf("err = %v, want lease lost", err)
	}
	if fs.done["s1"] {
		t.Error("lost lease must not mark done")
	}
	if _, failed := fs.failed["s1"]; failed {
		t.Error("lost lease must not mark failed")
	}
	if len(fs.versions) != 0 {
		t.Error("lost lease must not write versions")
	}
}

func TestProcessReclaimDeliversPersistedNotifications(t *testing.T) {
	fs := newFakeStore()
	fs.images["s1"] = []store.Image{{ID: "i1", Sequence: 1, R2Key: "k1"}}
	shift := acmeShift("10:00", "14:00")
	reader := &fakeReader{days: map[string]ImageDay{
		"k1": {ScheduleDate: "2026-03-02", Shifts: []schedule.Shift{shift}},
	}}

	// Состояние после падения воркера между фиксацией событий и записью
	// уведомлений: версия и снапшот записаны, событие сохранено, уведомлений нет.
	key := dayKey(7, "2026-03-02")
	fs.versions[key] = []fakeVersion{{version: 1, sessionID: "s1", hash: "h1"}}
	fs.snapshots[key] = []schedule.Shift{shift}
	dedupe := strings.Join([]string{
		key, string(schedule.EventShiftAdded), shift.LocationFingerprint,
		schedule.ValueHash(nil), schedule.ValueHash(&shift),
	}, "|")
	fs.eventKeys[dedupe] = "ev-1"
	fs.sessionEvents["s1"] = []notifications.EventRecord{{
		EventID: "ev-1",
		Event: schedule.Event{
			Type:                schedule.EventShiftAdded,
			LocationFingerprint: shift.LocationFingerprint,
			CustomerFingerprint: shift.CustomerFingerprint,
			New:                 &shift,
		},
	}}
	fs.eventSeq = 1

	p := newTestPipeline(fs, reader, newFakeCache())
	err := p.Process(context.Background(), &store.Session{ID: "s1", UserID: 7, Reclaimed: true})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	// Дифф со свежим снапшотом пуст, но сохранённое событие всё равно
	// доходит до уведомления.
	if len(fs.notifs) != 1 {
		t.Fatalf("notifications = %d, want 1", len(fs.notifs))
	}
	for _, n := range fs.notifs {
		if !strings.Contains(n.Message, "Acme") {
			t.Errorf("message = %q", n.Message)
		}
		if len(n.EventIDs) != 1 || n.EventIDs[0] != "ev-1" {
			t.Errorf("event ids = %v, want [ev-1]", n.EventIDs)
		}
	}
	if !fs.done["s1"] {
		t.Error("session must finish done")
	}
}

func TestProcessShutdownLeavesSessionInProcessing(t *testing.T) {
	fs := newFakeStore()
	fs.images["s1"] = []store.Image{{ID: "i1", Sequence: 1, R2Key: "k1"}}
	reader := &fakeReader{
		days: map[string]ImageDay{
			"k1": {ScheduleDate: "2026-03-02", Shifts: []schedule.Shift{acmeShift("10:00", "14:00")}},
		},
		delay: 500 * time.Millisecond,
	}
	p := newTestPipeline(fs, reader, newFakeCache())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	err := p.Process(ctx, &store.Session{ID: "s1", UserID: 7})
	if err == nil {
		t.Fatal("interrupted processing must return an error")
	}
	// Shutdown — не сбой сессии: строка остаётся в processing для переподхвата.
	if fs.done["s1"] {
		t.Error("shutdown must not mark done")
	}
	if _, failed := fs.failed["s1"]; failed {
		t.Error("shutdown must not mark failed")
	}
}

func TestNotifyFiltersAlreadyNotified(t *testing.T) {
	fs := newFakeStore()
	fs.images["s1"] = []store.Image{{ID: "i1", Sequence: 1, R2Key: "k1"}}
	reader := &fakeReader{days: map[string]ImageDay{
		"k1": {ScheduleDate: "2026-03-02", Shifts: []schedule.Shift{acmeShift("10:00", "14:00")}},
	}}
	cache := newFakeCache()
	// Первое событие получит id "ev-1"; помечаем его уже уведомлённым.
	cache.seen["ev-1"] = struct{}{}
	p := newTestPipeline(fs, reader, cache)

	if err := p.Process(context.Background(), &store.Session{ID: "s1", UserID: 7}); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(fs.notifs) != 0 {
		t.Fatalf("notifications = %d, want 0 (already notified)", len(fs.notifs))
	}
	if !fs.done["s1"] {
		t.Error("session still finishes done")
	}
}
