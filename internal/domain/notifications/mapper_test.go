package notifications

import (
	"reflect"
	"testing"

	"schedule-worker/internal/domain/schedule"
)

func record(id string, typ schedule.EventType, old, cur *schedule.Shift) EventRecord {
	ev := schedule.Event{Type: typ, Old: old, New: cur}
	if cur != nil {
		ev.LocationFingerprint = cur.LocationFingerprint
		ev.CustomerFingerprint = cur.CustomerFingerprint
	} else if old != nil {
		ev.LocationFingerprint = old.LocationFingerprint
		ev.CustomerFingerprint = old.CustomerFingerprint
	}
	return EventRecord{EventID: id, Event: ev}
}

func acmeShift(start, end string) *schedule.Shift {
	return &schedule.Shift{
		Start: start, End: end,
		CustomerName: "Acme", Street: "Main", StreetNumber: "5", City: "Göteborg",
		Type:                schedule.TypeOffice,
		LocationFingerprint: "loc-a", CustomerFingerprint: "cust-a",
	}
}

func TestBuildEventMessages(t *testing.T) {
	t.Parallel()

	retitled := acmeShift("10:00", "14:00")
	retitled.CustomerName = "Acme Nordic"
	reclassified := acmeShift("10:00", "14:00")
	reclassified.Type = schedule.TypeHomeVisit

	tests := []struct {
		name string
		rec  EventRecord
		want string
	}{
		{
			name: "added",
			rec:  record("e1", schedule.EventShiftAdded, nil, acmeShift("10:00", "14:00")),
			want: "2026-03-02: Acme added 10:00-14:00",
		},
		{
			name: "removed",
			rec:  record("e2", schedule.EventShiftRemoved, acmeShift("10:00", "14:00"), nil),
			want: "2026-03-02: Acme removed 10:00-14:00",
		},
		{
			name: "both endpoints moved",
			rec:  record("e3", schedule.EventShiftTimeChanged, acmeShift("10:00", "14:00"), acmeShift("10:30", "14:30")),
			want: "2026-03-02: Acme 10:00-14:00 → 10:30-14:30",
		},
		{
			name: "start only",
			rec:  record("e4", schedule.EventShiftTimeChanged, acmeShift("10:00", "14:00"), acmeShift("10:30", "14:00")),
			want: "2026-03-02: Acme moved 10:00 → 10:30",
		},
		{
			name: "end only",
			rec:  record("e5", schedule.EventShiftTimeChanged, acmeShift("10:00", "14:00"), acmeShift("10:00", "14:30")),
			want: "2026-03-02: Acme ends 14:00 → 14:30",
		},
		{
			name: "retitled",
			rec:  record("e6", schedule.EventShiftRetitled, acmeShift("10:00", "14:00"), retitled),
			want: "2026-03-02: Acme renamed to Acme Nordic",
		},
		{
			name: "reclassified",
			rec:  record("e7", schedule.EventShiftReclassified, acmeShift("10:00", "14:00"), reclassified),
			want: "2026-03-02: Acme is now HOME_VISIT",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := Build(7, "2026-03-02", "sess-1", []EventRecord{tc.rec}, nil, DefaultSummaryThreshold)
			if len(got) != 1 {
				t.Fatalf("expected 1 notification, got %d", len(got))
			}
			if got[0].Message != tc.want {
				t.Fatalf("message = %q, want %q", got[0].Message, tc.want)
			}
			if got[0].Kind != KindEvent {
				t.Fatalf("kind = %s, want %s", got[0].Kind, KindEvent)
			}
		})
	}
}

func TestBuildStormSuppression(t *testing.T) {
	t.Parallel()

	var events []EventRecord
	for i, start := range []string{"08:00", "10:00", "12:00", "14:00", "16:00"} {
		s := acmeShift(start, "17:00")
		s.LocationFingerprint = "loc-" + start
		events = append(events, record("e"+string(rune('1'+i)), schedule.EventShiftAdded, nil, s))
	}

	got := Build(7, "2026-03-02", "sess-1", events, nil, 3)
	if len(got) != 1 {
		t.Fatalf("expected single summary, got %d notifications", len(got))
	}
	n := got[0]
	if n.Kind != KindSummary {
		t.Fatalf("kind = %s, want %s", n.Kind, KindSummary)
	}
	if n.Message != "2026-03-02: 5 schedule changes (5 added)" {
		t.Fatalf("summary message = %q", n.Message)
	}
	if len(n.EventIDs) != 5 {
		t.Fatalf("summary must list all 5 event ids, got %v", n.EventIDs)
	}
}

func TestBuildDropsAlreadyNotified(t *testing.T) {
	t.Parallel()

	events := []EventRecord{
		record("e1", schedule.EventShiftAdded, nil, acmeShift("10:00", "14:00")),
		record("e2", schedule.EventShiftRemoved, acmeShift("16:00", "18:00"), nil),
	}
	already := map[string]struct{}{"e1": {}}

	got := Build(7, "2026-03-02", "sess-1", events, already, DefaultSummaryThreshold)
	if len(got) != 1 {
		t.Fatalf("expected 1 notification after filtering, got %d", len(got))
	}
	if !reflect.DeepEqual(got[0].EventIDs, []string{"e2"}) {
		t.Fatalf("event ids = %v, want [e2]", got[0].EventIDs)
	}

	// Все события уже уведомлены: выход пуст.
	all := map[string]struct{}{"e1": {}, "e2": {}}
	if got := Build(7, "2026-03-02", "sess-1", events, all, DefaultSummaryThreshold); got != nil {
		t.Fatalf("expected no notifications, got %+v", got)
	}
}

func TestNotificationIDDeterministic(t *testing.T) {
	t.Parallel()

	a := NotificationID(7, "2026-03-02", "sess-1", KindSummary, []string{"e2", "e1", "e3"})
	b := NotificationID(7, "2026-03-02", "sess-1", KindSummary, []string{"e3", "e1", "e2"})
	if a != b {
		t.Fatal("id must not depend on event id order")
	}

	c := NotificationID(7, "2026-03-02", "sess-2", KindSummary, []string{"e1", "e2", "e3"})
	if a == c {
		t.Fatal("different sessions must produce different ids")
	}
	d := NotificationID(7, "2026-03-02", "sess-1", KindEvent, []string{"e1", "e2", "e3"})
	if a == d {
		t.Fatal("different kinds must produce different ids")
	}
}
