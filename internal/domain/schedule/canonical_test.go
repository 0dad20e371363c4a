package schedule

import (
	"reflect"
	"strings"
	"testing"
)

// aggShift — шорткат для сборки агрегированной смены в тестах.
func aggShift(s Shift) Aggregated {
	return Aggregated{Shift: s, SourceCount: 1}
}

func TestCanonicalizeHashStableUnderNoise(t *testing.T) {
	t.Parallel()

	base := []Aggregated{
		aggShift(Shift{
			Start: "10:00", End: "14:00",
			CustomerName: "Acme AB", Street: "Main", StreetNumber: "5",
			City: "Göteborg", Type: TypeOffice,
			LocationFingerprint: "loc-a", CustomerFingerprint: "cust-a",
		}),
		aggShift(Shift{
			Start: "08:00", End: "09:30",
			CustomerName: "Beta HB", Street: "Side", StreetNumber: "2",
			City: "Göteborg", Type: TypeSchool,
			LocationFingerprint: "loc-b", CustomerFingerprint: "cust-b",
		}),
	}
	// Тот же день: смены переставлены, времена в точечном формате, лишние пробелы.
	noisy := []Aggregated{
		aggShift(Shift{
			Start: "8.00", End: "09.30",
			CustomerName: "  Beta   HB ", Street: "Side", StreetNumber: "2",
			City: "Göteborg", Type: TypeSchool,
			LocationFingerprint: "loc-b", CustomerFingerprint: "cust-b",
		}),
		aggShift(Shift{
			Start: "10.00", End: "14:00",
			CustomerName: "Acme AB", Street: " Main ", StreetNumber: "5",
			City: "Göteborg", Type: TypeOffice,
			LocationFingerprint: "loc-a", CustomerFingerprint: "cust-a",
		}),
	}

	a, err := Canonicalize("2026-03-02", base)
	if err != nil {
		t.Fatalf("canonicalize base: %v", err)
	}
	b, err := Canonicalize("2026-03-02", noisy)
	if err != nil {
		t.Fatalf("canonicalize noisy: %v", err)
	}

	if a.Hash != b.Hash {
		t.Fatalf("hash mismatch:\n base=%s\nnoisy=%s", a.Hash, b.Hash)
	}
	if !reflect.DeepEqual(a.Day, b.Day) {
		t.Fatalf("canonical days differ:\n base=%+v\nnoisy=%+v", a.Day, b.Day)
	}
	if a.Day.Shifts[0].Start != "08:00" {
		t.Fatalf("shifts not ordered by start: %+v", a.Day.Shifts)
	}
}

func TestCanonicalizeErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		date   string
		shifts []Aggregated
	}{
		{
			name: "invalid date",
			date: "02.03.2026",
			shifts: []Aggregated{aggShift(Shift{
				Start: "10:00", End: "12:00", LocationFingerprint: "loc",
			})},
		},
		{
			name: "invalid time",
			date: "2026-03-02",
			shifts: []Aggregated{aggShift(Shift{
				Start: "25:00", End: "12:00", LocationFingerprint: "loc",
			})},
		},
		{
			name: "no endpoints",
			date: "2026-03-02",
			shifts: []Aggregated{aggShift(Shift{
				CustomerName: "Acme", LocationFingerprint: "loc",
			})},
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := Canonicalize(tc.date, tc.shifts); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

func TestEncodeDayNullsAndKeyOrder(t *testing.T) {
	t.Parallel()

	payload, err := Canonicalize("2026-03-02", []Aggregated{aggShift(Shift{
		Start: "10:00", End: "14:00",
		CustomerName:        "Acme AB",
		LocationFingerprint: "loc-a", CustomerFingerprint: "cust-a",
	})})
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}

	got := string(payload.JSON)
	// Отсутствующие поля присутствуют как null, а не пропущены.
	for _, key := range []string{`"street":null`, `"postal_code":null`, `"city":null`} {
		if !strings.Contains(got, key) {
			t.Errorf("payload misses %s: %s", key, got)
		}
	}
	// schedule_date идёт первым ключом, порядок полей смены фиксирован.
	if !strings.HasPrefix(got, `{"schedule_date":"2026-03-02","shifts":[{"start":"10:00","end":"14:00","customer_name":"Acme AB"`) {
		t.Fatalf("unexpected serialization prefix: %s", got)
	}
}

func TestDecodeShiftsRoundTrip(t *testing.T) {
	t.Parallel()

	in := []Shift{
		{
			Start: "09:00", End: "11:00",
			CustomerName: "Acme AB", Street: "Main", StreetNumber: "5",
			PostalCode: "411 05", PostalArea: "Centrum", City: "Göteborg",
			Type:                TypeHomeVisit,
			LocationFingerprint: "loc-a", CustomerFingerprint: "cust-a",
		},
		{Start: "12:00", End: "13:00", Type: TypeUnknown, LocationFingerprint: "loc-b"},
	}

	day := Day{ScheduleDate: "2026-03-02", Shifts: in}
	raw := EncodeDay(day)

	// Снапшот хранится как массив смен; вытаскиваем его из объекта дня.
	start := strings.Index(string(raw), `"shifts":`)
	arr := raw[start+len(`"shifts":`) : len(raw)-1]

	got, err := DecodeShifts(arr)
	if err != nil {
		t.Fatalf("decode shifts: %v", err)
	}
	if !reflect.DeepEqual(got, in) {
		t.Fatalf("round trip mismatch:\n got=%+v\nwant=%+v", got, in)
	}
}

func TestValueHash(t *testing.T) {
	t.Parallel()

	s := Shift{Start: "10:00", End: "14:00", LocationFingerprint: "loc"}
	if ValueHash(&s) == ValueHash(nil) {
		t.Fatal("shift hash collides with null sentinel")
	}
	if ValueHash(nil) != HashHex([]byte("null")) {
		t.Fatal("null sentinel is not hash of literal null")
	}
	same := s
	if ValueHash(&s) != ValueHash(&same) {
		t.Fatal("equal shifts must hash equally")
	}
}
