package schedule

import "testing"

func TestParseClock(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      string
		want    int
		wantErr bool
	}{
		{name: "colon", in: "10:30", want: 630},
		{name: "dot", in: "10.30", want: 630},
		{name: "single digit hour", in: "9:05", want: 545},
		{name: "midnight", in: "00:00", want: 0},
		{name: "last minute", in: "23:59", want: 1439},
		{name: "hour out of range", in: "24:00", wantErr: true},
		{name: "minute out of range", in: "10:60", wantErr: true},
		{name: "no separator", in: "1030", wantErr: true},
		{name: "short minutes", in: "10:3", wantErr: true},
		{name: "trailing garbage", in: "10:30x", wantErr: true},
		{name: "empty", in: "", wantErr: true},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseClock(tc.in)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("ParseClock(%q) expected error, got %d", tc.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseClock(%q) unexpected error: %v", tc.in, err)
			}
			if got != tc.want {
				t.Fatalf("ParseClock(%q) = %d, want %d", tc.in, got, tc.want)
			}
		})
	}
}

func TestClockDistSymmetricAndBounded(t *testing.T) {
	t.Parallel()

	// Перебор по сетке покрывает обе стороны полуночи.
	for a := 0; a < minutesPerDay; a += 37 {
		for b := 0; b < minutesPerDay; b += 41 {
			ab, ba := clockDist(a, b), clockDist(b, a)
			if ab != ba {
				t.Fatalf("dist(%d,%d)=%d != dist(%d,%d)=%d", a, b, ab, b, a, ba)
			}
			if ab > halfDay {
				t.Fatalf("dist(%d,%d)=%d exceeds %d", a, b, ab, halfDay)
			}
		}
	}
}

func TestClockDistAcrossMidnight(t *testing.T) {
	t.Parallel()

	// 23:50 и 00:10 на циклических сутках разделяют 20 минут.
	if got := clockDist(23*60+50, 10); got != 20 {
		t.Fatalf("clockDist(23:50, 00:10) = %d, want 20", got)
	}
}

func TestContainsRange(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name                   string
		aStart, aEnd           int
		bStart, bEnd           int
		want                   bool
	}{
		{name: "inner interval", aStart: 600, aEnd: 840, bStart: 630, bEnd: 800, want: true},
		{name: "equal intervals", aStart: 600, aEnd: 840, bStart: 600, bEnd: 840, want: true},
		{name: "overlap only", aStart: 600, aEnd: 840, bStart: 500, bEnd: 700, want: false},
		{name: "disjoint", aStart: 600, aEnd: 840, bStart: 900, bEnd: 960, want: false},
		{name: "wrap outer contains inner", aStart: 23 * 60, aEnd: 120, bStart: 23*60 + 30, bEnd: 60, want: true},
		{name: "wrap inner crosses boundary", aStart: 22 * 60, aEnd: 180, bStart: 23 * 60, bEnd: 30, want: true},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := containsRange(tc.aStart, tc.aEnd, tc.bStart, tc.bEnd)
			if got != tc.want {
				t.Fatalf("containsRange(%d,%d,%d,%d) = %v, want %v",
					tc.aStart, tc.aEnd, tc.bStart, tc.bEnd, got, tc.want)
			}
		})
	}
}

func TestFormatClock(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   int
		want string
	}{
		{in: 0, want: "00:00"},
		{in: 630, want: "10:30"},
		{in: 1439, want: "23:59"},
		{in: 1440, want: "00:00"},
		{in: 1500, want: "01:00"},
		{in: -10, want: "23:50"},
	}

	for _, tc := range tests {
		if got := FormatClock(tc.in); got != tc.want {
			t.Errorf("FormatClock(%d) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
