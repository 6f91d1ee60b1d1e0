package dates

import (
	"testing"
	"time"
)

func TestDateKey_Unpadded(t *testing.T) {
	d := time.Date(2024, time.March, 4, 15, 30, 0, 0, time.UTC)
	if got := DateKey(d); got != "2024-3-4" {
		t.Errorf("DateKey = %q, want %q", got, "2024-3-4")
	}

	d = time.Date(2024, time.November, 23, 0, 0, 0, 0, time.UTC)
	if got := DateKey(d); got != "2024-11-23" {
		t.Errorf("DateKey = %q, want %q", got, "2024-11-23")
	}
}

func TestParseDateKey(t *testing.T) {
	tests := []struct {
		key     string
		want    time.Time
		wantErr bool
	}{
		{"2024-3-4", time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC), false},
		{"2024-03-04", time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC), false},
		{"2024-12-31", time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC), false},
		{"2024-2-29", time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), false},
		{"2023-2-29", time.Time{}, true}, // not a leap year
		{"2024-13-1", time.Time{}, true},
		{"2024-0-1", time.Time{}, true},
		{"lastSyncedAt", time.Time{}, true},
		{"2024-3", time.Time{}, true},
		{"", time.Time{}, true},
		{"2024-3-4-5", time.Time{}, true},
	}

	for _, tt := range tests {
		got, err := ParseDateKey(tt.key)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseDateKey(%q) = %v, want error", tt.key, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseDateKey(%q) failed: %v", tt.key, err)
			continue
		}
		if !got.Equal(tt.want) {
			t.Errorf("ParseDateKey(%q) = %v, want %v", tt.key, got, tt.want)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	key := "2024-3-4"
	parsed, err := ParseDateKey(key)
	if err != nil {
		t.Fatalf("ParseDateKey failed: %v", err)
	}
	if got := DateKey(parsed); got != key {
		t.Errorf("round trip = %q, want %q", got, key)
	}
}

func TestStartOfWeek(t *testing.T) {
	tests := []struct {
		name string
		in   time.Time
		want time.Time
	}{
		{"monday maps to itself", time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC), time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)},
		{"sunday maps to previous monday", time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC), time.Date(2024, 2, 26, 0, 0, 0, 0, time.UTC)},
		{"wednesday", time.Date(2024, 3, 6, 0, 0, 0, 0, time.UTC), time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)},
		{"saturday", time.Date(2024, 3, 9, 23, 59, 0, 0, time.UTC), time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		if got := StartOfWeek(tt.in); !got.Equal(tt.want) {
			t.Errorf("%s: StartOfWeek = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestWeekIdentifier_DistinguishesAdjacentWeeks(t *testing.T) {
	// Two consecutive Sundays must land in different weeks.
	w1 := WeekIdentifier(time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC))
	w2 := WeekIdentifier(time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC))
	if w1 == w2 {
		t.Errorf("adjacent Sundays share week identifier %q", w1)
	}
	if w1 != "2024-2-26" {
		t.Errorf("week of 2024-3-3 = %q, want 2024-2-26", w1)
	}
	if w2 != "2024-3-4" {
		t.Errorf("week of 2024-3-10 = %q, want 2024-3-4", w2)
	}
}

func TestWeekIdentifierForKey(t *testing.T) {
	got, err := WeekIdentifierForKey("2024-3-6")
	if err != nil {
		t.Fatalf("WeekIdentifierForKey failed: %v", err)
	}
	if got != "2024-3-4" {
		t.Errorf("WeekIdentifierForKey = %q, want 2024-3-4", got)
	}

	if _, err := WeekIdentifierForKey("syncVersion"); err == nil {
		t.Error("expected error for metadata key")
	}
}

func TestWeekKeys(t *testing.T) {
	keys := WeekKeys(time.Date(2024, 3, 6, 0, 0, 0, 0, time.UTC))
	want := []string{"2024-3-4", "2024-3-5", "2024-3-6", "2024-3-7", "2024-3-8", "2024-3-9", "2024-3-10"}
	if len(keys) != 7 {
		t.Fatalf("WeekKeys returned %d keys, want 7", len(keys))
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("WeekKeys[%d] = %q, want %q", i, keys[i], want[i])
		}
	}
}

func TestWeekKeys_CrossesMonthBoundary(t *testing.T) {
	keys := WeekKeys(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	if keys[0] != "2024-2-26" {
		t.Errorf("week start = %q, want 2024-2-26", keys[0])
	}
	if keys[6] != "2024-3-3" {
		t.Errorf("week end = %q, want 2024-3-3", keys[6])
	}
}

func TestDisplayWeekStart(t *testing.T) {
	// Wednesday 2024-3-6 -> Sunday 2024-3-3.
	got := DisplayWeekStart(time.Date(2024, 3, 6, 12, 0, 0, 0, time.UTC))
	want := time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("DisplayWeekStart = %v, want %v", got, want)
	}

	// Sunday maps to itself.
	got = DisplayWeekStart(want)
	if !got.Equal(want) {
		t.Errorf("DisplayWeekStart(sunday) = %v, want %v", got, want)
	}
}
