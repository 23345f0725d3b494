package scheduler

import (
	"testing"
	"time"
)

func TestCronParser_Expressions(t *testing.T) {
	tests := []struct {
		name    string
		expr    string
		wantErr bool
	}{
		{"nightly", "30 2 * * *", false},
		{"every 15 minutes", "*/15 * * * *", false},
		{"weekdays", "0 6 * * 1-5", false},
		{"first of month", "0 4 1 * *", false},
		{"four fields", "* * * *", true},
		{"six fields", "* * * * * *", true},
		{"invalid hour 25", "0 25 * * *", true},
		{"empty", "", true},
	}

	p := NewCronParser()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Parse(tt.expr, "UTC")
			if (err != nil) != tt.wantErr {
				t.Errorf("Parse(%q) error = %v, wantErr %v", tt.expr, err, tt.wantErr)
			}
		})
	}
}

func TestCronParser_InvalidTimezone(t *testing.T) {
	if _, err := NewCronParser().Parse("0 * * * *", "Invalid/Zone"); err == nil {
		t.Error("expected error for unknown timezone")
	}
}

func TestCronParser_Next(t *testing.T) {
	p := NewCronParser()

	sched, err := p.Parse("30 2 * * *", "UTC")
	if err != nil {
		t.Fatal(err)
	}
	after := time.Date(2024, 3, 5, 1, 0, 0, 0, time.UTC)
	if got, want := sched.Next(after), time.Date(2024, 3, 5, 2, 30, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("Next = %v, want %v", got, want)
	}
	after = time.Date(2024, 3, 5, 3, 0, 0, 0, time.UTC)
	if got, want := sched.Next(after), time.Date(2024, 3, 6, 2, 30, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("Next = %v, want %v", got, want)
	}

	// 02:30 in Paris is 01:30 UTC in winter.
	paris, err := p.Parse("30 2 * * *", "Europe/Paris")
	if err != nil {
		t.Fatal(err)
	}
	ref := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	if got, want := paris.Next(ref).UTC(), time.Date(2024, 1, 15, 1, 30, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("Paris Next = %v, want %v", got, want)
	}
}

func TestCronParser_DSTSpringForward(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	sched, err := NewCronParser().Parse("30 2 * * *", "America/New_York")
	if err != nil {
		t.Fatal(err)
	}

	// 02:30 does not exist on 2024-03-10 in New York.
	before := time.Date(2024, 3, 10, 1, 0, 0, 0, ny)
	next := sched.Next(before)
	if !next.After(before) {
		t.Errorf("Next = %v, want after %v", next, before)
	}
	if next.Equal(time.Date(2024, 3, 10, 2, 30, 0, 0, ny)) {
		t.Error("scheduled at a wall time that does not exist")
	}
}
