package timezone

import (
	"testing"
	"time"
)

func TestYesterday(t *testing.T) {
	y := Yesterday()
	if y.Hour() != 0 || y.Minute() != 0 {
		t.Fatalf("expected start of day, got %v", y)
	}
	if !SameDay(y, Now().AddDate(0, 0, -1)) {
		t.Fatalf("yesterday is not one day behind now: %v", y)
	}
}

func TestSameDay(t *testing.T) {
	a := time.Date(2024, 3, 1, 23, 30, 0, 0, Location)
	b := time.Date(2024, 3, 1, 0, 15, 0, 0, Location)
	if !SameDay(a, b) {
		t.Fatal("expected same day")
	}
	// 2024-03-01 18:45 UTC is already 2024-03-02 in Asia/Kolkata
	c := time.Date(2024, 3, 1, 18, 45, 0, 0, time.UTC)
	if SameDay(b, c) {
		t.Fatal("expected different days across the timezone boundary")
	}
}
