package timeutil

import (
	"testing"
	"time"
)

func TestParseSampleTime(t *testing.T) {
	got, err := ParseSampleTime("01-01-2024 10:00:10")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2024, time.January, 1, 10, 0, 10, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("ParseSampleTime() = %v, want %v", got, want)
	}
}

func TestParseSampleTimeInvalid(t *testing.T) {
	if _, err := ParseSampleTime("2024-01-01 10:00:10"); err == nil {
		t.Error("expected error for wrong-order datetime, got nil")
	}
}

func TestFloorMinute(t *testing.T) {
	in := time.Date(2024, time.January, 1, 10, 0, 45, 123, time.UTC)
	want := time.Date(2024, time.January, 1, 10, 0, 0, 0, time.UTC)
	if got := FloorMinute(in); !got.Equal(want) {
		t.Errorf("FloorMinute() = %v, want %v", got, want)
	}
}

func TestFloorHour(t *testing.T) {
	in := time.Date(2024, time.January, 1, 10, 59, 45, 0, time.UTC)
	want := time.Date(2024, time.January, 1, 10, 0, 0, 0, time.UTC)
	if got := FloorHour(in); !got.Equal(want) {
		t.Errorf("FloorHour() = %v, want %v", got, want)
	}
}
