package pipeline

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/hakimfrh/swm-worker/internal/buffer"
	"github.com/hakimfrh/swm-worker/internal/timeutil"
)

func rawRecord(t *testing.T, deviceID int64, datetime string, energy float64) buffer.Record {
	t.Helper()
	raw := RawSample{
		Datetime:  datetime,
		Voltage:   220,
		Current:   1,
		Power:     220,
		Energy:    energy,
		Frequency: 50,
		PF:        1,
	}
	payload, err := json.Marshal(raw)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return buffer.Record{Username: "alice", DeviceCode: "meter-1", DeviceID: deviceID, Payload: payload}
}

// TestMonotonicGuardDropsOlderSample exercises property #1: replaying an
// older sample after a newer one has already been processed is a no-op
// that still checkpoints successfully, without touching the datastore.
func TestMonotonicGuardDropsOlderSample(t *testing.T) {
	p := &Pipeline{deviceCode: "meter-1", balanceMode: BalanceModeMinute}
	p.hasProcessed = true
	p.lastProcessedDt = mustParseSampleTime(t, "29-07-2026 12:05:00")

	rec := rawRecord(t, 1, "29-07-2026 12:04:00", 10.0)
	decision := p.Handle(context.Background(), rec)
	if !decision.Success {
		t.Fatalf("decision.Success = false, want true (monotonic drop still checkpoints)")
	}
	if decision.CheckpointOffset != -1 {
		t.Fatalf("CheckpointOffset = %d, want -1", decision.CheckpointOffset)
	}
}

// TestMonotonicGuardDropsEqualSample covers the boundary: a replayed
// sample at exactly the last-processed timestamp is also dropped, not
// just strictly-older ones.
func TestMonotonicGuardDropsEqualSample(t *testing.T) {
	p := &Pipeline{deviceCode: "meter-1", balanceMode: BalanceModeMinute}
	p.hasProcessed = true
	p.lastProcessedDt = mustParseSampleTime(t, "29-07-2026 12:05:00")

	rec := rawRecord(t, 1, "29-07-2026 12:05:00", 10.0)
	decision := p.Handle(context.Background(), rec)
	if !decision.Success || decision.CheckpointOffset != -1 {
		t.Fatalf("decision = %+v, want success checkpoint for equal-dt replay", decision)
	}
}

// TestHandleBadDatetimeFails exercises the parse-failure path:
// a payload missing required numeric fields still decodes (zero values),
// but an unparseable datetime must fail closed.
func TestHandleBadDatetimeFails(t *testing.T) {
	p := &Pipeline{deviceCode: "meter-1", balanceMode: BalanceModeMinute}
	rec := rawRecord(t, 1, "not-a-datetime", 10.0)
	decision := p.Handle(context.Background(), rec)
	if decision.Success {
		t.Fatalf("decision.Success = true, want false for unparseable datetime")
	}
}

func TestHandleMalformedJSONFails(t *testing.T) {
	p := &Pipeline{deviceCode: "meter-1", balanceMode: BalanceModeMinute}
	rec := buffer.Record{Username: "alice", DeviceCode: "meter-1", DeviceID: 1, Payload: []byte("{not json")}
	decision := p.Handle(context.Background(), rec)
	if decision.Success {
		t.Fatalf("decision.Success = true, want false for malformed payload JSON")
	}
}

func mustParseSampleTime(t *testing.T, s string) time.Time {
	t.Helper()
	parsed, err := timeutil.ParseSampleTime(s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return parsed
}
