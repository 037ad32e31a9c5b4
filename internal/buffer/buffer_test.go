package buffer

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func newTestBuffer(t *testing.T) *Buffer {
	t.Helper()
	dir := t.TempDir()
	b, err := New(dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return b
}

func mustRecord(t *testing.T, deviceCode string, n int) Record {
	t.Helper()
	payload, err := json.Marshal(map[string]int{"n": n})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return Record{Username: "alice", DeviceCode: deviceCode, DeviceID: 1, Payload: payload}
}

func TestAppendAndListDevices(t *testing.T) {
	b := newTestBuffer(t)

	if err := b.Append("meter-1", mustRecord(t, "meter-1", 1)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := b.Append("meter-2", mustRecord(t, "meter-2", 1)); err != nil {
		t.Fatalf("Append: %v", err)
	}

	devices, err := b.ListDevices()
	if err != nil {
		t.Fatalf("ListDevices: %v", err)
	}
	if len(devices) != 2 || devices[0] != "meter-1" || devices[1] != "meter-2" {
		t.Fatalf("ListDevices = %v, want [meter-1 meter-2]", devices)
	}
}

func TestProcessAllSucceedDrainsFile(t *testing.T) {
	b := newTestBuffer(t)
	for i := 0; i < 3; i++ {
		if err := b.Append("meter-1", mustRecord(t, "meter-1", i)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	var seen []int
	result, err := b.Process("meter-1", func(rec Record) ProcessDecision {
		var p map[string]int
		_ = json.Unmarshal(rec.Payload, &p)
		seen = append(seen, p["n"])
		return ProcessDecision{Success: true, CheckpointOffset: -1}
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.Processed != 3 || result.Remaining != 0 {
		t.Fatalf("result = %+v, want {3 0}", result)
	}
	if len(seen) != 3 || seen[0] != 0 || seen[2] != 2 {
		t.Fatalf("seen = %v", seen)
	}

	if _, err := os.Stat(filepath.Join(b.baseDir, "meter-1.jsonl")); !os.IsNotExist(err) {
		t.Fatalf("expected drained file to be removed, stat err = %v", err)
	}
}

func TestProcessStopsOnFailureRetainsFromCheckpoint(t *testing.T) {
	b := newTestBuffer(t)
	for i := 0; i < 3; i++ {
		if err := b.Append("meter-1", mustRecord(t, "meter-1", i)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	call := 0
	result, err := b.Process("meter-1", func(rec Record) ProcessDecision {
		call++
		if call == 2 {
			return ProcessDecision{Success: false}
		}
		return ProcessDecision{Success: true, CheckpointOffset: -1}
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.Processed != 1 {
		t.Fatalf("Processed = %d, want 1", result.Processed)
	}
	if result.Remaining != 2 {
		t.Fatalf("Remaining = %d, want 2", result.Remaining)
	}

	result2, err := b.Process("meter-1", func(rec Record) ProcessDecision {
		return ProcessDecision{Success: true, CheckpointOffset: -1}
	})
	if err != nil {
		t.Fatalf("Process (second pass): %v", err)
	}
	if result2.Processed != 2 || result2.Remaining != 0 {
		t.Fatalf("result2 = %+v, want {2 0}", result2)
	}
}

func TestProcessBadLineQuarantined(t *testing.T) {
	b := newTestBuffer(t)
	path := filepath.Join(b.baseDir, "meter-1.jsonl")

	valid1, _ := json.Marshal(mustRecord(t, "meter-1", 1))
	valid2, _ := json.Marshal(mustRecord(t, "meter-1", 2))
	content := string(valid1) + "\n" + "{broken" + "\n" + string(valid2) + "\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	handled := 0
	result, err := b.Process("meter-1", func(rec Record) ProcessDecision {
		handled++
		return ProcessDecision{Success: true, CheckpointOffset: -1}
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if handled != 2 {
		t.Fatalf("handled = %d, want 2", handled)
	}
	if result.Processed != 2 || result.Remaining != 0 {
		t.Fatalf("result = %+v, want {2 0}", result)
	}

	badData, err := os.ReadFile(b.badPath("meter-1"))
	if err != nil {
		t.Fatalf("read bad file: %v", err)
	}
	if string(badData) != "{broken\n" {
		t.Fatalf("bad file = %q, want %q", badData, "{broken\n")
	}
}

type fakeArchiver struct {
	keys [][2]string
}

func (f *fakeArchiver) Enqueue(key string, data []byte) {
	f.keys = append(f.keys, [2]string{key, string(data)})
}

func TestProcessBadLineMirroredToArchiver(t *testing.T) {
	b := newTestBuffer(t)
	path := filepath.Join(b.baseDir, "meter-1.jsonl")

	arc := &fakeArchiver{}
	b.SetArchiver(arc)

	content := "{broken\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	if _, err := b.Process("meter-1", func(rec Record) ProcessDecision {
		t.Fatal("handler should not be called for a bad line")
		return ProcessDecision{}
	}); err != nil {
		t.Fatalf("Process: %v", err)
	}

	if len(arc.keys) != 1 {
		t.Fatalf("archiver got %d uploads, want 1", len(arc.keys))
	}
	if arc.keys[0][1] != "{broken\n" {
		t.Fatalf("archived data = %q, want %q", arc.keys[0][1], "{broken\n")
	}
}

func TestProcessMissingFileIsNoop(t *testing.T) {
	b := newTestBuffer(t)
	result, err := b.Process("nope", func(rec Record) ProcessDecision {
		t.Fatal("handler should not be called for a missing file")
		return ProcessDecision{}
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.Processed != 0 || result.Remaining != 0 {
		t.Fatalf("result = %+v, want zero value", result)
	}
}

func TestProcessHandlerPanicIsFailure(t *testing.T) {
	b := newTestBuffer(t)
	if err := b.Append("meter-1", mustRecord(t, "meter-1", 1)); err != nil {
		t.Fatalf("Append: %v", err)
	}

	result, err := b.Process("meter-1", func(rec Record) ProcessDecision {
		panic("boom")
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.Processed != 0 || result.Remaining != 1 {
		t.Fatalf("result = %+v, want {0 1}", result)
	}
}
