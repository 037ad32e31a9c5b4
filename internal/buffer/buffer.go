// Package buffer implements the per-device append-only disk queue that
// sits between message arrival and successful aggregation. It is the
// worker's crash-tolerance mechanism: a record is only dropped from a
// device's file once every downstream effect of processing it has
// durably succeeded.
package buffer

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Record is one enqueued line: the raw topic identity plus the decoded
// wire payload, kept generic so the buffer never needs to know the
// payload's shape.
type Record struct {
	Username   string          `json:"username"`
	DeviceCode string          `json:"device_code"`
	DeviceID   int64           `json:"device_id"`
	Payload    json.RawMessage `json:"payload"`
}

// ProcessDecision is returned by a Handler for each record it consumes.
type ProcessDecision struct {
	Success bool
	// CheckpointOffset, when Success is true, advances the safe index by
	// this many lines past the current one. The pipeline always passes
	// -1, meaning "truncate up to and including this line." The offset
	// is kept general so a future handler could defer a checkpoint.
	CheckpointOffset int
}

// Handler processes one buffered record and reports what happened.
type Handler func(rec Record) ProcessDecision

// Result summarizes one drain pass over a device's file.
type Result struct {
	Processed int
	Remaining int
}

// Archiver mirrors a quarantined bad line to durable off-box storage.
// Enqueue must not block the caller; *archive.AsyncUploader satisfies
// this by queueing the upload on its own worker goroutines.
type Archiver interface {
	Enqueue(key string, data []byte)
}

// Buffer is a durable, append-only queue of JSON lines per device,
// rooted at baseDir. All file operations pass through a single
// process-wide mutex, matching the single-writer discipline the
// pipeline itself assumes.
type Buffer struct {
	baseDir  string
	log      zerolog.Logger
	archiver Archiver

	mu sync.Mutex
}

// New creates a Buffer rooted at baseDir, creating baseDir and its bad/
// quarantine subdirectory if they don't already exist.
func New(baseDir string, log zerolog.Logger) (*Buffer, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("buffer: create base dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(baseDir, "bad"), 0o755); err != nil {
		return nil, fmt.Errorf("buffer: create bad dir: %w", err)
	}
	return &Buffer{baseDir: baseDir, log: log.With().Str("component", "buffer").Logger()}, nil
}

// SetArchiver attaches an off-box mirror for quarantined bad lines.
// Optional: a Buffer with no archiver just leaves them on local disk.
func (b *Buffer) SetArchiver(a Archiver) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.archiver = a
}

func (b *Buffer) path(deviceCode string) string {
	return filepath.Join(b.baseDir, deviceCode+".jsonl")
}

func (b *Buffer) badPath(deviceCode string) string {
	return filepath.Join(b.baseDir, "bad", deviceCode+".jsonl")
}

// Append serializes rec as one JSON line and appends it to the device's
// file, flushing before return.
func (b *Buffer) Append(deviceCode string, rec Record) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("buffer: marshal record: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	f, err := os.OpenFile(b.path(deviceCode), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("buffer: open for append: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("buffer: write: %w", err)
	}
	return f.Sync()
}

// ListDevices returns every device_code with a pending buffer file,
// excluding the bad/ quarantine subdirectory.
func (b *Buffer) ListDevices() ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entries, err := os.ReadDir(b.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("buffer: list devices: %w", err)
	}

	var codes []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		codes = append(codes, strings.TrimSuffix(name, ".jsonl"))
	}
	sort.Strings(codes)
	return codes, nil
}

// Process reads a device's file in full, feeds each decoded line to
// handler in order, and rewrites the file to reflect what was
// checkpointed: a decoded line is only dropped once handler has
// returned Success for it, and every line from the first failure onward
// (plus any earlier still-unflushed lines) is preserved for the next
// call. A line that fails to decode is copied to the device's bad file
// and is dropped only when a later line is checkpointed.
func (b *Buffer) Process(deviceCode string, handler Handler) (Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	path := b.path(deviceCode)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{}, nil
		}
		return Result{}, fmt.Errorf("buffer: read %s: %w", path, err)
	}
	if len(data) == 0 {
		return Result{}, nil
	}

	lines := splitLines(data)

	safeIndex := -1
	processed := 0

	for i, line := range lines {
		if len(line) == 0 {
			continue
		}

		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			if err := b.appendBadLocked(deviceCode, line); err != nil {
				b.log.Error().Err(err).Str("device_code", deviceCode).Msg("failed to quarantine bad line")
			}
			continue
		}

		decision := b.invokeHandler(deviceCode, handler, rec)
		if !decision.Success {
			break
		}

		processed++
		advanced := i + decision.CheckpointOffset
		if decision.CheckpointOffset < 0 {
			// -1 means "up to and including this line" => index i.
			advanced = i
		}
		if advanced > safeIndex {
			safeIndex = advanced
		}
	}

	remaining := b.rewriteLocked(path, lines, safeIndex)
	return Result{Processed: processed, Remaining: remaining}, nil
}

// invokeHandler calls handler, converting a panic into a failed decision
// so one bad record can never take down the drain loop.
func (b *Buffer) invokeHandler(deviceCode string, handler Handler, rec Record) (decision ProcessDecision) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().Interface("panic", r).Str("device_code", deviceCode).Msg("buffer handler panicked")
			decision = ProcessDecision{Success: false}
		}
	}()
	return handler(rec)
}

// appendBadLocked writes a raw malformed line to the device's bad file
// and, if an archiver is attached, mirrors it off-box. Caller must
// already hold b.mu.
func (b *Buffer) appendBadLocked(deviceCode string, line []byte) error {
	f, err := os.OpenFile(b.badPath(deviceCode), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(append(append([]byte{}, line...), '\n')); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}

	if b.archiver != nil {
		key := fmt.Sprintf("bad/%s/%d.jsonl", deviceCode, time.Now().UnixNano())
		data := append(append([]byte{}, line...), '\n')
		b.archiver.Enqueue(key, data)
	}
	return nil
}

// rewriteLocked drops every line at index <= safeIndex and atomically
// rewrites the remainder over the original file. If safeIndex never
// advanced, the file is left untouched (the next pass retries from
// scratch). If nothing remains, the file is removed. Caller must
// already hold b.mu.
func (b *Buffer) rewriteLocked(path string, lines [][]byte, safeIndex int) int {
	if safeIndex < 0 {
		// Nothing checkpointed; count non-empty lines as still pending.
		remaining := 0
		for _, l := range lines {
			if len(l) > 0 {
				remaining++
			}
		}
		return remaining
	}

	var kept [][]byte
	for i, l := range lines {
		if i <= safeIndex {
			continue
		}
		if len(l) == 0 {
			continue
		}
		kept = append(kept, l)
	}

	if len(kept) == 0 {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			b.log.Error().Err(err).Str("path", path).Msg("failed to remove drained buffer file")
		}
		return 0
	}

	tmp := path + ".tmp"
	var buf bytes.Buffer
	for _, l := range kept {
		buf.Write(l)
		buf.WriteByte('\n')
	}
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		b.log.Error().Err(err).Str("path", path).Msg("failed to write buffer temp file")
		return len(kept)
	}
	if err := os.Rename(tmp, path); err != nil {
		b.log.Error().Err(err).Str("path", path).Msg("failed to rename buffer temp file")
	}
	return len(kept)
}

func splitLines(data []byte) [][]byte {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var lines [][]byte
	for scanner.Scan() {
		line := make([]byte, len(scanner.Bytes()))
		copy(line, scanner.Bytes())
		lines = append(lines, line)
	}
	return lines
}
