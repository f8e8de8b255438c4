package recorder

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

const (
	MaxRotatedFiles = 3
	TraceDir        = "data/traces"
)

// Event types written by the editor harness.
const (
	EventUnitCreated    = "unit_created"
	EventMessagePosted  = "message_posted"
	EventPropUpdate     = "prop_update"
	EventFieldSet       = "field_set"
	EventModeResolved   = "mode_resolved"
	EventBeacon         = "beacon_sent"
	EventExitOpened     = "exit_opened"
	EventUnitClosed     = "unit_closed"
	EventMessageDropped = "message_dropped"
)

// Event is a single line of a trace file.
type Event struct {
	Timestamp time.Time   `json:"ts"`
	Type      string      `json:"type"`
	UnitID    string      `json:"unit_id,omitempty"`
	Data      interface{} `json:"data"`
}

// Recorder writes JSONL traces of harness activity, keeping only the newest
// MaxRotatedFiles.
type Recorder struct {
	mu       sync.Mutex
	file     *os.File
	encoder  *json.Encoder
	basePath string
	count    int
}

// NewRecorder creates a recorder rooted at basePath, creating it if needed.
func NewRecorder(basePath string) (*Recorder, error) {
	if basePath == "" {
		basePath = TraceDir
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, err
	}
	return &Recorder{
		basePath: basePath,
	}, nil
}

// Start opens a fresh trace file for runID, rotating old ones first.
func (r *Recorder) Start(runID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file != nil {
		_ = r.file.Close()
		r.file = nil
		r.encoder = nil
	}

	if err := r.rotate(); err != nil {
		return fmt.Errorf("rotate traces: %w", err)
	}

	filename := fmt.Sprintf("trace_%s_%d.jsonl", runID, time.Now().UnixMilli())
	f, err := os.Create(filepath.Join(r.basePath, filename))
	if err != nil {
		return err
	}

	r.file = f
	r.encoder = json.NewEncoder(f)
	r.count = 0
	return nil
}

// Log appends an event. It is a no-op before Start or after Close.
func (r *Recorder) Log(eventType, unitID string, data interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.encoder == nil {
		return
	}

	evt := Event{
		Timestamp: time.Now(),
		Type:      eventType,
		UnitID:    unitID,
		Data:      data,
	}
	if err := r.encoder.Encode(evt); err == nil {
		r.count++
	}
}

// Path returns the active trace file, or "" when not recording.
func (r *Recorder) Path() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return ""
	}
	return r.file.Name()
}

// Count returns the number of events written to the active trace.
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Traces lists trace files in basePath, newest first.
func (r *Recorder) Traces() ([]string, error) {
	traces, err := listTraces(r.basePath)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(traces))
	for i, t := range traces {
		out[i] = filepath.Join(r.basePath, t.name)
	}
	return out, nil
}

type traceFile struct {
	name string
	mod  time.Time
}

func listTraces(dir string) ([]traceFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var traces []traceFile
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".jsonl" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		traces = append(traces, traceFile{e.Name(), info.ModTime()})
	}

	sort.Slice(traces, func(i, j int) bool {
		if traces[i].mod.Equal(traces[j].mod) {
			return traces[i].name > traces[j].name
		}
		return traces[i].mod.After(traces[j].mod)
	})
	return traces, nil
}

// rotate keeps MaxRotatedFiles-1 traces to make room for a new one.
func (r *Recorder) rotate() error {
	traces, err := listTraces(r.basePath)
	if err != nil {
		return err
	}
	if len(traces) < MaxRotatedFiles {
		return nil
	}
	for _, t := range traces[MaxRotatedFiles-1:] {
		_ = os.Remove(filepath.Join(r.basePath, t.name))
	}
	return nil
}

// Close finishes the current recording.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file != nil {
		err := r.file.Close()
		r.file = nil
		r.encoder = nil
		return err
	}
	return nil
}

// ReadTrace decodes every event in a trace file.
func ReadTrace(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var evt Event
		if err := json.Unmarshal(scanner.Bytes(), &evt); err != nil {
			return events, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		events = append(events, evt)
	}
	return events, scanner.Err()
}
