package logsvc

import (
	"sync"

	"github.com/trezcool/shule/core"
)

// Entry is a message logged by a Recorder.
type Entry struct {
	Level string
	Msg   string
	Args  []interface{}
}

// Recorder is an in-memory core.Logger used in tests.
type Recorder struct {
	mu      sync.Mutex
	entries []Entry
}

var _ core.Logger = (*Recorder)(nil)

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) record(level, msg string, args []interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, Entry{Level: level, Msg: msg, Args: args})
}

// Entries returns the recorded entries of the given level, or all of them if level is "".
func (r *Recorder) Entries(level string) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		if level == "" || e.Level == level {
			entries = append(entries, e)
		}
	}
	return entries
}

func (r *Recorder) Debug(msg string, args ...interface{}) { r.record("debug", msg, args) }
func (r *Recorder) Info(msg string, args ...interface{})  { r.record("info", msg, args) }
func (r *Recorder) Warn(msg string, args ...interface{})  { r.record("warning", msg, args) }
func (r *Recorder) Error(msg string, args ...interface{}) { r.record("error", msg, args) }
func (r *Recorder) Fatal(msg string, args ...interface{}) { r.record("critical", msg, args) }
