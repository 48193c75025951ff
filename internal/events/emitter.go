package events

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"
)

var buffer = NewRingBuffer(256)

// Sink persists emitted events. The Postgres client implements it. chainID
// is the chain_id field of the event, empty for events outside a run.
type Sink interface {
	Append(ts time.Time, level, event, msg string, fields map[string]interface{}, chainID string) error
}

var (
	sink          Sink
	sinkMu        sync.RWMutex
	sinkErrLogged bool

	console   io.Writer
	consoleMu sync.Mutex
)

// SetSink sets the sink used for event persistence. Passing nil disables it.
func SetSink(s Sink) {
	sinkMu.Lock()
	sink = s
	sinkErrLogged = false
	sinkMu.Unlock()
}

// SetConsole makes Emit write every event as a JSON line to w. Passing nil
// disables console output.
func SetConsole(w io.Writer) {
	consoleMu.Lock()
	console = w
	consoleMu.Unlock()
}

type Event struct {
	Timestamp string                 `json:"ts"`
	Level     string                 `json:"level"`
	Name      string                 `json:"event"`
	Message   string                 `json:"msg,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

func Emit(level, name, msg string, fields map[string]interface{}) ([]byte, error) {
	if err := Validate(name); err != nil {
		return nil, err
	}

	ts := time.Now().UTC()
	e := Event{
		Timestamp: ts.Format(time.RFC3339Nano),
		Level:     level,
		Name:      name,
		Message:   msg,
		Fields:    fields,
	}

	buffer.Add(e)
	broadcast(e)

	sinkMu.RLock()
	s := sink
	errLogged := sinkErrLogged
	sinkMu.RUnlock()

	if s != nil {
		chainID, _ := fields["chain_id"].(string)
		if err := s.Append(ts, level, name, msg, fields, chainID); err != nil && !errLogged {
			// Added straight to the buffer: going through Emit would recurse
			// while the sink keeps failing.
			sinkMu.Lock()
			first := !sinkErrLogged
			sinkErrLogged = true
			sinkMu.Unlock()
			if first {
				buffer.Add(Event{
					Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
					Level:     "error",
					Name:      "system.error",
					Message:   "event sink append failed",
					Fields: map[string]interface{}{
						"error": err.Error(),
					},
				})
			}
		}
	}

	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}

	consoleMu.Lock()
	if console != nil {
		console.Write(append(b, '\n'))
	}
	consoleMu.Unlock()

	return b, nil
}

func Snapshot() []Event {
	return buffer.Snapshot()
}

// TotalCount returns the number of events emitted since start or the last Clear.
func TotalCount() int64 {
	return buffer.Total()
}

// Clear resets the event buffer. Used for testing.
func Clear() {
	buffer.Clear()
}
