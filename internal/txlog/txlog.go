// Package txlog implements the durable, append-only transaction log that
// records every reversible action an install or repair run performs.
//
// The log follows a write-ahead discipline: an action's intent is appended
// and flushed as Pending before the corresponding OS effect is attempted,
// then finalized with a Committed, Failed or RolledBack status entry. Records
// are never mutated in place; a status change is a new appended entry
// referencing the action id. The log is the durable source of truth for
// uninstall and survives crashes mid-run.
package txlog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/thoreinstein/capstan/internal/errors"
)

// Status is the lifecycle state of one logged action.
type Status string

const (
	// StatusPending means intent was recorded but the effect has not been
	// confirmed. After a crash, a Pending record marks where the run died.
	StatusPending Status = "pending"

	// StatusCommitted means the effect completed successfully.
	StatusCommitted Status = "committed"

	// StatusFailed means the forward operation failed.
	StatusFailed Status = "failed"

	// StatusRolledBack means the committed effect was reversed.
	StatusRolledBack Status = "rolled_back"
)

// Params is the string-keyed parameter bag persisted for an action's forward
// and reverse operations. String values keep the on-disk schema stable across
// releases.
type Params map[string]string

// Record is the reconstructed view of one action: its parameters and final
// status after applying all entries in order.
type Record struct {
	Seq      int64
	ActionID string
	Kind     string
	Forward  Params
	Reverse  Params
	Status   Status
	Reason   string
	Time     time.Time
}

// entry is one physical JSON line. A pending entry carries the action
// definition; subsequent entries reference it by action id.
type entry struct {
	Seq      int64     `json:"seq"`
	ActionID string    `json:"action_id"`
	Status   Status    `json:"status"`
	Kind     string    `json:"kind,omitempty"`
	Forward  Params    `json:"forward,omitempty"`
	Reverse  Params    `json:"reverse,omitempty"`
	Reason   string    `json:"reason,omitempty"`
	Time     time.Time `json:"time"`
}

// Log is the single-writer transaction log for one install root.
// It is safe for concurrent use within the owning process; cross-process
// exclusion is the install root lock's responsibility.
type Log struct {
	mu      sync.Mutex
	file    *os.File
	path    string
	nextSeq int64
	nextID  int64
	order   []string
	byID    map[string]*Record
}

// Open loads the log at path, validating its append-only structure, and
// opens it for appending. A missing file starts an empty log. Returns
// ErrLogCorrupt when the existing contents are structurally invalid.
func Open(path string) (*Log, error) {
	l := &Log{
		path: path,
		byID: make(map[string]*Record),
	}

	valid, err := l.load()
	if err != nil {
		return nil, err
	}

	// A crash mid-append leaves a torn tail past the last whole line. It must
	// be cut before opening for append, or the next entry would concatenate
	// onto the torn bytes and corrupt the log for every later Open.
	if info, err := os.Stat(path); err == nil && info.Size() > valid {
		if err := os.Truncate(path, valid); err != nil {
			return nil, errors.Wrap(err, "truncating torn log tail")
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, errors.Wrap(err, "opening transaction log")
	}
	l.file = f
	return l, nil
}

// load replays the existing log file into memory and returns the byte offset
// just past the last fully parsed line, so Open can drop a torn tail.
func (l *Log) load() (int64, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, errors.Wrap(err, "reading transaction log")
	}

	var valid int64
	lineNo := 0
	for pos := 0; pos < len(data); {
		end, next := len(data), len(data)
		if nl := bytes.IndexByte(data[pos:], '\n'); nl >= 0 {
			end = pos + nl
			next = end + 1
		}
		line := data[pos:end]
		lineNo++

		if len(line) == 0 {
			valid = int64(next)
			pos = next
			continue
		}
		var e entry
		if err := json.Unmarshal(line, &e); err != nil {
			// A torn final line is the expected shape of a crash mid-append;
			// anything earlier means the file was tampered with.
			if next >= len(data) {
				break
			}
			return 0, errors.Wrapf(errors.ErrLogCorrupt, "line %d: undecodable entry", lineNo)
		}
		if err := l.apply(e, lineNo); err != nil {
			return 0, err
		}
		valid = int64(next)
		pos = next
	}
	return valid, nil
}

// apply folds one entry into the in-memory view, enforcing the append-only
// structural invariants.
func (l *Log) apply(e entry, lineNo int) error {
	if e.Seq != l.nextSeq {
		return errors.Wrapf(errors.ErrLogCorrupt, "line %d: sequence %d, expected %d", lineNo, e.Seq, l.nextSeq)
	}
	l.nextSeq++

	if e.Status == StatusPending {
		if _, exists := l.byID[e.ActionID]; exists {
			return errors.Wrapf(errors.ErrLogCorrupt, "line %d: duplicate action %s", lineNo, e.ActionID)
		}
		l.byID[e.ActionID] = &Record{
			Seq:      e.Seq,
			ActionID: e.ActionID,
			Kind:     e.Kind,
			Forward:  e.Forward,
			Reverse:  e.Reverse,
			Status:   StatusPending,
			Time:     e.Time,
		}
		l.order = append(l.order, e.ActionID)
		if n := parseIDNum(e.ActionID); n >= l.nextID {
			l.nextID = n + 1
		}
		return nil
	}

	rec, exists := l.byID[e.ActionID]
	if !exists {
		return errors.Wrapf(errors.ErrLogCorrupt, "line %d: status for unknown action %s", lineNo, e.ActionID)
	}
	rec.Status = e.Status
	rec.Reason = e.Reason
	return nil
}

func parseIDNum(id string) int64 {
	var n int64
	if _, err := fmt.Sscanf(id, "a-%d", &n); err != nil {
		return -1
	}
	return n
}

// Begin appends a Pending record for the given action and flushes it to
// durable storage. It must be called before the OS effect is attempted.
// Returns the action id used to finalize the record.
func (l *Log) Begin(kind string, forward, reverse Params) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	id := fmt.Sprintf("a-%d", l.nextID)
	l.nextID++

	e := entry{
		Seq:      l.nextSeq,
		ActionID: id,
		Status:   StatusPending,
		Kind:     kind,
		Forward:  forward,
		Reverse:  reverse,
		Time:     time.Now().UTC(),
	}
	if err := l.append(e); err != nil {
		return "", err
	}

	l.byID[id] = &Record{
		Seq:      e.Seq,
		ActionID: id,
		Kind:     kind,
		Forward:  forward,
		Reverse:  reverse,
		Status:   StatusPending,
		Time:     e.Time,
	}
	l.order = append(l.order, id)
	return id, nil
}

// Commit appends a Committed status for the action.
func (l *Log) Commit(id string) error {
	return l.finalize(id, StatusCommitted, "")
}

// Fail appends a Failed status with the given reason.
func (l *Log) Fail(id, reason string) error {
	return l.finalize(id, StatusFailed, reason)
}

// MarkRolledBack appends a RolledBack status for a previously committed or
// pending action whose effect has been reversed.
func (l *Log) MarkRolledBack(id string) error {
	return l.finalize(id, StatusRolledBack, "")
}

func (l *Log) finalize(id string, status Status, reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, exists := l.byID[id]
	if !exists {
		return errors.Newf("unknown action id %s", id)
	}

	e := entry{
		Seq:      l.nextSeq,
		ActionID: id,
		Status:   status,
		Reason:   reason,
		Time:     time.Now().UTC(),
	}
	if err := l.append(e); err != nil {
		return err
	}
	rec.Status = status
	rec.Reason = reason
	return nil
}

// append writes one line and syncs. Callers hold l.mu.
func (l *Log) append(e entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return errors.Wrap(err, "encoding log entry")
	}
	data = append(data, '\n')
	if _, err := l.file.Write(data); err != nil {
		return errors.Wrap(err, "appending log entry")
	}
	if err := l.file.Sync(); err != nil {
		return errors.Wrap(err, "syncing transaction log")
	}
	l.nextSeq++
	return nil
}

// Records returns all actions in execution order with their final status.
func (l *Log) Records() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Record, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, *l.byID[id])
	}
	return out
}

// Committed returns the actions whose final status is Committed, in
// execution order.
func (l *Log) Committed() []Record {
	var out []Record
	for _, rec := range l.Records() {
		if rec.Status == StatusCommitted {
			out = append(out, rec)
		}
	}
	return out
}

// IterReverse returns the Committed actions in reverse chronological order,
// the exact order uninstall must undo them.
func (l *Log) IterReverse() []Record {
	committed := l.Committed()
	for i, j := 0, len(committed)-1; i < j; i, j = i+1, j-1 {
		committed[i], committed[j] = committed[j], committed[i]
	}
	return committed
}

// Path returns the log file's location.
func (l *Log) Path() string {
	return l.path
}

// Close releases the underlying file handle.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return errors.Wrap(err, "closing transaction log")
}
