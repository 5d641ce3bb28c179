// Package history keeps a tamper-evident journal of terminal pipeline
// runs: an append-only JSON-lines file where every record carries the
// hash of its predecessor.
package history

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"

	"pipeci/internal/core"
)

// Record is one journal entry for a terminal run.
type Record struct {
	Index       int            `json:"index"`
	RunID       string         `json:"runId"`
	Pipeline    string         `json:"pipeline"`
	EventKind   core.EventKind `json:"eventKind"`
	Ref         string         `json:"ref,omitempty"`
	Status      core.RunStatus `json:"status"`
	FailedSteps []string       `json:"failedSteps,omitempty"`
	Timestamp   string         `json:"timestamp"`
	PrevHash    string         `json:"prevHash"`
	Hash        string         `json:"hash"`
}

// canonicalData returns the JSON bytes the record hash is computed
// over. It excludes Hash itself.
func (r *Record) canonicalData() ([]byte, error) {
	view := struct {
		Index       int            `json:"index"`
		RunID       string         `json:"runId"`
		Pipeline    string         `json:"pipeline"`
		EventKind   core.EventKind `json:"eventKind"`
		Ref         string         `json:"ref,omitempty"`
		Status      core.RunStatus `json:"status"`
		FailedSteps []string       `json:"failedSteps,omitempty"`
		Timestamp   string         `json:"timestamp"`
		PrevHash    string         `json:"prevHash"`
	}{r.Index, r.RunID, r.Pipeline, r.EventKind, r.Ref, r.Status, r.FailedSteps, r.Timestamp, r.PrevHash}
	return json.Marshal(view)
}

// computeHash calculates SHA-256 over canonicalData.
func (r *Record) computeHash() (string, error) {
	data, err := r.canonicalData()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Journal is the append-only run history. File format: one JSON record
// per line.
type Journal struct {
	mu      sync.Mutex
	records []*Record
	path    string
}

// Open loads an existing journal file or starts an empty one.
func Open(path string) (*Journal, error) {
	j := &Journal{path: path}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return j, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read journal")
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			return nil, errors.Wrap(err, "decode journal entry")
		}
		j.records = append(j.records, &rec)
	}
	return j, nil
}

// Append records a terminal run, chains it to the previous record, and
// persists it.
func (j *Journal) Append(run *core.Run) (*Record, error) {
	if run.Status != core.RunSuccess && run.Status != core.RunFailure {
		return nil, errors.Errorf("run %s is not terminal (%s)", run.ID, run.Status)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	var failed []string
	for _, s := range run.Steps {
		if s.Status == core.StepFailed {
			failed = append(failed, s.Name)
		}
	}

	rec := &Record{
		Index:       len(j.records),
		RunID:       run.ID,
		Pipeline:    run.Pipeline,
		EventKind:   run.Event.Kind,
		Ref:         run.Event.Ref,
		Status:      run.Status,
		FailedSteps: failed,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}
	if len(j.records) > 0 {
		rec.PrevHash = j.records[len(j.records)-1].Hash
	}

	h, err := rec.computeHash()
	if err != nil {
		return nil, errors.Wrap(err, "compute record hash")
	}
	rec.Hash = h

	f, err := os.OpenFile(j.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "open journal file")
	}
	defer f.Close()
	if err := json.NewEncoder(f).Encode(rec); err != nil {
		return nil, errors.Wrap(err, "write journal file")
	}

	j.records = append(j.records, rec)
	return rec, nil
}

// Verify walks the chain and checks every record's hash and its link
// to the predecessor.
func (j *Journal) Verify() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	prev := ""
	for i, rec := range j.records {
		if rec.PrevHash != prev {
			return errors.Errorf("record %d: prevHash mismatch", i)
		}
		h, err := rec.computeHash()
		if err != nil {
			return errors.Wrapf(err, "record %d", i)
		}
		if h != rec.Hash {
			return errors.Errorf("record %d: hash mismatch", i)
		}
		prev = rec.Hash
	}
	return nil
}

// Records returns the journal entries in order.
func (j *Journal) Records() []*Record {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]*Record, len(j.records))
	copy(out, j.records)
	return out
}

// Len returns the number of journal entries.
func (j *Journal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.records)
}
