// Package storage persists captured step output, one file per step
// under a per-run directory.
package storage

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// LogStore writes step logs beneath a base directory.
type LogStore struct {
	BaseDir string
}

// NewLogStore creates a log store rooted at baseDir.
func NewLogStore(baseDir string) *LogStore {
	return &LogStore{BaseDir: baseDir}
}

// Save writes the output of one step and returns the file path.
// It implements core.LogSink.
func (ls *LogStore) Save(runID, step, output string) (string, error) {
	dir := filepath.Join(ls.BaseDir, sanitize(runID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrap(err, "create log dir")
	}

	path := filepath.Join(dir, sanitize(step)+".log")
	if err := os.WriteFile(path, []byte(output), 0o644); err != nil {
		return "", errors.Wrap(err, "write log file")
	}
	return path, nil
}

// Read returns the stored output of one step.
func (ls *LogStore) Read(runID, step string) (string, error) {
	path := filepath.Join(ls.BaseDir, sanitize(runID), sanitize(step)+".log")
	data, err := os.ReadFile(path)
	if err != nil {
		return "", errors.Wrapf(err, "read log for step %q", step)
	}
	return string(data), nil
}

// sanitize keeps step and run names safe to use as file names.
func sanitize(name string) string {
	clean := make([]rune, 0, len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z',
			r >= '0' && r <= '9', r == '-', r == '_':
			clean = append(clean, r)
		default:
			clean = append(clean, '_')
		}
	}
	if len(clean) == 0 {
		return "step"
	}
	return string(clean)
}
