package core

import (
	"os"
	"path/filepath"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"pipeci/pkg/utils"
)

// Artifact is a file a step declared for collection, with its content
// digest at collection time.
type Artifact struct {
	Step   string `json:"step"`
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
}

// Report is the terminal view of a run: overall outcome, collected
// artifacts, and every recorded failure.
type Report struct {
	Run       *Run       `json:"run"`
	Artifacts []Artifact `json:"artifacts,omitempty"`
	Err       error      `json:"-"`
}

// BuildReport aggregates a terminal run. Artifact paths are resolved
// relative to baseDir (the run's working directory on the host); a
// declared artifact that does not exist is recorded as a failure
// without changing the run outcome, which was fixed when the steps
// finished.
func BuildReport(run *Run, p *Pipeline, baseDir string) *Report {
	rep := &Report{Run: run}

	var errs *multierror.Error
	if run.Error != "" {
		errs = multierror.Append(errs, errors.New(run.Error))
	}
	for _, s := range run.Steps {
		if s.Status == StepFailed {
			errs = multierror.Append(errs, &StepError{Step: s.Name, ExitCode: s.ExitCode})
		}
	}

	for _, step := range p.Steps {
		res := run.StepByName(step.Name)
		if res == nil || res.Status != StepSuccess {
			continue
		}
		for _, rel := range step.Artifacts {
			path := rel
			if !filepath.IsAbs(path) {
				path = filepath.Join(baseDir, rel)
			}
			if _, err := os.Stat(path); err != nil {
				errs = multierror.Append(errs, errors.Wrapf(err, "artifact %s of step %q", rel, step.Name))
				continue
			}
			sum, err := utils.HashFile(path)
			if err != nil {
				errs = multierror.Append(errs, errors.Wrapf(err, "hash artifact %s", rel))
				continue
			}
			rep.Artifacts = append(rep.Artifacts, Artifact{Step: step.Name, Path: path, SHA256: sum})
		}
	}

	rep.Err = errs.ErrorOrNil()
	return rep
}
