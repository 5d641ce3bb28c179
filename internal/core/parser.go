package core

import (
	"bytes"
	"os"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// yamlUnmarshalStrict rejects fields the Pipeline schema does not
// know about; a typoed key would otherwise silently disable a trigger.
func yamlUnmarshalStrict(data []byte, out any) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	return dec.Decode(out)
}

// ParsePipeline parses YAML content into a Pipeline and validates it.
func ParsePipeline(data []byte) (*Pipeline, error) {
	var p Pipeline
	if err := yamlUnmarshalStrict(data, &p); err != nil {
		return nil, errors.Wrap(err, "parse pipeline")
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// LoadPipeline reads a pipeline definition file from disk.
func LoadPipeline(path string) (*Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read pipeline %s", path)
	}
	return ParsePipeline(data)
}

// Validate checks the definition for problems that would only surface
// mid-run: unnamed or duplicate steps, steps with both (or neither) of
// run/uses, unknown actions, and malformed cron expressions.
func (p *Pipeline) Validate() error {
	if p.Name == "" {
		return errors.New("pipeline: name is required")
	}
	if len(p.Steps) == 0 {
		return errors.Errorf("pipeline %s: at least one step is required", p.Name)
	}
	for _, t := range p.On.Schedule {
		if _, err := cron.ParseStandard(t.Cron); err != nil {
			return errors.Wrapf(err, "pipeline %s: invalid cron %q", p.Name, t.Cron)
		}
	}
	seen := make(map[string]bool, len(p.Steps))
	for i, s := range p.Steps {
		if s.Name == "" {
			return errors.Errorf("pipeline %s: step %d has no name", p.Name, i)
		}
		if seen[s.Name] {
			return errors.Errorf("pipeline %s: duplicate step name %q", p.Name, s.Name)
		}
		seen[s.Name] = true
		if s.If != "" && s.If != "always" {
			return errors.Errorf("pipeline %s: step %q: unsupported condition %q", p.Name, s.Name, s.If)
		}
		switch {
		case s.Run == "" && s.Uses == "":
			return errors.Errorf("pipeline %s: step %q has neither run nor uses", p.Name, s.Name)
		case s.Run != "" && s.Uses != "":
			return errors.Errorf("pipeline %s: step %q has both run and uses", p.Name, s.Name)
		case s.Uses != "":
			if _, ok := builtinActions[s.Uses]; !ok {
				return errors.Errorf("pipeline %s: step %q uses unknown action %q", p.Name, s.Name, s.Uses)
			}
		}
	}
	return nil
}
