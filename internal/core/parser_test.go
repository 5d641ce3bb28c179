package core

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadPipeline(t *testing.T) {
	p, err := LoadPipeline(filepath.Join("testdata", "goalie.yml"))
	require.NoError(t, err)

	assert.Equal(t, "goalie-ci", p.Name)
	require.NotNil(t, p.On.Push)
	assert.Equal(t, []string{"main"}, p.On.Push.Branches)
	require.NotNil(t, p.On.PullRequest)
	require.Len(t, p.On.Schedule, 1)
	assert.Equal(t, "0 1 * * 0", p.On.Schedule[0].Cron)

	assert.Equal(t, "jwallwork/firedrake-parmmg:latest", p.Environment.Image)
	assert.Equal(t, "root", p.Environment.User)
	require.Len(t, p.Environment.Mounts, 1)
	assert.Equal(t, "/src/goalie", p.Environment.Mounts[0].Target)

	require.Len(t, p.Steps, 6)
	assert.Equal(t, "checkout", p.Steps[0].Name)
	assert.Equal(t, "checkout", p.Steps[0].Uses)
	assert.True(t, p.Steps[1].AlwaysRun())
	assert.Equal(t, "setup-python", p.Steps[2].Uses)
	assert.Equal(t, "3.8", p.Steps[2].With["python-version"])
	assert.False(t, p.Steps[3].AlwaysRun())
	assert.Equal(t, "1", p.Steps[4].Env["GITHUB_ACTIONS_TEST_RUN"])
	assert.Equal(t, []string{".coverage"}, p.Steps[4].Artifacts)
	assert.True(t, p.Steps[5].AlwaysRun())
}

func TestLoadPipelineMissingFile(t *testing.T) {
	_, err := LoadPipeline(filepath.Join("testdata", "nope.yml"))
	assert.Error(t, err)
}

func TestParsePipelineRejectsUnknownKeys(t *testing.T) {
	_, err := ParsePipeline([]byte(`
name: p
steps:
  - name: a
    run: "true"
    retries: 3
`))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() *Pipeline {
		return &Pipeline{
			Name:  "p",
			Steps: []Step{{Name: "a", Run: "true"}},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Pipeline)
		errMsg string
	}{
		{"valid", func(p *Pipeline) {}, ""},
		{"no name", func(p *Pipeline) { p.Name = "" }, "name is required"},
		{"no steps", func(p *Pipeline) { p.Steps = nil }, "at least one step"},
		{"unnamed step", func(p *Pipeline) { p.Steps[0].Name = "" }, "has no name"},
		{"duplicate step", func(p *Pipeline) {
			p.Steps = append(p.Steps, Step{Name: "a", Run: "true"})
		}, "duplicate step name"},
		{"bad condition", func(p *Pipeline) { p.Steps[0].If = "never" }, "unsupported condition"},
		{"no payload", func(p *Pipeline) { p.Steps[0].Run = "" }, "neither run nor uses"},
		{"both payloads", func(p *Pipeline) { p.Steps[0].Uses = "checkout" }, "both run and uses"},
		{"unknown action", func(p *Pipeline) {
			p.Steps[0].Run = ""
			p.Steps[0].Uses = "teleport"
		}, "unknown action"},
		{"bad cron", func(p *Pipeline) {
			p.On.Schedule = []ScheduleTrigger{{Cron: "not a cron"}}
		}, "invalid cron"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := base()
			tc.mutate(p)
			err := p.Validate()
			if tc.errMsg == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.errMsg)
			}
		})
	}
}
