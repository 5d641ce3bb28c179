package tests

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pipeci/internal/core"
	"pipeci/internal/history"
	"pipeci/internal/storage"
)

// buildPipeline wires a host-shell pipeline whose steps leave marker
// files in dir, so the test can check which ones really executed.
func buildPipeline(dir, installScript string) *core.Pipeline {
	return &core.Pipeline{
		Name: "goalie-ci",
		On: core.Triggers{
			Push:     &core.PushTrigger{Branches: []string{"main"}},
			Schedule: []core.ScheduleTrigger{{Cron: "0 1 * * 0"}},
		},
		Environment: core.EnvironmentSpec{WorkDir: dir},
		Steps: []core.Step{
			{Name: "checkout", Run: "echo fetching sources; touch checkout.done"},
			{Name: "cleanup", If: "always", Run: "rm -rf ../build; touch cleanup.done"},
			{Name: "install", Run: installScript},
			{Name: "test", Run: `echo "coverage: $GITHUB_ACTIONS_TEST_RUN" > .coverage; touch test.done`,
				Env:       map[string]string{"GITHUB_ACTIONS_TEST_RUN": "1"},
				Artifacts: []string{".coverage"}},
			{Name: "lint", If: "always", Run: "touch lint.done"},
		},
	}
}

func TestPushTriggeredRunSucceeds(t *testing.T) {
	dir := t.TempDir()
	dataDir := t.TempDir()
	p := buildPipeline(dir, "touch install.done")

	ev := core.Event{Kind: core.EventPush, Ref: "main", Time: time.Now()}
	require.True(t, p.On.Match(ev))

	journal, err := history.Open(filepath.Join(dataDir, "history.jsonl"))
	require.NoError(t, err)
	logs := storage.NewLogStore(filepath.Join(dataDir, "logs"))

	engine := core.NewEngine(core.HostProvisioner{},
		core.WithLogger(zerolog.Nop()),
		core.WithLogSink(logs),
		core.WithStepTimeout(time.Minute),
	)
	run := engine.Execute(context.Background(), p, ev)

	assert.Equal(t, core.RunSuccess, run.Status)
	for _, marker := range []string{"checkout", "cleanup", "install", "test", "lint"} {
		assert.FileExists(t, filepath.Join(dir, marker+".done"), marker)
	}

	rep := core.BuildReport(run, p, dir)
	require.NoError(t, rep.Err)
	require.Len(t, rep.Artifacts, 1)
	assert.Equal(t, filepath.Join(dir, ".coverage"), rep.Artifacts[0].Path)
	assert.NotEmpty(t, rep.Artifacts[0].SHA256)

	// The step env var reached the test step.
	data, err := os.ReadFile(filepath.Join(dir, ".coverage"))
	require.NoError(t, err)
	assert.Equal(t, "coverage: 1\n", string(data))

	// Captured output is queryable from the log store.
	out, err := logs.Read(run.ID, "checkout")
	require.NoError(t, err)
	assert.Equal(t, "fetching sources\n", out)

	_, err = journal.Append(run)
	require.NoError(t, err)
	require.NoError(t, journal.Verify())
}

func TestFailedInstallSkipsTestButRunsAlwaysSteps(t *testing.T) {
	dir := t.TempDir()
	p := buildPipeline(dir, "echo 'pip failed' >&2; exit 1")

	engine := core.NewEngine(core.HostProvisioner{}, core.WithStepTimeout(time.Minute))
	run := engine.Execute(context.Background(), p, core.Event{Kind: core.EventPush, Ref: "main"})

	assert.Equal(t, core.RunFailure, run.Status)
	assert.Equal(t, core.StepFailed, run.StepByName("install").Status)
	assert.Equal(t, 1, run.StepByName("install").ExitCode)
	assert.Contains(t, run.StepByName("install").Output, "pip failed")

	assert.Equal(t, core.StepSkipped, run.StepByName("test").Status)
	assert.NoFileExists(t, filepath.Join(dir, "test.done"))

	// Always-run steps still executed after the failure.
	assert.Equal(t, core.StepSuccess, run.StepByName("cleanup").Status)
	assert.Equal(t, core.StepSuccess, run.StepByName("lint").Status)
	assert.FileExists(t, filepath.Join(dir, "cleanup.done"))
	assert.FileExists(t, filepath.Join(dir, "lint.done"))

	rep := core.BuildReport(run, p, dir)
	require.Error(t, rep.Err)
	assert.Empty(t, rep.Artifacts, "no artifacts from a skipped test step")
}

func TestScheduleEventRunsLikePush(t *testing.T) {
	dir := t.TempDir()
	p := buildPipeline(dir, "touch install.done")

	// 2026-01-04 01:00 UTC is a Sunday.
	ev := core.Event{Kind: core.EventSchedule, Time: time.Date(2026, 1, 4, 1, 0, 0, 0, time.UTC)}
	require.True(t, p.On.Match(ev))

	engine := core.NewEngine(core.HostProvisioner{}, core.WithStepTimeout(time.Minute))
	run := engine.Execute(context.Background(), p, ev)
	assert.Equal(t, core.RunSuccess, run.Status)
	assert.FileExists(t, filepath.Join(dir, "lint.done"))
}

func TestNonMatchingEventProvisionsNothing(t *testing.T) {
	dir := t.TempDir()
	p := buildPipeline(dir, "touch install.done")

	ev := core.Event{Kind: core.EventPush, Ref: "feature-x"}
	assert.False(t, p.On.Match(ev), "push to a non-configured branch starts no run")
	assert.NoFileExists(t, filepath.Join(dir, "checkout.done"))
}
