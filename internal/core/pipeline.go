package core

// Pipeline is one CI pipeline definition: the triggers that start it,
// the container environment its steps run in, and the ordered steps.
type Pipeline struct {
	Name        string          `yaml:"name"`
	On          Triggers        `yaml:"on"`
	Environment EnvironmentSpec `yaml:"environment"`
	Steps       []Step          `yaml:"steps"`
}

// Triggers declares which events start a run. A nil rule means the
// event kind never matches.
type Triggers struct {
	Push        *PushTrigger        `yaml:"push"`
	PullRequest *PullRequestTrigger `yaml:"pull_request"`
	Schedule    []ScheduleTrigger   `yaml:"schedule"`
}

// PushTrigger accepts push events on the listed branches. An empty
// list accepts pushes on any branch.
type PushTrigger struct {
	Branches []string `yaml:"branches"`
}

// PullRequestTrigger accepts every pull request event.
type PullRequestTrigger struct{}

// ScheduleTrigger accepts schedule events matching a cron expression
// (standard five-field syntax).
type ScheduleTrigger struct {
	Cron string `yaml:"cron"`
}

// EnvironmentSpec describes the container a run executes in. An empty
// Image means steps run directly on the host shell.
type EnvironmentSpec struct {
	Image   string            `yaml:"image"`
	User    string            `yaml:"user"`
	WorkDir string            `yaml:"workdir"`
	Env     map[string]string `yaml:"env"`
	Network string            `yaml:"network"`
	Mounts  []Mount           `yaml:"mounts"`
}

// Mount binds a host path into the run's container.
type Mount struct {
	Source   string `yaml:"source"`
	Target   string `yaml:"target"`
	ReadOnly bool   `yaml:"read_only"`
}

// Step is one named unit of work. Its payload is either a shell
// script (Run) or a built-in action reference (Uses + With); exactly
// one of the two must be set.
type Step struct {
	Name      string            `yaml:"name"`
	If        string            `yaml:"if"`
	Run       string            `yaml:"run"`
	Uses      string            `yaml:"uses"`
	With      map[string]string `yaml:"with"`
	Env       map[string]string `yaml:"env"`
	Artifacts []string          `yaml:"artifacts"`
}

// AlwaysRun reports whether the step executes even after a prior
// step has failed.
func (s Step) AlwaysRun() bool {
	return s.If == "always"
}
