package core

import (
	"bytes"
	"context"
	"os"
	"os/exec"

	"github.com/pkg/errors"
)

// ExecResult holds the combined output and exit code of one step
// command. A non-zero exit code is not an error at this layer.
type ExecResult struct {
	ExitCode int
	Output   string
}

// Executor runs one step script inside the run's environment. env is
// scoped to that single invocation.
type Executor interface {
	Exec(ctx context.Context, script string, env map[string]string) (*ExecResult, error)
}

// Environment is a provisioned execution context. It is owned
// exclusively by one run and torn down when the run ends.
type Environment interface {
	Executor
	Close(ctx context.Context) error
}

// Provisioner materializes an Environment from a spec.
type Provisioner interface {
	Provision(ctx context.Context, spec EnvironmentSpec) (Environment, error)
}

// HostEnvironment executes steps directly on the host shell. It backs
// pipelines that declare no container image; only WorkDir and Env of
// the environment declaration apply.
type HostEnvironment struct {
	WorkDir string
	Env     map[string]string
}

// HostProvisioner provisions HostEnvironments.
type HostProvisioner struct{}

func (HostProvisioner) Provision(_ context.Context, spec EnvironmentSpec) (Environment, error) {
	return &HostEnvironment{WorkDir: spec.WorkDir, Env: spec.Env}, nil
}

// Exec runs the script through `sh -c`, merging the environment's and
// the step's variables onto the process environment.
func (h *HostEnvironment) Exec(ctx context.Context, script string, env map[string]string) (*ExecResult, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", script)
	cmd.Dir = h.WorkDir
	cmd.Env = os.Environ()
	for k, v := range h.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	for k, v := range env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, errors.Wrap(err, "start command")
		}
		return &ExecResult{ExitCode: exitErr.ExitCode(), Output: out.String()}, nil
	}
	return &ExecResult{ExitCode: 0, Output: out.String()}, nil
}

func (h *HostEnvironment) Close(context.Context) error { return nil }
