package env

import (
	"context"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/pkg/errors"

	"pipeci/internal/core"
)

const removeTimeout = 30 * time.Second

// containerEnv is one run's provisioned container. Steps execute
// inside it via docker exec, so package installs and written files
// persist between steps.
type containerEnv struct {
	client  *client.Client
	id      string
	user    string
	workDir string
}

// Exec runs a step script through `sh -c` inside the container and
// captures combined output. A non-zero exit code is reported in the
// result, not as an error.
func (c *containerEnv) Exec(ctx context.Context, script string, env map[string]string) (*core.ExecResult, error) {
	execResp, err := c.client.ContainerExecCreate(ctx, c.id, container.ExecOptions{
		User:         c.user,
		WorkingDir:   c.workDir,
		Env:          envSlice(env),
		Cmd:          []string{"sh", "-c", script},
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create exec")
	}

	attach, err := c.client.ContainerExecAttach(ctx, execResp.ID, container.ExecAttachOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "attach exec")
	}
	defer attach.Close()

	// Stdout and stderr are multiplexed on one stream; demux them into
	// a single combined buffer in arrival order.
	var out combinedBuffer
	if _, err := stdcopy.StdCopy(&out, &out, attach.Reader); err != nil {
		return nil, errors.Wrap(err, "read exec output")
	}

	inspect, err := c.client.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return nil, errors.Wrap(err, "inspect exec")
	}

	return &core.ExecResult{ExitCode: inspect.ExitCode, Output: out.String()}, nil
}

// Close force-removes the run's container.
func (c *containerEnv) Close(ctx context.Context) error {
	err := c.client.ContainerRemove(ctx, c.id, container.RemoveOptions{Force: true})
	return errors.Wrap(err, "remove container")
}

// combinedBuffer interleaves stdout and stderr writes.
type combinedBuffer struct {
	buf []byte
}

func (b *combinedBuffer) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *combinedBuffer) String() string { return string(b.buf) }
