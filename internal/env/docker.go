// Package env provisions isolated container environments for pipeline
// runs through the Docker Engine API.
package env

import (
	"context"
	"io"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/pkg/errors"

	"pipeci/internal/core"
)

// DockerProvisioner creates one container per run from the pipeline's
// environment spec. It implements core.Provisioner.
type DockerProvisioner struct {
	client *client.Client
}

// NewDockerProvisioner creates a provisioner backed by a Docker client
// configured from the environment (DOCKER_HOST, etc.).
func NewDockerProvisioner() (*DockerProvisioner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, errors.Wrap(err, "create docker client")
	}
	return &DockerProvisioner{client: cli}, nil
}

// Provision pulls the image if absent, then creates and starts a
// container that idles until steps are executed in it. The container
// is constant for the run's duration; Close removes it.
func (p *DockerProvisioner) Provision(ctx context.Context, spec core.EnvironmentSpec) (core.Environment, error) {
	if spec.Image == "" {
		return nil, errors.New("environment: image is required")
	}

	if err := p.ensureImage(ctx, spec.Image); err != nil {
		return nil, errors.Wrapf(err, "pull image %s", spec.Image)
	}

	containerConfig := &container.Config{
		Image:      spec.Image,
		User:       spec.User,
		WorkingDir: spec.WorkDir,
		Env:        envSlice(spec.Env),
		Cmd:        []string{"sleep", "infinity"},
	}

	resp, err := p.client.ContainerCreate(ctx, containerConfig, hostConfig(spec), nil, nil, "")
	if err != nil {
		return nil, errors.Wrap(err, "create container")
	}

	if err := p.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		removeCtx, cancel := context.WithTimeout(context.Background(), removeTimeout)
		defer cancel()
		_ = p.client.ContainerRemove(removeCtx, resp.ID, container.RemoveOptions{Force: true})
		return nil, errors.Wrap(err, "start container")
	}

	return &containerEnv{client: p.client, id: resp.ID, user: spec.User, workDir: spec.WorkDir}, nil
}

// ensureImage pulls the image only when it is not available locally.
func (p *DockerProvisioner) ensureImage(ctx context.Context, ref string) error {
	_, _, err := p.client.ImageInspectWithRaw(ctx, ref)
	if err == nil {
		return nil
	}

	reader, err := p.client.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return err
	}
	defer reader.Close()

	// Drain the pull progress stream to completion.
	_, err = io.Copy(io.Discard, reader)
	return err
}

func hostConfig(spec core.EnvironmentSpec) *container.HostConfig {
	hc := &container.HostConfig{}
	if spec.Network != "" {
		hc.NetworkMode = container.NetworkMode(spec.Network)
	}
	if len(spec.Mounts) > 0 {
		mounts := make([]mount.Mount, len(spec.Mounts))
		for i, m := range spec.Mounts {
			mounts[i] = mount.Mount{
				Type:     mount.TypeBind,
				Source:   m.Source,
				Target:   m.Target,
				ReadOnly: m.ReadOnly,
			}
		}
		hc.Mounts = mounts
	}
	return hc
}

func envSlice(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}
