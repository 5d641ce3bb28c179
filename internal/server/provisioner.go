package server

import (
	"pipeci/internal/core"
	"pipeci/internal/env"
)

// defaultProvisioner picks the environment backend per pipeline: a
// docker container when an image is declared, the host shell
// otherwise.
func defaultProvisioner(spec core.EnvironmentSpec) (core.Provisioner, error) {
	if spec.Image == "" {
		return core.HostProvisioner{}, nil
	}
	return env.NewDockerProvisioner()
}
