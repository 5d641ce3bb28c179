package core

import "fmt"

// ProvisioningError means the run's environment could not be created.
// It is fatal for the run and never retried here.
type ProvisioningError struct {
	Image string
	Err   error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("provision environment %q: %v", e.Image, e.Err)
}

func (e *ProvisioningError) Unwrap() error { return e.Err }

// StepError records a step whose command exited non-zero.
type StepError struct {
	Step     string
	ExitCode int
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %q exited with code %d", e.Step, e.ExitCode)
}
