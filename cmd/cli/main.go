package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"pipeci/internal/core"
	"pipeci/internal/env"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "pipeci",
		Short:         "pipeci runs CI pipelines defined in YAML",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd(), newValidateCmd(), newVersionCmd())
	return root
}

func newRunCmd() *cobra.Command {
	var (
		file    string
		event   string
		ref     string
		force   bool
		local   bool
		timeout time.Duration
		verbose bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute a pipeline for a simulated event",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := core.LoadPipeline(file)
			if err != nil {
				return err
			}

			ev := core.Event{Kind: core.EventKind(event), Ref: ref, Time: time.Now()}
			if !force && !p.On.Match(ev) {
				fmt.Printf("event %s %s does not trigger pipeline %q, nothing to do\n", event, ref, p.Name)
				return nil
			}

			logger := zerolog.Nop()
			if verbose {
				logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
			}

			var prov core.Provisioner = core.HostProvisioner{}
			if p.Environment.Image != "" && !local {
				docker, derr := env.NewDockerProvisioner()
				if derr != nil {
					return derr
				}
				prov = docker
			}

			engine := core.NewEngine(prov,
				core.WithLogger(logger),
				core.WithStepTimeout(timeout),
			)
			run := engine.Execute(cmd.Context(), p, ev)
			report := core.BuildReport(run, p, p.Environment.WorkDir)

			printReport(report)
			if run.Status != core.RunSuccess {
				os.Exit(1)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "pipeci.yml", "pipeline definition file")
	cmd.Flags().StringVarP(&event, "event", "e", "push", "event kind (push, pull_request, schedule)")
	cmd.Flags().StringVarP(&ref, "ref", "r", "main", "branch ref carried by the event")
	cmd.Flags().BoolVar(&force, "force", false, "run even if the event does not match the triggers")
	cmd.Flags().BoolVar(&local, "local", false, "run on the host shell instead of the declared container")
	cmd.Flags().DurationVar(&timeout, "step-timeout", 30*time.Minute, "per-step timeout")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log engine activity")
	return cmd
}

func newValidateCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Parse and validate a pipeline definition",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := core.LoadPipeline(file)
			if err != nil {
				return err
			}
			fmt.Printf("pipeline %q is valid (%d steps)\n", p.Name, len(p.Steps))
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "pipeci.yml", "pipeline definition file")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the pipeci version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("pipeci", version)
		},
	}
}

func printReport(rep *core.Report) {
	run := rep.Run
	fmt.Printf("run %s  pipeline=%s  status=%s\n", run.ID, run.Pipeline, run.Status)
	for _, s := range run.Steps {
		switch s.Status {
		case core.StepSkipped:
			fmt.Printf("  - %-20s %s\n", s.Name, s.Status)
		default:
			fmt.Printf("  - %-20s %s (exit %d, %s)\n", s.Name, s.Status, s.ExitCode,
				s.FinishedAt.Sub(s.StartedAt).Round(time.Millisecond))
		}
		if s.Status == core.StepFailed && s.Output != "" {
			fmt.Printf("    %s\n", tail(s.Output, 20))
		}
	}
	for _, a := range rep.Artifacts {
		fmt.Printf("  artifact %s (sha256 %.16s…) from step %q\n", a.Path, a.SHA256, a.Step)
	}
	if run.Error != "" {
		fmt.Printf("  error: %s\n", run.Error)
	}
}

// tail returns the last n lines of s.
func tail(s string, n int) string {
	lines := 0
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '\n' {
			lines++
			if lines > n {
				return s[i+1:]
			}
		}
	}
	return s
}
