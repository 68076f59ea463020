package cli

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/spf13/cobra"

	"github.com/Paintersrp/hatch/internal/config"
	"github.com/Paintersrp/hatch/internal/reactor"
	"github.com/Paintersrp/hatch/internal/spawn"
)

const defaultCaptureBytes = 64 * 1024

func newRunCmd() *cobra.Command {
	var (
		jobFile   string
		timeout   time.Duration
		stdinData string
		stdoutCap int
		stderrCap int
		combine   bool
		workdir   string
		envPairs  []string
	)

	cmd := &cobra.Command{
		Use:   "run [flags] -- command [args...]",
		Short: "Run a child synchronously and capture its output",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := &spawn.SyncRequest{Timeout: timeout}

			switch {
			case jobFile != "":
				if len(args) > 0 {
					return errors.New("run: use either --file or a command, not both")
				}
				doc, err := config.Load(jobFile)
				if err != nil {
					return err
				}
				if err := syncRequestFromJob(req, doc.Job); err != nil {
					return err
				}
				if cmd.Flags().Changed("timeout") {
					req.Timeout = timeout
				}
			case len(args) > 0:
				file, err := exec.LookPath(args[0])
				if err != nil {
					return fmt.Errorf("run: %w", err)
				}
				req.File = file
				req.Args = args
				req.Dir = workdir
				if req.Env, err = mergeEnv(envPairs); err != nil {
					return err
				}
				if stdinData != "" {
					req.Stdin = []byte(stdinData)
				}
				if stdoutCap > 0 {
					req.Stdout = make([]byte, stdoutCap)
				}
				if stderrCap > 0 && !combine {
					req.Stderr = make([]byte, stderrCap)
				}
				req.Combine = combine
			default:
				return errors.New("run: requires a command or --file")
			}

			loop := reactor.New()
			defer loop.Close()

			if err := spawn.Run(loop, req); err != nil {
				return fmt.Errorf("run: %w", err)
			}

			if req.StdoutRead > 0 {
				if _, err := cmd.OutOrStdout().Write(req.Stdout[:req.StdoutRead]); err != nil {
					return err
				}
			}
			if req.StderrRead > 0 {
				if _, err := cmd.ErrOrStderr().Write(req.Stderr[:req.StderrRead]); err != nil {
					return err
				}
			}

			if req.TimedOut {
				fmt.Fprintf(cmd.ErrOrStderr(), "hatch: child %d killed after %s timeout\n", req.PID, req.Timeout)
				return exitCodeError{code: 124}
			}
			if req.TermSignal > 0 {
				return exitCodeError{code: 128 + req.TermSignal}
			}
			if req.ExitCode > 0 {
				return exitCodeError{code: req.ExitCode}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&jobFile, "file", "f", "", "Path to a job manifest")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "Kill the child after this duration")
	cmd.Flags().StringVar(&stdinData, "stdin", "", "Data fed to the child's standard input")
	cmd.Flags().IntVar(&stdoutCap, "stdout-bytes", defaultCaptureBytes, "Stdout capture capacity in bytes (0 inherits)")
	cmd.Flags().IntVar(&stderrCap, "stderr-bytes", defaultCaptureBytes, "Stderr capture capacity in bytes (0 inherits)")
	cmd.Flags().BoolVar(&combine, "combine", false, "Merge the child's stderr into the stdout capture")
	cmd.Flags().StringVar(&workdir, "workdir", "", "Working directory for the child")
	cmd.Flags().StringArrayVarP(&envPairs, "env", "e", nil, "Environment overrides (key=value, repeatable)")

	return cmd
}

func syncRequestFromJob(req *spawn.SyncRequest, job *config.Job) error {
	file, err := exec.LookPath(job.Command[0])
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}
	req.File = file
	req.Args = job.Command
	req.Dir = job.Workdir
	req.Env = job.Environ(os.Environ())
	if job.Stdin != "" {
		req.Stdin = []byte(job.Stdin)
	}
	if job.StdoutCapacity > 0 {
		req.Stdout = make([]byte, job.StdoutCapacity)
	}
	if job.StderrCapacity > 0 {
		req.Stderr = make([]byte, job.StderrCapacity)
	}
	req.Combine = job.CombineOutput
	if job.Timeout.IsSet() {
		req.Timeout = job.Timeout.Duration
	}
	return nil
}
