package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/Paintersrp/hatch/internal/cliutil"
	"github.com/Paintersrp/hatch/internal/reactor"
	"github.com/Paintersrp/hatch/internal/spawn"
	"github.com/Paintersrp/hatch/internal/stream"
)

func newSpawnCmd() *cobra.Command {
	var (
		workdir  string
		envPairs []string
	)

	cmd := &cobra.Command{
		Use:   "spawn [flags] -- command [args...]",
		Short: "Spawn a child asynchronously and stream its output as log records",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := exec.LookPath(args[0])
			if err != nil {
				return fmt.Errorf("spawn: %w", err)
			}
			env, err := mergeEnv(envPairs)
			if err != nil {
				return err
			}

			loop := reactor.New()
			defer loop.Close()

			stdout := stream.NewPipe()
			stderr := stream.NewPipe()
			exitCh := make(chan [2]int, 1)

			p, err := spawn.Spawn(loop, spawn.Options{
				File:   file,
				Args:   args,
				Env:    env,
				Dir:    workdir,
				Stdout: stdout,
				Stderr: stderr,
				OnExit: func(_ *spawn.Process, code, sig int) {
					exitCh <- [2]int{code, sig}
				},
			})
			if err != nil {
				return fmt.Errorf("spawn: %w", err)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			var encMu sync.Mutex
			var wg sync.WaitGroup
			wg.Add(2)
			go streamRecords(&wg, enc, &encMu, cmd.ErrOrStderr(), p.PID(), cliutil.SourceStdout, stdout)
			go streamRecords(&wg, enc, &encMu, cmd.ErrOrStderr(), p.PID(), cliutil.SourceStderr, stderr)

			var res [2]int
			select {
			case res = <-exitCh:
			case <-cmd.Context().Done():
				// Pass the interrupt along and keep streaming until the
				// child is gone.
				_ = p.Signal(unix.SIGTERM)
				res = <-exitCh
			}
			wg.Wait()

			if sig := res[1]; sig > 0 {
				return exitCodeError{code: 128 + sig}
			}
			if code := res[0]; code > 0 {
				return exitCodeError{code: code}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&workdir, "workdir", "", "Working directory for the child")
	cmd.Flags().StringArrayVarP(&envPairs, "env", "e", nil, "Environment overrides (key=value, repeatable)")

	return cmd
}

func streamRecords(wg *sync.WaitGroup, enc *json.Encoder, mu *sync.Mutex, errW io.Writer, pid int, source string, s *stream.Stream) {
	defer wg.Done()
	defer s.Close()

	scanner := bufio.NewScanner(s)
	for scanner.Scan() {
		record := cliutil.NewRecord(pid, source, scanner.Text())
		mu.Lock()
		cliutil.EncodeRecord(enc, errW, record)
		mu.Unlock()
	}
}
