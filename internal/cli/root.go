// Package cli wires the spawn engines into the hatch command surface.
package cli

import (
	stdcontext "context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// NewRootCmd builds the hatch command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "hatch",
		Short: "Child-process spawn engines for event-driven runtimes",
	}

	root.AddCommand(newRunCmd())
	root.AddCommand(newSpawnCmd())

	root.SilenceUsage = true
	root.SilenceErrors = true

	return root
}

// Execute runs the CLI entrypoint.
func Execute() {
	ctx, stop := signal.NotifyContext(stdcontext.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := NewRootCmd()
	root.SetContext(ctx)

	if err := root.ExecuteContext(ctx); err != nil {
		var ec exitCodeError
		if errors.As(err, &ec) {
			os.Exit(ec.code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// exitCodeError carries a child's termination through the command tree so
// Execute can mirror it as the hatch process's own exit status.
type exitCodeError struct {
	code int
}

func (e exitCodeError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

// mergeEnv layers "key=value" overrides over the parent environment, or
// returns nil when there is nothing to override (inherit unchanged).
func mergeEnv(overrides []string) ([]string, error) {
	if len(overrides) == 0 {
		return nil, nil
	}
	for _, kv := range overrides {
		if !validEnvPair(kv) {
			return nil, fmt.Errorf("invalid env override %q, want key=value", kv)
		}
	}
	return append(os.Environ(), overrides...), nil
}

func validEnvPair(kv string) bool {
	for i := 0; i < len(kv); i++ {
		if kv[i] == '=' {
			return i > 0
		}
	}
	return false
}
