package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dshills/recode/internal/app"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the simulated client",
	Long: `Run the client tick, the module graph and the configured scripts.

Lines read from stdin are received as chat. Lines starting with / are
console commands; type /help to list them. The config file, when given,
is watched and module changes apply without a restart.`,
	RunE: runRun,
}

var runQuiet bool

func init() {
	runCmd.Flags().BoolVarP(&runQuiet, "quiet", "q", false, "do not read console commands from stdin")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := app.New(cfg, app.Options{
		ConfigPath: configPath,
		LogOutput:  cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}

	// Handle signals for graceful shutdown
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if !runQuiet {
		c := &console{app: a, out: cmd.OutOrStdout()}
		go func() {
			if err := readConsole(ctx, c, cmd.InOrStdin()); errors.Is(err, errQuit) {
				cancel()
			}
		}()
	}

	return a.Run(ctx)
}

// readConsole feeds lines from in to c until in ends, ctx is done or the
// user quits. Command errors are printed and do not stop the console.
func readConsole(ctx context.Context, c *console, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := c.exec(ctx, scanner.Text())
		switch {
		case errors.Is(err, errQuit):
			return err
		case err != nil:
			fmt.Fprintf(c.out, "error: %v\n", err)
		}
	}
	return scanner.Err()
}
