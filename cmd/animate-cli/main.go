package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fpang/animate-mix-cli/internal/cli"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// Global flags
var (
	apiKeyFlag  string
	envFileFlag string
	verboseFlag bool
)

// rootCmd is the main Cobra command for the animate-cli binary.
var rootCmd = &cobra.Command{
	Use:   "animate-cli",
	Short: "Face-swap a portrait into a reference video with DashScope wan2.2-animate-mix",
	Long: `animate-cli replaces the person in a short reference video with the person in a
portrait image, using the DashScope wan2.2-animate-mix model.

Inputs are validated locally, uploaded (to your own OSS bucket or to DashScope
temporary storage), submitted as an asynchronous job, polled until the job
finishes, and the result is downloaded.

Examples:
  animate-cli process -i portrait.jpg -v dance.mp4
  animate-cli process -i portrait.jpg -v dance.mp4 --mode wan-pro -o results -f out.mp4
  animate-cli validate -i portrait.jpg -v dance.mp4 --verbose
  animate-cli batch jobs.yaml --continue-on-error
  animate-cli config
  animate-cli info`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&apiKeyFlag, "api-key", "", "DashScope API key (overrides DASHSCOPE_API_KEY)")
	rootCmd.PersistentFlags().StringVar(&envFileFlag, "env-file", ".env", "Path to a .env file to load before reading the environment")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "V", false, "Enable debug logging and detailed output")

	rootCmd.AddCommand(processCmd, validateCmd, batchCmd, configCmd, infoCmd, cleanupCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	interrupted := ctx.Err() != nil
	stop()
	os.Exit(exitCode(err, interrupted))
}

// exitCode maps a command result to the process exit status:
// 0 on success, 130 when interrupted, 1 otherwise.
func exitCode(err error, interrupted bool) int {
	if interrupted || errors.Is(err, context.Canceled) || errors.Is(err, cli.ErrCanceled) {
		fmt.Fprintln(os.Stderr, "\nInterrupted. A job that was already submitted keeps running on the server.")
		return 130
	}
	if err == nil {
		return 0
	}
	fmt.Fprintf(os.Stderr, "\nError: %v\n", err)
	if hint := cli.Hint(err); hint != "" {
		fmt.Fprintf(os.Stderr, "Hint: %s\n", hint)
	}
	return 1
}
