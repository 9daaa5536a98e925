package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/fpang/animate-mix-cli/internal/cli"
	"github.com/fpang/animate-mix-cli/internal/pipeline"
)

// batch flags
var (
	batchContinueFlag    bool
	batchConcurrencyFlag int
	batchOutputFlag      string
)

var batchCmd = &cobra.Command{
	Use:   "batch <manifest.yaml>",
	Short: "Process every job listed in a YAML manifest",
	Long: `Run several face-swap jobs, one after another by default.

Manifest format:
  output_dir: results        # optional
  mode: wan-std              # optional
  continue_on_error: true    # optional, overridden by --continue-on-error
  jobs:
    - image: faces/alice.jpg
      video: clips/dance.mp4
      output: alice_dance.mp4   # optional
      mode: wan-pro             # optional

Relative paths are resolved against the manifest's directory.

Examples:
  animate-cli batch jobs.yaml
  animate-cli batch jobs.yaml --continue-on-error
  animate-cli batch jobs.yaml --concurrency 2   # capped at MAX_CONCURRENT_TASKS`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	batchCmd.Flags().BoolVar(&batchContinueFlag, "continue-on-error", false, "Keep going after a failed job")
	batchCmd.Flags().IntVar(&batchConcurrencyFlag, "concurrency", 1, "Jobs to run at once (capped at MAX_CONCURRENT_TASKS)")
	batchCmd.Flags().StringVarP(&batchOutputFlag, "output", "o", "", "Output directory for jobs that do not name one")
}

func runBatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	manifest, err := pipeline.LoadManifest(args[0])
	if err != nil {
		return err
	}

	a, err := setup(ctx, "batch", true)
	if err != nil {
		return err
	}
	defer a.Close()

	proc, err := a.newProcessor(ctx)
	if err != nil {
		return err
	}

	continueOnError := batchContinueFlag
	if !cmd.Flags().Changed("continue-on-error") && manifest.ContinueOnError != nil {
		continueOnError = *manifest.ContinueOnError
	}
	if batchOutputFlag != "" {
		for i := range manifest.Jobs {
			if manifest.Jobs[i].OutputDir == "" {
				manifest.Jobs[i].OutputDir = batchOutputFlag
			}
		}
	}

	cli.Banner("Batch Face Swap")
	fmt.Printf("Manifest: %s\n", args[0])
	fmt.Printf("Jobs:     %d\n", len(manifest.Jobs))
	cli.Rule()

	summary, batchErr := proc.ProcessBatch(ctx, manifest.Jobs, pipeline.BatchOptions{
		ContinueOnError: continueOnError,
		Concurrency:     batchConcurrencyFlag,
		Observer: func(i int, stage pipeline.Stage, msg string) {
			fmt.Printf("  [%d/%d] %s\n", i+1, len(manifest.Jobs), msg)
		},
	})

	printSummary(summary, manifest.Jobs)
	if batchErr != nil {
		return batchErr
	}
	if summary.Failed > 0 {
		return fmt.Errorf("%d of %d jobs failed", summary.Failed, summary.Total)
	}
	return nil
}

func printSummary(s *pipeline.BatchSummary, jobs []pipeline.Request) {
	cli.Banner("Batch Summary")
	fmt.Printf("Total:      %d\n", s.Total)
	fmt.Printf("Successful: %d\n", s.Successful)
	fmt.Printf("Failed:     %d\n", s.Failed)
	cli.Rule()

	var cost float64
	for i, out := range s.Items {
		name := fmt.Sprintf("%d. %s + %s", i+1, filepath.Base(jobs[i].ImagePath), filepath.Base(jobs[i].VideoPath))
		switch {
		case out == nil:
			fmt.Printf("  SKIP %s\n", name)
		case out.Success:
			cost += out.ActualCost
			fmt.Printf("  OK   %s -> %s (%s)\n", name, out.OutputPath, cli.FormatCost(out.ActualCost))
		default:
			fmt.Printf("  FAIL %s: %v\n", name, out.Err)
		}
	}
	if cost > 0 {
		cli.Rule()
		fmt.Printf("Total cost: %s\n", cli.FormatCost(cost))
	}
}
