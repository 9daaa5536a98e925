package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/fpang/animate-mix-cli/internal/cli"
	"github.com/fpang/animate-mix-cli/internal/pipeline"
	"github.com/fpang/animate-mix-cli/internal/pricing"
)

// process flags
var (
	processImageFlag      string
	processVideoFlag      string
	processOutputFlag     string
	processFilenameFlag   string
	processModeFlag       string
	processSkipValidation bool
	processCheckImage     bool
	processPickFlag       bool
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Swap the person in a video with the person in an image",
	Long: `Validate the inputs, upload them, submit a wan2.2-animate-mix job, wait for it
to finish, and download the result.

A job typically takes a few minutes. Press Ctrl+C to stop waiting; the job
keeps running on the server and is billed if it succeeds.

Examples:
  animate-cli process -i portrait.jpg -v dance.mp4
  animate-cli process -i portrait.jpg -v dance.mp4 --mode wan-pro -o results -f swap.mp4
  animate-cli process --pick`,
	RunE: runProcess,
}

func init() {
	processCmd.Flags().StringVarP(&processImageFlag, "image", "i", "", "Path to the portrait image")
	processCmd.Flags().StringVarP(&processVideoFlag, "video", "v", "", "Path to the reference video")
	processCmd.Flags().StringVarP(&processOutputFlag, "output", "o", "", "Output directory (default: OUTPUT_DIR)")
	processCmd.Flags().StringVarP(&processFilenameFlag, "filename", "f", "", "Output file name (default: result_YYYYMMDD_HHMMSS.mp4)")
	processCmd.Flags().StringVar(&processModeFlag, "mode", "", "Processing mode: wan-std or wan-pro (default: DEFAULT_MODE)")
	processCmd.Flags().BoolVar(&processSkipValidation, "skip-validation", false, "Skip local input validation (not recommended)")
	processCmd.Flags().BoolVar(&processCheckImage, "check-image", true, "Ask the service to check the portrait before processing")
	processCmd.Flags().BoolVar(&processPickFlag, "pick", false, "Choose missing inputs with a native file dialog")
}

func runProcess(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if err := resolveProcessInputs(); err != nil {
		return err
	}

	a, err := setup(ctx, "process", true)
	if err != nil {
		return err
	}
	defer a.Close()

	mode := a.cfg.DefaultMode
	if processModeFlag != "" {
		if mode, err = pricing.ParseMode(processModeFlag); err != nil {
			return err
		}
	}

	proc, err := a.newProcessor(ctx)
	if err != nil {
		return err
	}

	outDir := processOutputFlag
	if outDir == "" {
		outDir = a.cfg.OutputDir
	}

	cli.Banner("Video Face Swap")
	fmt.Printf("Image:  %s\n", processImageFlag)
	fmt.Printf("Video:  %s\n", processVideoFlag)
	fmt.Printf("Mode:   %s - %s\n", mode, mode.Description())
	fmt.Printf("Output: %s\n", outDir)
	cli.Rule()

	start := time.Now()
	out, err := proc.Process(ctx, pipeline.Request{
		ImagePath:      processImageFlag,
		VideoPath:      processVideoFlag,
		OutputDir:      outDir,
		OutputName:     processFilenameFlag,
		Mode:           mode,
		SkipValidation: processSkipValidation,
		CheckImage:     processCheckImage,
	}, func(stage pipeline.Stage, msg string) {
		fmt.Printf("  [%s] %s\n", cli.FormatDurationShort(time.Since(start)), msg)
	})
	if err != nil {
		if out != nil && out.JobID != "" {
			fmt.Fprintf(os.Stderr, "\nJob ID: %s\n", out.JobID)
		}
		return err
	}

	printOutcome(out)
	return nil
}

// resolveProcessInputs fills missing -i/-v from a picker or a prompt and
// turns both into absolute paths of existing files.
func resolveProcessInputs() error {
	var err error
	if processImageFlag == "" {
		if processImageFlag, err = askPath("Portrait image", cli.PickImage); err != nil {
			return err
		}
	}
	if processVideoFlag == "" {
		if processVideoFlag, err = askPath("Reference video", cli.PickVideo); err != nil {
			return err
		}
	}
	if processImageFlag == "" || processVideoFlag == "" {
		return fmt.Errorf("both --image and --video are required")
	}
	if processImageFlag, err = cli.ResolveFile(processImageFlag); err != nil {
		return fmt.Errorf("image: %w", err)
	}
	if processVideoFlag, err = cli.ResolveFile(processVideoFlag); err != nil {
		return fmt.Errorf("video: %w", err)
	}
	return nil
}

func askPath(label string, pick func() (string, error)) (string, error) {
	if processPickFlag {
		return pick()
	}
	return cli.PromptForPath(os.Stdin, label, ""), nil
}

func printOutcome(out *pipeline.Outcome) {
	cli.Banner("Processing Complete")
	fmt.Printf("Output file:     %s\n", out.OutputPath)
	fmt.Printf("Processing time: %s\n", cli.FormatDurationShort(out.Elapsed))
	if out.HasEstimate {
		fmt.Printf("Estimated cost:  %s\n", cli.FormatCost(out.EstimatedCost))
	}
	if out.VideoDuration > 0 {
		fmt.Printf("Billed duration: %.1fs\n", out.VideoDuration)
		fmt.Printf("Cost:            %s\n", cli.FormatCost(out.ActualCost))
	}
	fmt.Printf("Job ID:          %s\n", out.JobID)
}
