package main

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fpang/animate-mix-cli/internal/cli"
	"github.com/fpang/animate-mix-cli/internal/filehandler"
	"github.com/fpang/animate-mix-cli/internal/pricing"
	"github.com/fpang/animate-mix-cli/internal/validate"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the resolved configuration (secrets masked)",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd.Context(), "config", false)
		if err != nil {
			return err
		}
		defer a.Close()

		cli.Banner("Current Configuration")
		a.cfg.Print(os.Stdout)

		if err := a.cfg.Validate(); err != nil {
			fmt.Println()
			return fmt.Errorf("configuration problems:\n%w", err)
		}
		fmt.Println("\nConfiguration is valid")
		return nil
	},
}

// info flags
var infoModeFlag string

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show pricing, limits, and runtime settings",
	RunE:  runInfo,
}

func init() {
	infoCmd.Flags().StringVar(&infoModeFlag, "mode", "", "Mode to show pricing for (default: DEFAULT_MODE)")
}

func runInfo(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := setup(ctx, "info", false)
	if err != nil {
		return err
	}
	defer a.Close()

	mode := a.cfg.DefaultMode
	if infoModeFlag != "" {
		if mode, err = pricing.ParseMode(infoModeFlag); err != nil {
			return err
		}
	}
	v := a.newValidator()

	cli.Banner("animate-cli " + version)
	fmt.Printf("Model:             %s\n", a.cfg.Model)
	fmt.Printf("Region:            %s\n", a.cfg.Region)
	fmt.Printf("Mode:              %s - %s\n", mode, mode.Description())
	fmt.Printf("Price per second:  %s\n", cli.FormatCost(mode.PricePerSecond()))
	fmt.Printf("Free quota:        %d seconds\n", pricing.FreeQuotaSeconds)
	fmt.Printf("Max wait time:     %s\n", a.cfg.MaxWait)
	fmt.Printf("Polling interval:  %s\n", a.cfg.PollInterval)
	fmt.Printf("Upload strategy:   %s\n", a.cfg.UploadStrategy())
	fmt.Printf("Face detection:    %t\n", v.FaceDetectionEnabled())
	fmt.Printf("Output directory:  %s\n", a.cfg.OutputDir)

	cli.Rule()
	fmt.Println("Pricing:")
	for _, m := range pricing.Modes() {
		fmt.Printf("  %-8s %s/s  (10s video: %s)\n", m, cli.FormatCost(m.PricePerSecond()), cli.FormatCost(pricing.Estimate(10, m)))
	}

	cli.Rule()
	fmt.Println("Input limits:")
	printLimits("Image", validate.ImageLimits)
	printLimits("Video", validate.VideoLimits)
	return nil
}

func printLimits(kind string, l validate.Limits) {
	fmt.Printf("  %s: %d-%d px per side, at most %s, aspect 1:3 to 3:1",
		kind, l.MinSide, l.MaxSide, filehandler.FormatSize(l.MaxBytes))
	if l.MaxDuration > 0 {
		fmt.Printf(", %.0f-%.0fs", l.MinDuration.Seconds(), l.MaxDuration.Seconds())
	}
	fmt.Printf(" (%s)\n", strings.Join(sortedKeys(l.Formats), ", "))
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
