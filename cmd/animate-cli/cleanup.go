package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fpang/animate-mix-cli/internal/upload"
)

// cleanup flags
var (
	cleanupDaysFlag   int
	cleanupPrefixFlag string
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete uploads older than N days from the OSS bucket",
	Long: `Remove previously uploaded inputs under OSS_PREFIX that are older than --days.

Only the direct-bucket strategy (USE_OSS=true) keeps files around; DashScope
temporary storage expires on its own, so this command does nothing there.

Examples:
  animate-cli cleanup --days 7
  animate-cli cleanup --days 1 --prefix scratch/`,
	RunE: runCleanup,
}

func init() {
	cleanupCmd.Flags().IntVar(&cleanupDaysFlag, "days", 7, "Delete uploads older than this many days")
	cleanupCmd.Flags().StringVar(&cleanupPrefixFlag, "prefix", "", "Key prefix to clean (default: OSS_PREFIX)")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	if cleanupDaysFlag < 0 {
		return errors.New("--days must not be negative")
	}

	ctx := cmd.Context()
	a, err := setup(ctx, "cleanup", false)
	if err != nil {
		return err
	}
	defer a.Close()

	if cleanupPrefixFlag != "" {
		a.cfg.Bucket.Prefix = cleanupPrefixFlag
	}

	var uploader upload.Uploader
	if a.cfg.UseBucket {
		if uploader, err = upload.NewBucketUploader(ctx, a.cfg.Bucket); err != nil {
			return err
		}
	} else {
		uploader = upload.NewBrokerUploader(nil, nil)
	}

	deleted, err := uploader.CleanupOlderThan(ctx, cleanupDaysFlag)
	if err != nil {
		return err
	}
	if uploader.Strategy() == upload.StrategyBroker {
		fmt.Println("Uploads go to DashScope temporary storage (USE_OSS=false); nothing to clean up")
		return nil
	}
	fmt.Printf("Deleted %d object(s) older than %d day(s) from %s/%s\n", deleted, cleanupDaysFlag, a.cfg.Bucket.Name, a.cfg.Bucket.Prefix)
	return nil
}
