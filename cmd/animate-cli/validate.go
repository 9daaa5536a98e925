package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fpang/animate-mix-cli/internal/cli"
	"github.com/fpang/animate-mix-cli/internal/filehandler"
	"github.com/fpang/animate-mix-cli/internal/pricing"
	"github.com/fpang/animate-mix-cli/internal/validate"
)

// validate flags
var (
	validateImageFlag string
	validateVideoFlag string
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check an image and/or video against the service limits",
	Long: `Run the local input checks without uploading anything or calling the API.

Images: JPG, PNG, BMP or WEBP, 200-4096 px per side, at most 5 MB.
Videos: MP4, AVI or MOV, 200-2048 px per side, 2-30 seconds, at most 200 MB.
Both: aspect ratio between 1:3 and 3:1, exactly one face when face detection is on.

Examples:
  animate-cli validate -i portrait.jpg
  animate-cli validate -i portrait.jpg -v dance.mp4 --verbose`,
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().StringVarP(&validateImageFlag, "image", "i", "", "Path to the portrait image")
	validateCmd.Flags().StringVarP(&validateVideoFlag, "video", "v", "", "Path to the reference video")
}

func runValidate(cmd *cobra.Command, args []string) error {
	if validateImageFlag == "" && validateVideoFlag == "" {
		return errors.New("pass --image, --video, or both")
	}

	ctx := cmd.Context()
	a, err := setup(ctx, "validate", false)
	if err != nil {
		return err
	}
	defer a.Close()

	v := a.newValidator()
	cli.Banner("Validating Files")

	var failed []error
	if validateImageFlag != "" {
		fmt.Printf("\nImage: %s\n", validateImageFlag)
		res := v.ValidateImage(ctx, validateImageFlag)
		printResult(ctx, v, res)
		if err := res.Err(); err != nil {
			failed = append(failed, err)
		}
	}
	if validateVideoFlag != "" {
		fmt.Printf("\nVideo: %s\n", validateVideoFlag)
		res := v.ValidateVideo(ctx, validateVideoFlag)
		printResult(ctx, v, res)
		if err := res.Err(); err != nil {
			failed = append(failed, err)
		}
	}

	fmt.Println()
	if len(failed) > 0 {
		return errors.Join(failed...)
	}
	fmt.Println("All validations passed")
	return nil
}

func printResult(ctx context.Context, v *validate.Validator, res *validate.Result) {
	if !res.OK {
		fmt.Printf("  FAILED (%s): %s\n", res.Reason, res.Detail)
		if hint := cli.Hint(res.Err()); hint != "" {
			fmt.Printf("  Hint: %s\n", hint)
		}
		return
	}

	switch {
	case res.Degraded:
		fmt.Println("  OK (format and size only; install ffprobe for full checks)")
	case !res.FaceChecked && res.Kind == "image":
		fmt.Println("  OK (face check skipped)")
	default:
		fmt.Println("  OK")
	}

	if !verboseFlag || res.Media == nil {
		return
	}
	mf, err := v.Inspect(ctx, res.Media.Path)
	if err != nil {
		fmt.Printf("  (details unavailable: %v)\n", err)
		return
	}
	printMediaDetails(mf)
	if res.Kind == "video" && mf.Duration > 0 {
		for _, m := range pricing.Modes() {
			fmt.Printf("    Estimated cost (%s): %s\n", m, cli.FormatCost(pricing.Estimate(mf.Duration.Seconds(), m)))
		}
	}
}

func printMediaDetails(mf *filehandler.MediaFile) {
	fmt.Printf("    Format:       %s (%s)\n", mf.Format, mf.MIMEType)
	fmt.Printf("    File size:    %s\n", filehandler.FormatSize(mf.Size))
	if mf.Width > 0 {
		fmt.Printf("    Resolution:   %dx%d\n", mf.Width, mf.Height)
		fmt.Printf("    Aspect ratio: %.2f\n", mf.AspectRatio())
	}
	if mf.Duration > 0 {
		fmt.Printf("    Duration:     %.2fs\n", mf.Duration.Seconds())
	}
	if mf.FrameRate > 0 {
		fmt.Printf("    Frame rate:   %.2f fps\n", mf.FrameRate)
	}
	if mf.Codec != "" {
		fmt.Printf("    Codec:        %s\n", mf.Codec)
	}
	if mf.EXIF != nil {
		if mf.EXIF.CameraMake != "" || mf.EXIF.CameraModel != "" {
			fmt.Printf("    Camera:       %s %s\n", mf.EXIF.CameraMake, mf.EXIF.CameraModel)
		}
		if mf.EXIF.HasDate {
			fmt.Printf("    Taken:        %s\n", mf.EXIF.DateTaken.Format("2006-01-02 15:04:05"))
		}
	}
}
