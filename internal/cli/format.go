package cli

import (
	"fmt"
	"time"
)

// FormatDurationShort formats a duration in a short format (M:SS or H:MM:SS).
func FormatDurationShort(d time.Duration) string {
	totalSeconds := int(d.Seconds())
	hours := totalSeconds / 3600
	minutes := (totalSeconds % 3600) / 60
	seconds := totalSeconds % 60

	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, seconds)
	}
	return fmt.Sprintf("%d:%02d", minutes, seconds)
}

// FormatCost renders an amount in RMB with two decimals.
func FormatCost(yuan float64) string {
	return fmt.Sprintf("%.2f RMB", yuan)
}

// Banner prints a boxed section title to stdout.
func Banner(title string) {
	fmt.Println()
	fmt.Println("============================================")
	fmt.Println(title)
	fmt.Println("============================================")
}

// Rule prints a section separator to stdout.
func Rule() {
	fmt.Println("--------------------------------------------")
}
