// Package upload puts local input files somewhere the DashScope service
// can fetch them, and returns a URL for each.
//
// Two strategies exist and exactly one is chosen at construction time:
//   - BucketUploader writes to a pre-provisioned S3-compatible bucket
//     (Alibaba OSS) with the caller's own credentials.
//   - BrokerUploader asks DashScope for a short-lived upload policy and
//     posts the file to DashScope's temporary storage.
//
// Neither strategy retries internally; wrap Upload with a retry.Policy.
package upload

import (
	"context"
	"fmt"
	"path/filepath"
)

// Strategy names an upload strategy.
type Strategy string

const (
	StrategyBucket Strategy = "bucket"
	StrategyBroker Strategy = "broker"
)

// Result is where an uploaded file can be fetched from. URL is opaque to
// callers: an https URL for the bucket strategy, an oss:// reference for
// the broker strategy.
type Result struct {
	URL      string
	Key      string
	Strategy Strategy
}

// Uploader uploads local files.
type Uploader interface {
	Upload(ctx context.Context, localPath string) (*Result, error)
	// CleanupOlderThan removes uploads older than the given number of
	// days and reports how many were removed. It is best effort and is
	// never called automatically.
	CleanupOlderThan(ctx context.Context, days int) (int, error)
	Strategy() Strategy
}

// Error reports an upload failure and the step it happened in.
type Error struct {
	Strategy Strategy
	Step     string // credentials, open, policy, put, post, presign, list, delete
	Path     string
	Err      error
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("upload %s (%s, %s): %v", filepath.Base(e.Path), e.Strategy, e.Step, e.Err)
	}
	return fmt.Sprintf("upload (%s, %s): %v", e.Strategy, e.Step, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
