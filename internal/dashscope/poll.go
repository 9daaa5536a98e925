package dashscope

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// WaitOptions controls WaitForJob.
type WaitOptions struct {
	// Interval is the fixed delay between status queries.
	Interval time.Duration
	// Timeout bounds the whole wait.
	Timeout time.Duration
	// UnknownGrace tolerates UNKNOWN for this long after the wait starts,
	// covering the window in which a new task is not yet visible.
	// Zero makes UNKNOWN fatal immediately.
	UnknownGrace time.Duration
	// OnProgress, when set, sees every snapshot that does not end the wait.
	OnProgress func(snap *Snapshot, elapsed time.Duration)
}

// Default poll settings.
const (
	DefaultPollInterval = 15 * time.Second
	DefaultPollTimeout  = 10 * time.Minute
)

// WaitForJob polls a task at a fixed interval until it reaches a terminal
// state, the timeout passes, or ctx is cancelled.
//
// A SUCCEEDED snapshot is returned unchanged. FAILED, CANCELED, and
// UNKNOWN (after the grace window) end the wait with an *APIError wrapping
// ErrJobFailed, ErrJobCanceled, or ErrJobUnknown. Running out of time
// returns an *APIError wrapping ErrTimeout. Query errors are not retried.
// Cancelling ctx stops local waiting only; the remote task keeps running.
func (c *Client) WaitForJob(ctx context.Context, taskID string, opts WaitOptions) (*Snapshot, error) {
	return waitForJob(ctx, c, taskID, opts)
}

type jobQuerier interface {
	QueryJob(ctx context.Context, taskID string) (*Snapshot, error)
}

func waitForJob(ctx context.Context, q jobQuerier, taskID string, opts WaitOptions) (*Snapshot, error) {
	if opts.Interval <= 0 {
		opts.Interval = DefaultPollInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultPollTimeout
	}

	start := time.Now()
	deadline := start.Add(opts.Timeout)
	polls := 0

	// Queries share the wait deadline so a slow request cannot outlive it.
	qctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	timedOut := func() error {
		elapsed := time.Since(start)
		log.Error().Str("taskId", taskID).Dur("elapsed", elapsed).Int("polls", polls).Msg("Job wait timed out")
		return &APIError{Op: "wait", TaskID: taskID, Message: "no terminal status after " + elapsed.Round(time.Millisecond).String(), Err: ErrTimeout}
	}

	log.Info().Str("taskId", taskID).Dur("timeout", opts.Timeout).Dur("interval", opts.Interval).Msg("Waiting for job")

	for {
		if !time.Now().Before(deadline) {
			return nil, timedOut()
		}

		polls++
		snap, err := q.QueryJob(qctx, taskID)
		if err != nil {
			if ctx.Err() == nil && qctx.Err() != nil {
				return nil, timedOut()
			}
			return nil, err
		}
		elapsed := time.Since(start)

		switch snap.Status {
		case StatusSucceeded:
			log.Info().Str("taskId", taskID).Dur("elapsed", elapsed).Int("polls", polls).Msg("Job succeeded")
			return snap, nil
		case StatusFailed:
			code, msg := snap.Code, snap.Message
			if msg == "" {
				msg = "job failed"
			}
			return nil, &APIError{Op: "wait", TaskID: taskID, Code: code, Message: msg, Err: ErrJobFailed}
		case StatusCanceled:
			return nil, &APIError{Op: "wait", TaskID: taskID, Message: "job was canceled", Err: ErrJobCanceled}
		case StatusUnknown:
			if elapsed >= opts.UnknownGrace {
				return nil, &APIError{Op: "wait", TaskID: taskID, Message: "job not found or status unknown", Err: ErrJobUnknown}
			}
			log.Debug().Str("taskId", taskID).Dur("elapsed", elapsed).Msg("Job not visible yet, tolerating UNKNOWN")
		case StatusPending, StatusRunning:
			log.Info().Str("taskId", taskID).Str("status", string(snap.Status)).Dur("elapsed", elapsed.Round(time.Second)).Msg("Job in progress")
		default:
			log.Warn().Str("taskId", taskID).Str("status", string(snap.Status)).Msg("Unrecognized job status, continuing to poll")
		}

		if opts.OnProgress != nil {
			opts.OnProgress(snap, elapsed)
		}

		wait := opts.Interval
		if remaining := time.Until(deadline); remaining < wait {
			wait = remaining
		}
		if wait <= 0 {
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Warn().Str("taskId", taskID).Msg("Stopped waiting for job; the remote job keeps running")
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}
