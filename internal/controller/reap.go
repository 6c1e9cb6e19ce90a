/*
This file is part of the MongoDB operator.

Copyright (C) 2019-2021 EnterpriseDB Corporation.
*/

package controller

import (
	"context"
	"errors"
	"time"
)

// ReapOutcome is the terminal state of one reapStatefulWorkload invocation.
type ReapOutcome int

const (
	// ReapDone means the workload is gone; nothing further to do.
	ReapDone ReapOutcome = iota
	// ReapRetry means pods are still terminating; call again later.
	ReapRetry
	// ReapFatal means a non-retryable transport error occurred.
	ReapFatal
)

var errReapRetry = errors.New("reap: pods still terminating")

// reapFatalError wraps a fatal transport failure, stopping the wave loop
// immediately instead of burning through the remaining waves.
type reapFatalError struct{ err error }

func (e *reapFatalError) Error() string { return e.err.Error() }
func (e *reapFatalError) Unwrap() error { return e.err }

// waveDelay reproduces the exact 0,2,4,6,8 second backoff schedule across
// five waves (20s total), using the zero-indexed wave number directly.
func waveDelay(n uint) time.Duration {
	return time.Duration(2*n) * time.Second
}

// ReapStatefulWorkload scales the named stateful workload to zero, waits
// for its pods to terminate, then deletes it. It drives exactly 5 waves,
// sleeping 0,2,4,6,8 seconds before each in turn (20s total) — a library
// retry loop built around N-1 inter-attempt delays cannot reproduce a
// sleep before every attempt including the first, so the wave loop is
// hand-rolled. A caller that needs to guarantee eventual removal invokes
// this repeatedly from the periodic sweeper.
func (r *Reconciler) ReapStatefulWorkload(ctx context.Context, namespace, name string) ReapOutcome {
	outcome := ReapRetry

	for wave := uint(0); wave < 5; wave++ {
		sleepOrDone(ctx, waveDelay(wave))
		if ctx.Err() != nil {
			return outcome
		}

		err := r.reapWave(ctx, namespace, name, &outcome)
		if err == nil {
			return outcome
		}
		var fatal *reapFatalError
		if errors.As(err, &fatal) {
			return ReapFatal
		}
	}

	return outcome
}

// reapWave runs the three numbered steps of one wave, writing the
// resulting outcome into *outcome and returning a non-nil error whenever
// the wave loop should try again (ReapRetry) — Done and Fatal short-circuit
// by returning nil or a *reapFatalError respectively.
func (r *Reconciler) reapWave(ctx context.Context, namespace, name string, outcome *ReapOutcome) error {
	scaleResult := r.gateway.PatchStatefulWorkloadReplicas(ctx, namespace, name, 0)
	switch scaleResult.Kind {
	case ResultNotFound:
		*outcome = ReapDone
		return nil
	case ResultTransport:
		*outcome = ReapFatal
		return &reapFatalError{err: scaleResult.Err}
	}

	podsResult := r.gateway.ListPodsByCluster(ctx, namespace, name)
	if podsResult.Kind == ResultTransport {
		*outcome = ReapFatal
		return &reapFatalError{err: podsResult.Err}
	}
	if podsResult.Kind == ResultOk && len(podsResult.Value.Items) > 0 {
		*outcome = ReapRetry
		return errReapRetry
	}

	deleteResult := r.gateway.DeleteStatefulWorkload(ctx, namespace, name)
	if deleteResult.Kind == ResultTransport {
		*outcome = ReapFatal
		return &reapFatalError{err: deleteResult.Err}
	}

	*outcome = ReapDone
	return nil
}
