/*
This file is part of the MongoDB operator.

Copyright (C) 2019-2021 EnterpriseDB Corporation.
*/

package controller

import (
	"context"
	"fmt"
	"time"

	"github.com/thoas/go-funk"
	"go.uber.org/multierr"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/kubestack/mongodb-operator/internal/log"
	"github.com/kubestack/mongodb-operator/internal/metrics"
)

func deleteOptions() metav1.DeleteOptions {
	propagation := metav1.DeletePropagationBackground
	return metav1.DeleteOptions{PropagationPolicy: &propagation}
}

func isNotFoundErr(err error) bool {
	return apierrors.IsNotFound(err)
}

var sweeperLog = log.WithName("PeriodicCheck")

// Sweeper reconciles every declared cluster on each tick, then
// garbage-collects derived objects whose owning cluster is gone. The
// two passes are independent — a failure in one never prevents the
// other.
type Sweeper struct {
	reconciler *Reconciler
	gateway    *Gateway
	interval   time.Duration
}

// NewSweeper returns a Sweeper ticking at interval.
func NewSweeper(reconciler *Reconciler, gateway *Gateway, interval time.Duration) *Sweeper {
	return &Sweeper{reconciler: reconciler, gateway: gateway, interval: interval}
}

// Run blocks, ticking until ctx is cancelled or shuttingDown is set. It is
// meant to be launched on its own goroutine by the supervisor.
func (s *Sweeper) Run(ctx context.Context, shuttingDown func() bool) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if shuttingDown() {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Sweeper) tick(ctx context.Context) {
	start := time.Now()
	defer func() {
		metrics.SweepDurationSeconds.Observe(time.Since(start).Seconds())
	}()

	if err := s.ensurePass(ctx); err != nil {
		sweeperLog.Error("ensure pass encountered errors", "error", err)
	}
	if err := s.gcPass(ctx); err != nil {
		sweeperLog.Error("garbage collection pass encountered errors", "error", err)
	}
}

func (s *Sweeper) ensurePass(ctx context.Context) error {
	result := s.gateway.ListClusters(ctx)
	if result.Kind != ResultOk {
		if result.Kind == ResultTransport {
			return fmt.Errorf("listing clusters: %w", result.Err)
		}
		return nil
	}

	var errs error
	for i := range result.Value.Items {
		decl := &result.Value.Items[i]
		if err := s.reconciler.ReconcileCluster(ctx, decl); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("reconciling %s/%s: %w", decl.Namespace, decl.Name, err))
		}
	}
	return errs
}

// gcPass lists every derived object and deletes the ones whose owning
// cluster no longer exists. funk.Contains partitions the label-selected
// lists against the set of currently-declared cluster names fetched once
// at the top of the pass, avoiding a get-per-candidate for the common
// case where most objects are still owned.
func (s *Sweeper) gcPass(ctx context.Context) error {
	clustersResult := s.gateway.ListClusters(ctx)
	if clustersResult.Kind != ResultOk {
		if clustersResult.Kind == ResultTransport {
			return fmt.Errorf("listing clusters for gc pass: %w", clustersResult.Err)
		}
		return nil
	}

	declared := make([]string, 0, len(clustersResult.Value.Items))
	for _, decl := range clustersResult.Value.Items {
		declared = append(declared, decl.Namespace+"/"+decl.Name)
	}

	var errs error
	if err := s.gcServices(ctx, declared); err != nil {
		errs = multierr.Append(errs, err)
	}
	if err := s.gcStatefulWorkloads(ctx, declared); err != nil {
		errs = multierr.Append(errs, err)
	}
	if err := s.gcSecrets(ctx, declared); err != nil {
		errs = multierr.Append(errs, err)
	}
	return errs
}

func (s *Sweeper) gcServices(ctx context.Context, declared []string) error {
	result := s.gateway.ListAllServices(ctx)
	if result.Kind != ResultOk {
		if result.Kind == ResultTransport {
			return fmt.Errorf("listing services for gc pass: %w", result.Err)
		}
		return nil
	}

	var errs error
	for i := range result.Value.Items {
		svc := &result.Value.Items[i]
		key := svc.Namespace + "/" + svc.Name
		if funk.Contains(declared, key) {
			continue
		}
		del := s.gateway.clientset.CoreV1().Services(svc.Namespace)
		if err := del.Delete(ctx, svc.Name, deleteOptions()); err != nil && !isNotFoundErr(err) {
			errs = multierr.Append(errs, fmt.Errorf("deleting orphaned svc/%s in ns/%s: %w", svc.Name, svc.Namespace, err))
			continue
		}
		sweeperLog.Info(fmt.Sprintf("deleted svc/%s from ns/%s", svc.Name, svc.Namespace))
	}
	return errs
}

func (s *Sweeper) gcStatefulWorkloads(ctx context.Context, declared []string) error {
	result := s.gateway.ListAllStatefulWorkloads(ctx)
	if result.Kind != ResultOk {
		if result.Kind == ResultTransport {
			return fmt.Errorf("listing stateful workloads for gc pass: %w", result.Err)
		}
		return nil
	}

	var errs error
	for i := range result.Value.Items {
		sts := &result.Value.Items[i]
		key := sts.Namespace + "/" + sts.Name
		if funk.Contains(declared, key) {
			continue
		}
		outcome := s.reconciler.ReapStatefulWorkload(ctx, sts.Namespace, sts.Name)
		switch outcome {
		case ReapDone:
			sweeperLog.Info(fmt.Sprintf("deleted sts/%s from ns/%s", sts.Name, sts.Namespace))
		case ReapFatal:
			errs = multierr.Append(errs, fmt.Errorf("reaping orphaned sts/%s in ns/%s failed fatally", sts.Name, sts.Namespace))
		case ReapRetry:
			sweeperLog.Info("reap not yet complete, will retry on next sweep", "sts", sts.Name, "namespace", sts.Namespace)
		}
	}
	return errs
}

func (s *Sweeper) gcSecrets(ctx context.Context, declared []string) error {
	result := s.gateway.ListAllSecrets(ctx)
	if result.Kind != ResultOk {
		if result.Kind == ResultTransport {
			return fmt.Errorf("listing secrets for gc pass: %w", result.Err)
		}
		return nil
	}

	var errs error
	for i := range result.Value.Items {
		secret := &result.Value.Items[i]
		owner, ok := secret.Labels[labelCluster]
		if !ok {
			continue
		}
		key := secret.Namespace + "/" + owner
		if funk.Contains(declared, key) {
			continue
		}
		del := s.gateway.clientset.CoreV1().Secrets(secret.Namespace)
		if err := del.Delete(ctx, secret.Name, deleteOptions()); err != nil && !isNotFoundErr(err) {
			errs = multierr.Append(errs, fmt.Errorf("deleting orphaned secret/%s in ns/%s: %w", secret.Name, secret.Namespace, err))
			continue
		}
		sweeperLog.Info(fmt.Sprintf("deleted secret/%s from ns/%s", secret.Name, secret.Namespace))
	}
	return errs
}
