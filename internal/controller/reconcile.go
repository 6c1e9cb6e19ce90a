/*
This file is part of the MongoDB operator.

Copyright (C) 2019-2021 EnterpriseDB Corporation.
*/

package controller

import (
	"context"
	"fmt"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"go.uber.org/multierr"
	"k8s.io/client-go/util/retry"

	mongodbv1 "github.com/kubestack/mongodb-operator/api/v1"
	"github.com/kubestack/mongodb-operator/internal/credentials"
	"github.com/kubestack/mongodb-operator/internal/log"
	"github.com/kubestack/mongodb-operator/internal/metrics"
)

var reconcileLog = log.WithName("reconcile")

// Reconciler is the per-process reconciliation core. It holds the
// gateway and the resource-version cache, and is invoked by both the
// event listener and the periodic sweeper — the two worker goroutines
// share only this struct's cache.
type Reconciler struct {
	gateway *Gateway
	cache   *VersionCache
}

// NewReconciler builds a Reconciler wrapping gateway with a fresh cache.
func NewReconciler(gateway *Gateway) *Reconciler {
	return &Reconciler{gateway: gateway, cache: NewVersionCache()}
}

// ReconcileCluster ensures every derived object for decl exists and
// matches the builder's output, then drives the bootstrap probe. Every
// mutating call is create-or-patch; Conflict on create is treated as
// existence. Per-step failures are collected rather than aborting the
// whole pass, so one derived object's transient failure does not block
// the others. The periodic sweeper calls this on every tick; the event
// listener calls EnsureDerivedObjects directly on ADDED and leaves the
// probe to the next sweep, since a just-created replica set cannot
// possibly be ready to bootstrap yet.
func (r *Reconciler) ReconcileCluster(ctx context.Context, decl *mongodbv1.MongoDBCluster) error {
	errs := r.EnsureDerivedObjects(ctx, decl)

	r.Probe(ctx, decl)

	if errs != nil {
		metrics.ReconcilesTotal.WithLabelValues("error").Inc()
	} else {
		metrics.ReconcilesTotal.WithLabelValues("success").Inc()
	}

	return errs
}

// EnsureDerivedObjects creates or patches the four secrets, the headless
// service and the stateful workload for decl, without touching the
// bootstrap state machine. This is the subset of ReconcileCluster the
// ADDED event handler needs: bringing a newly declared cluster's objects
// into existence, nothing more.
func (r *Reconciler) EnsureDerivedObjects(ctx context.Context, decl *mongodbv1.MongoDBCluster) error {
	var errs error

	if err := r.reconcileSecrets(ctx, decl); err != nil {
		errs = multierr.Append(errs, err)
	}
	if err := r.reconcileService(ctx, decl); err != nil {
		errs = multierr.Append(errs, err)
	}
	if err := r.reconcileStatefulWorkload(ctx, decl); err != nil {
		errs = multierr.Append(errs, err)
	}

	return errs
}

// reconcileSecrets creates the four labelled secrets when absent. Client
// certificate creation depends on the CA secret, so the CA secret is
// ensured first, before the others; the first failing step stops the rest.
func (r *Reconciler) reconcileSecrets(ctx context.Context, decl *mongodbv1.MongoDBCluster) error {
	caPair, err := r.ensureCASecret(ctx, decl)
	if err != nil {
		return err
	}
	if err := r.ensureClientCertificateSecret(ctx, decl, caPair); err != nil {
		return err
	}
	if err := r.ensureCredentialSecret(ctx, decl, "-admin-credentials", "root"); err != nil {
		return err
	}
	if err := r.ensureCredentialSecret(ctx, decl, "-monitoring-credentials", "monitoring"); err != nil {
		return err
	}
	return nil
}

func (r *Reconciler) ensureCASecret(ctx context.Context, decl *mongodbv1.MongoDBCluster) (credentials.Pair, error) {
	name := decl.Name + "-ca"
	existing := r.gateway.GetSecret(ctx, decl.Namespace, name)
	if existing.Kind == ResultOk {
		return credentials.Pair{
			CertPEM: existing.Value.Data["ca.pem"],
			KeyPEM:  existing.Value.Data["ca-key.pem"],
		}, nil
	}
	if existing.Kind == ResultTransport {
		return credentials.Pair{}, fmt.Errorf("getting CA secret %s/%s: %w", decl.Namespace, name, existing.Err)
	}

	pair, err := credentials.GenerateCA(decl.Name, decl.Namespace)
	if err != nil {
		return credentials.Pair{}, fmt.Errorf("generating CA for %s: %w", decl.Name, err)
	}

	secret := BuildSecret(decl, "-ca", map[string]string{
		"ca.pem":     string(pair.CertPEM),
		"ca-key.pem": string(pair.KeyPEM),
	})
	result := r.gateway.CreateSecret(ctx, decl.Namespace, secret)
	if result.Kind == ResultTransport {
		return credentials.Pair{}, fmt.Errorf("creating CA secret %s/%s: %w", decl.Namespace, name, result.Err)
	}
	return pair, nil
}

func (r *Reconciler) ensureClientCertificateSecret(
	ctx context.Context, decl *mongodbv1.MongoDBCluster, caPair credentials.Pair,
) error {
	name := decl.Name + "-client-certificate"
	existing := r.gateway.GetSecret(ctx, decl.Namespace, name)
	if existing.Kind == ResultOk {
		return nil
	}
	if existing.Kind == ResultTransport {
		return fmt.Errorf("getting client certificate secret %s/%s: %w", decl.Namespace, name, existing.Err)
	}

	clientPair, err := credentials.GenerateClient(caPair.CertPEM, caPair.KeyPEM, decl.Name)
	if err != nil {
		return fmt.Errorf("generating client certificate for %s: %w", decl.Name, err)
	}

	mongodPEM := append(append([]byte{}, clientPair.CertPEM...), clientPair.KeyPEM...)
	secret := BuildSecret(decl, "-client-certificate", map[string]string{
		"mongod.pem": string(mongodPEM),
		"ca.pem":     string(caPair.CertPEM),
	})
	result := r.gateway.CreateSecret(ctx, decl.Namespace, secret)
	if result.Kind == ResultTransport {
		return fmt.Errorf("creating client certificate secret %s/%s: %w", decl.Namespace, name, result.Err)
	}
	return nil
}

func (r *Reconciler) ensureCredentialSecret(
	ctx context.Context, decl *mongodbv1.MongoDBCluster, suffix, username string,
) error {
	name := decl.Name + suffix
	existing := r.gateway.GetSecret(ctx, decl.Namespace, name)
	if existing.Kind == ResultOk {
		return nil
	}
	if existing.Kind == ResultTransport {
		return fmt.Errorf("getting credential secret %s/%s: %w", decl.Namespace, name, existing.Err)
	}

	pwd, err := credentials.RandomPassword()
	if err != nil {
		return fmt.Errorf("generating password for %s: %w", name, err)
	}

	secret := BuildSecret(decl, suffix, map[string]string{
		"username": username,
		"password": pwd,
	})
	result := r.gateway.CreateSecret(ctx, decl.Namespace, secret)
	if result.Kind == ResultTransport {
		return fmt.Errorf("creating credential secret %s/%s: %w", decl.Namespace, name, result.Err)
	}
	return nil
}

func (r *Reconciler) reconcileService(ctx context.Context, decl *mongodbv1.MongoDBCluster) error {
	desired := BuildService(decl)
	existing := r.gateway.GetService(ctx, decl.Namespace, decl.Name)

	switch existing.Kind {
	case ResultNotFound:
		created := r.gateway.CreateService(ctx, decl.Namespace, desired)
		if created.Kind == ResultOk {
			r.cache.Record(created.Value)
			reconcileLog.Info(fmt.Sprintf("created svc/%s in ns/%s", decl.Name, decl.Namespace))
		} else if created.Kind == ResultTransport {
			return fmt.Errorf("creating svc/%s in ns/%s: %w", decl.Name, decl.Namespace, created.Err)
		}
		return nil
	case ResultTransport:
		return fmt.Errorf("getting svc/%s in ns/%s: %w", decl.Name, decl.Namespace, existing.Err)
	}

	if r.cache.IsCurrent(existing.Value) {
		return nil
	}

	current := existing.Value
	err := retry.OnError(retry.DefaultRetry, apierrors.IsConflict, func() error {
		patched := r.gateway.PatchService(ctx, decl.Namespace, decl.Name, current, desired)
		switch patched.Kind {
		case ResultOk:
			r.cache.Record(patched.Value)
			return nil
		case ResultTransport:
			return patched.Err
		default:
			refetched := r.gateway.GetService(ctx, decl.Namespace, decl.Name)
			if refetched.Kind == ResultOk {
				current = refetched.Value
			}
			return errPatchConflict
		}
	})
	if err != nil {
		return fmt.Errorf("patching svc/%s in ns/%s: %w", decl.Name, decl.Namespace, err)
	}
	return nil
}

func (r *Reconciler) reconcileStatefulWorkload(ctx context.Context, decl *mongodbv1.MongoDBCluster) error {
	desired := BuildStatefulWorkload(decl)
	existing := r.gateway.GetStatefulWorkload(ctx, decl.Namespace, decl.Name)

	switch existing.Kind {
	case ResultNotFound:
		created := r.gateway.CreateStatefulWorkload(ctx, decl.Namespace, desired)
		if created.Kind == ResultOk {
			r.cache.Record(created.Value)
			reconcileLog.Info(fmt.Sprintf("created sts/%s in ns/%s", decl.Name, decl.Namespace))
		} else if created.Kind == ResultTransport {
			return fmt.Errorf("creating sts/%s in ns/%s: %w", decl.Name, decl.Namespace, created.Err)
		}
		return nil
	case ResultTransport:
		return fmt.Errorf("getting sts/%s in ns/%s: %w", decl.Name, decl.Namespace, existing.Err)
	}

	if r.cache.IsCurrent(existing.Value) {
		return nil
	}

	current := existing.Value
	err := retry.OnError(retry.DefaultRetry, apierrors.IsConflict, func() error {
		patched := r.gateway.PatchStatefulWorkload(ctx, decl.Namespace, decl.Name, current, desired)
		switch patched.Kind {
		case ResultOk:
			r.cache.Record(patched.Value)
			return nil
		case ResultTransport:
			return patched.Err
		default:
			refetched := r.gateway.GetStatefulWorkload(ctx, decl.Namespace, decl.Name)
			if refetched.Kind == ResultOk {
				current = refetched.Value
			}
			return errPatchConflict
		}
	})
	if err != nil {
		return fmt.Errorf("patching sts/%s in ns/%s: %w", decl.Name, decl.Namespace, err)
	}
	return nil
}

// errPatchConflict is a sentinel satisfying apierrors.IsConflict, used to
// signal retry.OnError to retry a patch whose Result came back Conflict
// without a transport error attached (e.g. a second create raced ours).
var errPatchConflict = apierrors.NewConflict(schema.GroupResource{Group: "", Resource: "derived-object"}, "", fmt.Errorf("concurrent modification"))
