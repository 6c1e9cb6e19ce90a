/*
This file is part of the MongoDB operator.

Copyright (C) 2019-2021 EnterpriseDB Corporation.
*/

package controller

import (
	"context"
	"fmt"
	"time"

	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/watch"

	mongodbv1 "github.com/kubestack/mongodb-operator/api/v1"
	"github.com/kubestack/mongodb-operator/internal/log"
)

var listenerLog = log.WithName("EventListener")

// Listener watches the mongodbs custom resource stream and dispatches
// ADDED/MODIFIED/DELETED events to the appropriate handler. A closed
// channel — whether from a server-side watch timeout or a transport
// drop — ends the range loop; the worker logs and reopens the stream
// until shutdown.
type Listener struct {
	reconciler *Reconciler
	gateway    *Gateway
	timeout    time.Duration
}

// NewListener returns a Listener whose watch calls carry the given
// server-side timeout.
func NewListener(reconciler *Reconciler, gateway *Gateway, timeout time.Duration) *Listener {
	return &Listener{reconciler: reconciler, gateway: gateway, timeout: timeout}
}

// Run blocks, re-opening the watch stream until ctx is cancelled or
// shuttingDown is set. It is meant to be launched on its own goroutine
// by the supervisor.
func (l *Listener) Run(ctx context.Context, shuttingDown func() bool) {
	for {
		if shuttingDown() || ctx.Err() != nil {
			return
		}
		l.watchOnce(ctx)
	}
}

func (l *Listener) watchOnce(ctx context.Context) {
	w, err := l.gateway.WatchClusters(ctx, int64(l.timeout.Seconds()))
	if err != nil {
		listenerLog.Error("opening watch stream failed, retrying after timeout", "error", err)
		sleepOrDone(ctx, l.timeout)
		return
	}
	defer w.Stop()

	for event := range w.ResultChan() {
		l.dispatch(ctx, event)
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (l *Listener) dispatch(ctx context.Context, event watch.Event) {
	switch event.Type {
	case watch.Added:
		decl, err := asCluster(event.Object)
		if err != nil {
			listenerLog.Warn("malformed ADDED event", "error", err)
			return
		}
		if err := l.reconciler.EnsureDerivedObjects(ctx, decl); err != nil {
			listenerLog.Error("creating derived objects for newly added cluster", "cluster", decl.Name, "error", err)
		}
	case watch.Modified:
		listenerLog.Warn("UPDATE NOT IMPLEMENTED YET")
	case watch.Deleted:
		decl, err := asCluster(event.Object)
		if err != nil {
			listenerLog.Warn("malformed DELETED event", "error", err)
			return
		}
		l.teardown(ctx, decl)
	default:
		listenerLog.Warn("ignoring malformed or unhandled watch event", "type", event.Type)
	}
}

// teardown deletes the service, reaps the stateful workload, then deletes
// all four secrets, in that order.
func (l *Listener) teardown(ctx context.Context, decl *mongodbv1.MongoDBCluster) {
	if err := l.gateway.clientset.CoreV1().Services(decl.Namespace).Delete(ctx, decl.Name, deleteOptions()); err != nil && !isNotFoundErr(err) {
		listenerLog.Error("deleting service during teardown", "cluster", decl.Name, "error", err)
	} else {
		listenerLog.Info(fmt.Sprintf("deleted svc/%s from ns/%s", decl.Name, decl.Namespace))
	}

	outcome := l.reconciler.ReapStatefulWorkload(ctx, decl.Namespace, decl.Name)
	if outcome == ReapDone {
		listenerLog.Info(fmt.Sprintf("deleted sts/%s from ns/%s", decl.Name, decl.Namespace))
	}

	for _, suffix := range []string{"-ca", "-client-certificate", "-admin-credentials", "-monitoring-credentials"} {
		name := decl.Name + suffix
		if err := l.gateway.clientset.CoreV1().Secrets(decl.Namespace).Delete(ctx, name, deleteOptions()); err != nil && !isNotFoundErr(err) {
			listenerLog.Error("deleting secret during teardown", "secret", name, "error", err)
		}
	}
}

func asCluster(obj runtime.Object) (*mongodbv1.MongoDBCluster, error) {
	u, ok := obj.(interface {
		UnstructuredContent() map[string]interface{}
	})
	if !ok {
		return nil, fmt.Errorf("watch event object is not unstructured: %T", obj)
	}
	decl := &mongodbv1.MongoDBCluster{}
	if err := runtime.DefaultUnstructuredConverter.FromUnstructured(u.UnstructuredContent(), decl); err != nil {
		return nil, fmt.Errorf("converting watch event object: %w", err)
	}
	return decl, nil
}
