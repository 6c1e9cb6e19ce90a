/*
This file is part of the MongoDB operator.

Copyright (C) 2019-2021 EnterpriseDB Corporation.
*/

package controller

import (
	"context"
	"testing"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"
)

func TestReconcileServiceCreatesWhenAbsent(t *testing.T) {
	cs := fake.NewSimpleClientset()
	r := NewReconciler(&Gateway{clientset: cs})
	decl := testCluster("rs0", "default")

	if err := r.reconcileService(context.Background(), decl); err != nil {
		t.Fatalf("reconcileService: %v", err)
	}

	svc, err := cs.CoreV1().Services("default").Get(context.Background(), "rs0", metav1.GetOptions{})
	if err != nil {
		t.Fatalf("expected service to have been created: %v", err)
	}
	if svc.Labels[labelCluster] != "rs0" {
		t.Fatalf("created service missing cluster label: %v", svc.Labels)
	}
}

func TestReconcileServiceIsIdempotent(t *testing.T) {
	cs := fake.NewSimpleClientset()
	r := NewReconciler(&Gateway{clientset: cs})
	decl := testCluster("rs0", "default")

	if err := r.reconcileService(context.Background(), decl); err != nil {
		t.Fatalf("first reconcileService: %v", err)
	}
	if err := r.reconcileService(context.Background(), decl); err != nil {
		t.Fatalf("second reconcileService: %v", err)
	}

	svcs, err := cs.CoreV1().Services("default").List(context.Background(), metav1.ListOptions{})
	if err != nil {
		t.Fatalf("listing services: %v", err)
	}
	if len(svcs.Items) != 1 {
		t.Fatalf("expected exactly one service after two reconciles, got %d", len(svcs.Items))
	}
}

func TestReconcileStatefulWorkloadCreatesWhenAbsent(t *testing.T) {
	cs := fake.NewSimpleClientset()
	r := NewReconciler(&Gateway{clientset: cs})
	decl := testCluster("rs0", "default")
	decl.Spec.Replicas = 3

	if err := r.reconcileStatefulWorkload(context.Background(), decl); err != nil {
		t.Fatalf("reconcileStatefulWorkload: %v", err)
	}

	sts, err := cs.AppsV1().StatefulSets("default").Get(context.Background(), "rs0", metav1.GetOptions{})
	if err != nil {
		t.Fatalf("expected stateful workload to have been created: %v", err)
	}
	if *sts.Spec.Replicas != 3 {
		t.Fatalf("expected 3 replicas, got %d", *sts.Spec.Replicas)
	}
}

func TestReconcileStatefulWorkloadSkipsPatchWhenCached(t *testing.T) {
	cs := fake.NewSimpleClientset()
	r := NewReconciler(&Gateway{clientset: cs})
	decl := testCluster("rs0", "default")

	if err := r.reconcileStatefulWorkload(context.Background(), decl); err != nil {
		t.Fatalf("create: %v", err)
	}

	created, err := cs.AppsV1().StatefulSets("default").Get(context.Background(), "rs0", metav1.GetOptions{})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !r.cache.IsCurrent(created) {
		t.Fatal("cache should record the just-created object's resourceVersion")
	}

	// A second reconcile against an unchanged cluster must not attempt a
	// patch at all, since the cache already reports the object current.
	if err := r.reconcileStatefulWorkload(context.Background(), decl); err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
	for _, action := range cs.Actions() {
		if action.GetVerb() == "patch" {
			t.Fatalf("expected no patch while the cache reports the object current, got %v", action)
		}
	}
}
