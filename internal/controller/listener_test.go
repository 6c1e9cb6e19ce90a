/*
This file is part of the MongoDB operator.

Copyright (C) 2019-2021 EnterpriseDB Corporation.
*/

package controller

import (
	"context"
	"testing"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes/fake"
)

func newAddedEvent(obj *unstructured.Unstructured) watch.Event {
	return watch.Event{Type: watch.Added, Object: obj}
}

func unstructuredCluster(name, namespace string) *unstructured.Unstructured {
	decl := testCluster(name, namespace)
	decl.APIVersion = "operator.kubestack.com/v1"
	decl.Kind = "MongoDBCluster"
	raw, err := runtime.DefaultUnstructuredConverter.ToUnstructured(decl)
	if err != nil {
		panic(err)
	}
	return &unstructured.Unstructured{Object: raw}
}

func TestAsClusterConvertsUnstructured(t *testing.T) {
	u := unstructuredCluster("rs0", "default")

	decl, err := asCluster(u)
	if err != nil {
		t.Fatalf("asCluster: %v", err)
	}
	if decl.Name != "rs0" || decl.Namespace != "default" {
		t.Fatalf("unexpected conversion result: %+v", decl)
	}
}

// TestDispatchAddedCreatesServiceAndWorkloadOnly pins down the fix that an
// ADDED event must only create the derived objects, never invoke the
// bootstrap probe — unlike ReconcileCluster, which the periodic sweeper
// uses and which does probe. The four secrets are pre-seeded so
// reconcileSecrets' already-exists branch short-circuits without
// generating real certificates, isolating the assertion to the
// service/stateful-workload half of EnsureDerivedObjects. We can't
// observe "Probe was not called" directly without a fake exec transport;
// this at least confirms dispatch's ADDED path runs EnsureDerivedObjects'
// create sequence for the service and the stateful workload.
func TestDispatchAddedCreatesServiceAndWorkloadOnly(t *testing.T) {
	existingSecrets := []runtime.Object{
		&corev1.Secret{ObjectMeta: metav1.ObjectMeta{Name: "rs0-ca", Namespace: "default"}},
		&corev1.Secret{ObjectMeta: metav1.ObjectMeta{Name: "rs0-client-certificate", Namespace: "default"}},
		&corev1.Secret{ObjectMeta: metav1.ObjectMeta{Name: "rs0-admin-credentials", Namespace: "default"}},
		&corev1.Secret{ObjectMeta: metav1.ObjectMeta{Name: "rs0-monitoring-credentials", Namespace: "default"}},
	}
	cs := fake.NewSimpleClientset(existingSecrets...)
	gateway := &Gateway{clientset: cs}
	l := &Listener{gateway: gateway, reconciler: NewReconciler(gateway)}

	l.dispatch(context.Background(), newAddedEvent(unstructuredCluster("rs0", "default")))

	if _, err := cs.CoreV1().Services("default").Get(context.Background(), "rs0", metav1.GetOptions{}); err != nil {
		t.Fatalf("expected service to be created on ADDED, got error: %v", err)
	}
	if _, err := cs.AppsV1().StatefulSets("default").Get(context.Background(), "rs0", metav1.GetOptions{}); err != nil {
		t.Fatalf("expected stateful workload to be created on ADDED, got error: %v", err)
	}
}

func TestTeardownDeletesServiceAndSecrets(t *testing.T) {
	svc := &corev1.Service{ObjectMeta: metav1.ObjectMeta{Name: "rs0", Namespace: "default"}}
	caSecret := &corev1.Secret{ObjectMeta: metav1.ObjectMeta{Name: "rs0-ca", Namespace: "default"}}
	cs := fake.NewSimpleClientset(svc, caSecret)
	gateway := &Gateway{clientset: cs}
	l := &Listener{gateway: gateway, reconciler: NewReconciler(gateway)}

	l.teardown(context.Background(), testCluster("rs0", "default"))

	if _, err := cs.CoreV1().Services("default").Get(context.Background(), "rs0", metav1.GetOptions{}); err == nil {
		t.Fatal("service should have been deleted during teardown")
	}
	if _, err := cs.CoreV1().Secrets("default").Get(context.Background(), "rs0-ca", metav1.GetOptions{}); err == nil {
		t.Fatal("CA secret should have been deleted during teardown")
	}
}
