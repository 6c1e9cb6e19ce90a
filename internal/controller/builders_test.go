/*
This file is part of the MongoDB operator.

Copyright (C) 2019-2021 EnterpriseDB Corporation.
*/

package controller

import (
	"testing"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	mongodbv1 "github.com/kubestack/mongodb-operator/api/v1"
)

func testCluster(name, namespace string) *mongodbv1.MongoDBCluster {
	return &mongodbv1.MongoDBCluster{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: namespace},
	}
}

func TestBuildServiceIsHeadless(t *testing.T) {
	decl := testCluster("rs0", "default")
	svc := BuildService(decl)

	if svc.Spec.ClusterIP != corev1.ClusterIPNone {
		t.Fatalf("expected headless service, got ClusterIP=%q", svc.Spec.ClusterIP)
	}
	if svc.Spec.Selector[labelCluster] != "rs0" {
		t.Fatalf("selector missing cluster label: %v", svc.Spec.Selector)
	}
	if svc.Labels[labelMonitoring] != monitoringValue {
		t.Fatalf("service should carry the monitoring label, got %v", svc.Labels)
	}
	if len(svc.Spec.Ports) != 2 || svc.Spec.Ports[0].Port != mongodPort || svc.Spec.Ports[1].Port != metricsPort {
		t.Fatalf("expected ports %d and %d, got %v", mongodPort, metricsPort, svc.Spec.Ports)
	}
}

func TestBuildStatefulWorkloadDefaultsReplicas(t *testing.T) {
	decl := testCluster("rs0", "default")
	sts := BuildStatefulWorkload(decl)

	if sts.Spec.Replicas == nil || *sts.Spec.Replicas != mongodbv1.DefaultReplicas {
		t.Fatalf("expected default replicas %d, got %v", mongodbv1.DefaultReplicas, sts.Spec.Replicas)
	}
	if len(sts.Spec.Template.Spec.Containers) != 2 {
		t.Fatalf("expected mongod + metrics-exporter containers, got %d", len(sts.Spec.Template.Spec.Containers))
	}
	if len(sts.Spec.Template.Spec.InitContainers) != 1 {
		t.Fatalf("expected one init container, got %d", len(sts.Spec.Template.Spec.InitContainers))
	}
	if sts.Spec.Template.Spec.Affinity == nil || sts.Spec.Template.Spec.Affinity.PodAntiAffinity == nil {
		t.Fatal("expected required pod anti-affinity to be set")
	}
}

func TestBuildStatefulWorkloadHonorsExplicitReplicas(t *testing.T) {
	decl := testCluster("rs0", "default")
	decl.Spec.Replicas = 5
	sts := BuildStatefulWorkload(decl)

	if *sts.Spec.Replicas != 5 {
		t.Fatalf("expected 5 replicas, got %d", *sts.Spec.Replicas)
	}
}

func TestClusterSelectorMatchesDefaultLabels(t *testing.T) {
	sel := ClusterSelector("rs0")
	if sel != "cluster=rs0" {
		t.Fatalf("unexpected selector: %q", sel)
	}
}
