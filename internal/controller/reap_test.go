/*
This file is part of the MongoDB operator.

Copyright (C) 2019-2021 EnterpriseDB Corporation.
*/

package controller

import (
	"context"
	"testing"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"
)

func TestWaveDelaySchedule(t *testing.T) {
	want := []time.Duration{0, 2 * time.Second, 4 * time.Second, 6 * time.Second, 8 * time.Second}
	for i, w := range want {
		if got := waveDelay(uint(i)); got != w {
			t.Fatalf("waveDelay(%d) = %v, want %v", i, got, w)
		}
	}
}

// TestReapStatefulWorkloadBoundsToFiveWaves pins down the defect the old
// library-driven retry loop had: it must attempt exactly 5 waves (each
// preceded by its own sleep, including the first), not 4 gaps between 5
// attempts. A context that outlives every wave's delay (0+2+4+6+8=20s)
// must see the loop give up with Retry rather than block forever.
func TestReapStatefulWorkloadBoundsToFiveWaves(t *testing.T) {
	sts := &appsv1.StatefulSet{
		ObjectMeta: metav1.ObjectMeta{Name: "rs0", Namespace: "default"},
	}
	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name: "rs0-0", Namespace: "default",
			Labels: map[string]string{labelCluster: "rs0"},
		},
	}
	cs := fake.NewSimpleClientset(sts, pod)
	r := NewReconciler(&Gateway{clientset: cs})

	start := time.Now()
	outcome := r.ReapStatefulWorkload(context.Background(), "default", "rs0")
	elapsed := time.Since(start)

	if outcome != ReapRetry {
		t.Fatalf("expected Retry once all 5 waves are exhausted, got %v", outcome)
	}
	if elapsed < 20*time.Second {
		t.Fatalf("expected the loop to have slept through all 5 waves (0+2+4+6+8=20s), only elapsed %v", elapsed)
	}
}

func TestReapStatefulWorkloadNotFoundIsDone(t *testing.T) {
	cs := fake.NewSimpleClientset()
	r := NewReconciler(&Gateway{clientset: cs})

	outcome := r.ReapStatefulWorkload(context.Background(), "default", "rs0")
	if outcome != ReapDone {
		t.Fatalf("reaping an absent workload should report Done, got %v", outcome)
	}
}

func TestReapStatefulWorkloadDeletesOnceEmpty(t *testing.T) {
	sts := &appsv1.StatefulSet{
		ObjectMeta: metav1.ObjectMeta{Name: "rs0", Namespace: "default"},
	}
	cs := fake.NewSimpleClientset(sts)
	r := NewReconciler(&Gateway{clientset: cs})

	outcome := r.ReapStatefulWorkload(context.Background(), "default", "rs0")
	if outcome != ReapDone {
		t.Fatalf("expected Done once no pods remain, got %v", outcome)
	}

	if _, err := cs.AppsV1().StatefulSets("default").Get(context.Background(), "rs0", metav1.GetOptions{}); err == nil {
		t.Fatal("expected the stateful workload to be deleted")
	}
}

func TestReapStatefulWorkloadRetriesWhilePodsRemain(t *testing.T) {
	sts := &appsv1.StatefulSet{
		ObjectMeta: metav1.ObjectMeta{Name: "rs0", Namespace: "default"},
	}
	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name: "rs0-0", Namespace: "default",
			Labels: map[string]string{labelCluster: "rs0"},
		},
	}
	cs := fake.NewSimpleClientset(sts, pod)
	r := NewReconciler(&Gateway{clientset: cs})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	outcome := r.ReapStatefulWorkload(ctx, "default", "rs0")
	if outcome != ReapRetry {
		t.Fatalf("expected Retry while a labelled pod still exists, got %v", outcome)
	}
}
