/*
This file is part of the MongoDB operator.

Copyright (C) 2019-2021 EnterpriseDB Corporation.
*/

package controller

import (
	"sync"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
)

// VersionCache tracks the last-observed resourceVersion per object UID, so
// the reconcile core can skip a patch when nothing changed since the last
// time it saw the object. It is owned by the Reconciler, not a package
// global, since two Reconcilers in the same process (there are none in
// this operator, but nothing stops a future test harness from wanting
// that) must not share state.
type VersionCache struct {
	mu   sync.RWMutex
	seen map[types.UID]string
}

// NewVersionCache returns an empty cache.
func NewVersionCache() *VersionCache {
	return &VersionCache{seen: make(map[types.UID]string)}
}

// IsCurrent reports whether obj's resourceVersion matches the last one
// recorded for its UID. A UID never seen before is never current.
func (c *VersionCache) IsCurrent(obj metav1.Object) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rv, ok := c.seen[obj.GetUID()]
	return ok && rv == obj.GetResourceVersion()
}

// Record stores obj's current (uid, resourceVersion) pair. Concurrent
// writers for the same UID may race; the last writer wins, which does
// not violate monotonicity since both writers necessarily observed the
// object at or after the version they're recording.
func (c *VersionCache) Record(obj metav1.Object) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen[obj.GetUID()] = obj.GetResourceVersion()
}
