/*
This file is part of the MongoDB operator.

Copyright (C) 2019-2021 EnterpriseDB Corporation.
*/

package v1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// Default values applied by the object builders (internal/controller/builders.go)
// whenever the corresponding field is left unset.
const (
	DefaultReplicas             = int32(3)
	DefaultMongodbLimitCPU       = "100m"
	DefaultMongodbLimitMemory    = "64Mi"
	DefaultMongodbImage          = "mongo:3.4.1"
	DefaultMetricsExporterImage  = "quay.io/kubestack/prometheus-mongodb-exporter:latest"
	DefaultInitContainerImage    = "quay.io/kubestack/mongodb-init:latest"
)

// MongoDBSpec defines the desired state of a MongoDBCluster
type MongoDBSpec struct {
	// Number of mongod replicas that make up the replica set.
	// +kubebuilder:validation:Minimum=1
	// +optional
	Replicas int32 `json:"replicas,omitempty"`

	// CPU limit applied to the mongod container.
	// +optional
	MongodbLimitCPU string `json:"mongodbLimitCpu,omitempty"`

	// Memory limit applied to the mongod container.
	// +optional
	MongodbLimitMemory string `json:"mongodbLimitMemory,omitempty"`
}

// MongoDBStatus defines the observed state of a MongoDBCluster. The
// controller does not reflect reconciliation health here; ObservedGeneration
// is the only field carried today.
type MongoDBStatus struct {
	// +optional
	ObservedGeneration int64 `json:"observedGeneration,omitempty"`
}

// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:printcolumn:name="Age",type="date",JSONPath=".metadata.creationTimestamp"
// +kubebuilder:printcolumn:name="Replicas",type="integer",JSONPath=".spec.replicas"

// MongoDBCluster is the Schema for the mongodbs API
type MongoDBCluster struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	// +optional
	Spec MongoDBSpec `json:"spec,omitempty"`
	// +optional
	Status MongoDBStatus `json:"status,omitempty"`
}

// +kubebuilder:object:root=true

// MongoDBClusterList contains a list of MongoDBCluster
type MongoDBClusterList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []MongoDBCluster `json:"items"`
}

// ReplicasOrDefault returns the declared replica count or DefaultReplicas
// when unset.
func (m *MongoDBCluster) ReplicasOrDefault() int32 {
	if m.Spec.Replicas <= 0 {
		return DefaultReplicas
	}
	return m.Spec.Replicas
}

// LimitCPUOrDefault returns the declared mongod CPU limit or DefaultMongodbLimitCPU.
func (m *MongoDBCluster) LimitCPUOrDefault() string {
	if m.Spec.MongodbLimitCPU == "" {
		return DefaultMongodbLimitCPU
	}
	return m.Spec.MongodbLimitCPU
}

// LimitMemoryOrDefault returns the declared mongod memory limit or DefaultMongodbLimitMemory.
func (m *MongoDBCluster) LimitMemoryOrDefault() string {
	if m.Spec.MongodbLimitMemory == "" {
		return DefaultMongodbLimitMemory
	}
	return m.Spec.MongodbLimitMemory
}

func init() {
	SchemeBuilder.Register(&MongoDBCluster{}, &MongoDBClusterList{})
}
