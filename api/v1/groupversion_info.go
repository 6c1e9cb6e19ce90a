/*
This file is part of the MongoDB operator.

Copyright (C) 2019-2021 EnterpriseDB Corporation.
*/

// Package v1 contains API Schema definitions for the operator.kubestack.com v1 API group
// +kubebuilder:object:generate=true
// +groupName=operator.kubestack.com
package v1

import (
	"k8s.io/apimachinery/pkg/runtime/schema"
	"sigs.k8s.io/controller-runtime/pkg/scheme"
)

var (
	// GroupVersion is group version used to register these objects
	GroupVersion = schema.GroupVersion{Group: "operator.kubestack.com", Version: "v1"}

	// SchemeBuilder is used to add go types to the GroupVersionKind scheme
	SchemeBuilder = &scheme.Builder{GroupVersion: GroupVersion}

	// AddToScheme adds the types in this group-version to the given scheme.
	AddToScheme = SchemeBuilder.AddToScheme

	// Resource is the plural resource served under this group version, matching
	// the /apis/operator.kubestack.com/v1/mongodbs/ collection endpoint.
	Resource = GroupVersion.WithResource("mongodbs")
)
