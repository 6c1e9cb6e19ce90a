/*
This file is part of the MongoDB operator.

Copyright (C) 2019-2021 EnterpriseDB Corporation.
*/

package controller

import (
	apiextensionsv1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/utils/ptr"
	"sigs.k8s.io/yaml"
)

// BuildCRDManifest returns the CustomResourceDefinition object that
// AssertCRDRegistered expects to find already installed in the cluster.
// It is the single source of truth rendered by the "crd" CLI command so
// that the manifest an operator applies and the name the supervisor
// checks for can never drift apart.
func BuildCRDManifest() *apiextensionsv1.CustomResourceDefinition {
	return &apiextensionsv1.CustomResourceDefinition{
		TypeMeta: metav1.TypeMeta{
			APIVersion: "apiextensions.k8s.io/v1",
			Kind:       "CustomResourceDefinition",
		},
		ObjectMeta: metav1.ObjectMeta{
			Name: MongoDBClusterCRDName,
		},
		Spec: apiextensionsv1.CustomResourceDefinitionSpec{
			Group: "operator.kubestack.com",
			Names: apiextensionsv1.CustomResourceDefinitionNames{
				Plural:   "mongodbs",
				Singular: "mongodb",
				Kind:     "MongoDBCluster",
				ListKind: "MongoDBClusterList",
			},
			Scope: apiextensionsv1.NamespaceScoped,
			Versions: []apiextensionsv1.CustomResourceDefinitionVersion{
				{
					Name:    "v1",
					Served:  true,
					Storage: true,
					Subresources: &apiextensionsv1.CustomResourceSubresources{
						Status: &apiextensionsv1.CustomResourceSubresourceStatus{},
					},
					AdditionalPrinterColumns: []apiextensionsv1.CustomResourceColumnDefinition{
						{Name: "Age", Type: "date", JSONPath: ".metadata.creationTimestamp"},
						{Name: "Replicas", Type: "integer", JSONPath: ".spec.replicas"},
					},
					Schema: &apiextensionsv1.CustomResourceValidation{
						OpenAPIV3Schema: mongoDBClusterSchema(),
					},
				},
			},
		},
	}
}

// RenderCRDManifestYAML marshals the CRD manifest to YAML the way the
// teacher's own CRD assets under its config tree are authored.
func RenderCRDManifestYAML() ([]byte, error) {
	return yaml.Marshal(BuildCRDManifest())
}

func mongoDBClusterSchema() *apiextensionsv1.JSONSchemaProps {
	return &apiextensionsv1.JSONSchemaProps{
		Type: "object",
		Properties: map[string]apiextensionsv1.JSONSchemaProps{
			"spec": {
				Type: "object",
				Properties: map[string]apiextensionsv1.JSONSchemaProps{
					"replicas": {
						Type:    "integer",
						Minimum: ptr.To(float64(1)),
					},
					"mongodbLimitCpu":    {Type: "string"},
					"mongodbLimitMemory": {Type: "string"},
				},
			},
			"status": {
				Type: "object",
				Properties: map[string]apiextensionsv1.JSONSchemaProps{
					"observedGeneration": {Type: "integer"},
				},
			},
		},
		// Unknown fields are not preserved: the apiserver prunes anything
		// this root schema does not list, while metadata/apiVersion/kind
		// are handled by the apiserver itself.
		XPreserveUnknownFields: ptr.To(false),
	}
}
