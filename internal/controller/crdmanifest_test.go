/*
This file is part of the MongoDB operator.

Copyright (C) 2019-2021 EnterpriseDB Corporation.
*/

package controller

import (
	"strings"
	"testing"
)

func TestBuildCRDManifestMatchesRegisteredName(t *testing.T) {
	crd := BuildCRDManifest()

	if crd.Name != MongoDBClusterCRDName {
		t.Fatalf("manifest name %q does not match the name AssertCRDRegistered checks for (%q)", crd.Name, MongoDBClusterCRDName)
	}
	if crd.Spec.Names.Kind != "MongoDBCluster" {
		t.Fatalf("unexpected kind: %q", crd.Spec.Names.Kind)
	}
	if len(crd.Spec.Versions) != 1 || !crd.Spec.Versions[0].Served || !crd.Spec.Versions[0].Storage {
		t.Fatalf("expected exactly one served+storage version, got %+v", crd.Spec.Versions)
	}
}

func TestRenderCRDManifestYAMLIncludesSchema(t *testing.T) {
	out, err := RenderCRDManifestYAML()
	if err != nil {
		t.Fatalf("RenderCRDManifestYAML: %v", err)
	}
	rendered := string(out)

	for _, want := range []string{"kind: CustomResourceDefinition", "mongodbs.operator.kubestack.com", "replicas"} {
		if !strings.Contains(rendered, want) {
			t.Fatalf("rendered manifest missing %q:\n%s", want, rendered)
		}
	}
}
