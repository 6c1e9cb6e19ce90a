/*
This file is part of the MongoDB operator.

Copyright (C) 2019-2021 EnterpriseDB Corporation.
*/

package controller

import (
	"strings"
	"testing"
)

func TestClassifyProbeResponse(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want bootstrapOutcome
	}{
		{"not yet initialized", `{ "ok" : 0, "codeName" : "NotYetInitialized" }`, outcomeNotInitiated},
		{"ok", `{ "ok" : 1, "set" : "rs0" }`, outcomeOk},
		{"garbage", `connection refused`, outcomeOther},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := classifyProbeResponse(tc.raw); got != tc.want {
				t.Fatalf("classifyProbeResponse(%q) = %v, want %v", tc.raw, got, tc.want)
			}
		})
	}
}

func TestClassifyInitiateResponse(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want bootstrapOutcome
	}{
		{"ok", `{ "ok" : 1 }`, outcomeOk},
		{"node not found", `{ "ok" : 0, "codeName" : "NodeNotFound" }`, outcomeNodeNotFound},
		{"other", `{ "ok" : 0, "codeName" : "InvalidReplicaSetConfig" }`, outcomeOther},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := classifyInitiateResponse(tc.raw); got != tc.want {
				t.Fatalf("classifyInitiateResponse(%q) = %v, want %v", tc.raw, got, tc.want)
			}
		})
	}
}

func TestClassifyUserCreationResponse(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want bootstrapOutcome
	}{
		{"created", `Successfully added user: {"user":"root","roles":[]}`, outcomeUserCreated},
		{"not master", `Error: couldn't add user: not master : { ... }`, outcomeNotMaster},
		{"other", `uncaught exception`, outcomeOther},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := classifyUserCreationResponse(tc.raw); got != tc.want {
				t.Fatalf("classifyUserCreationResponse(%q) = %v, want %v", tc.raw, got, tc.want)
			}
		})
	}
}

func TestReplicaSetConfigListsEveryMember(t *testing.T) {
	cfg := replicaSetConfig("rs0", "default", 3)

	if !strings.Contains(cfg, `_id: "rs0"`) {
		t.Fatalf("config missing replica set name: %s", cfg)
	}
	for i := 0; i < 3; i++ {
		host := "rs0-" + string(rune('0'+i)) + ".rs0.default.svc.cluster.local"
		if !strings.Contains(cfg, host) {
			t.Fatalf("config missing member host %s: %s", host, cfg)
		}
	}
}
