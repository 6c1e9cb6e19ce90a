/*
This file is part of the MongoDB operator.

Copyright (C) 2019-2021 EnterpriseDB Corporation.
*/

package credentials

import (
	"strings"
	"testing"
	"time"
)

func TestRandomPasswordLength(t *testing.T) {
	pwd, err := RandomPassword()
	if err != nil {
		t.Fatalf("RandomPassword: %v", err)
	}
	if len(pwd) != 23 {
		t.Fatalf("expected a 23-character password, got %d chars: %q", len(pwd), pwd)
	}
}

func TestRandomPasswordIsNotConstant(t *testing.T) {
	a, err := RandomPassword()
	if err != nil {
		t.Fatalf("RandomPassword: %v", err)
	}
	b, err := RandomPassword()
	if err != nil {
		t.Fatalf("RandomPassword: %v", err)
	}
	if a == b {
		t.Fatal("two successive passwords should not collide")
	}
}

func TestExpiresWithinRejectsGarbageInput(t *testing.T) {
	_, _, err := ExpiresWithin([]byte("not a certificate"), 24*time.Hour)
	if err == nil {
		t.Fatal("expected an error decoding a non-PEM input")
	}
}

func TestCSRJSONOmitsHostsWhenEmpty(t *testing.T) {
	csr := csrJSON("rs0-client", "")
	if !strings.Contains(csr, `"hosts": []`) {
		t.Fatalf("expected an empty hosts array, got: %s", csr)
	}
}

func TestCSRJSONIncludesHostWhenGiven(t *testing.T) {
	csr := csrJSON("rs0.default.svc.cluster.local", "rs0.default.svc.cluster.local")
	if !strings.Contains(csr, `"rs0.default.svc.cluster.local"`) {
		t.Fatalf("expected the host to appear in the CSR JSON, got: %s", csr)
	}
}
