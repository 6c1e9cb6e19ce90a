/*
This file is part of the MongoDB operator.

Copyright (C) 2019-2021 EnterpriseDB Corporation.
*/

// Package credentials is the credential factory: it produces random
// passwords and a self-signed CA / client certificate pair by shelling out
// to the cfssl signing tool.
package credentials

import (
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/sethvargo/go-password/password"

	"github.com/kubestack/mongodb-operator/pkg/fileutils"
)

// Pair is the PEM-encoded output of a certificate issuance.
type Pair struct {
	CertPEM []byte
	KeyPEM  []byte
	CSRPEM  []byte
}

// RandomPassword returns a cryptographically strong password, reproducing
// the original 23-character alphanumeric-plus-symbol alphabet at well over
// 128 bits of entropy.
func RandomPassword() (string, error) {
	return password.Generate(23, 6, 6, false, false)
}

const caConfig = `{
  "signing": {
    "default": {"expiry": "8760h"},
    "profiles": {
      "client": {
        "usages": ["signing", "key encipherment", "client auth"],
        "expiry": "8760h"
      }
    }
  }
}`

// GenerateCA issues a self-signed CA for <name>.<namespace>.svc.cluster.local
// via `cfssl genkey -initca`.
func GenerateCA(name, namespace string) (Pair, error) {
	cn := fmt.Sprintf("%s.%s.svc.cluster.local", name, namespace)
	csr := csrJSON(cn, cn)

	csrPath, err := fileutils.WriteTempFile("", "mongodb-ca-csr-*.json", []byte(csr))
	if err != nil {
		return Pair{}, err
	}
	defer os.Remove(csrPath)

	out, err := exec.Command("cfssl", "genkey", "-initca", csrPath).Output()
	if err != nil {
		return Pair{}, fmt.Errorf("cfssl genkey -initca: %w", err)
	}

	return parseCfsslOutput(out)
}

// GenerateClient issues a client certificate signed by the given CA
// material, with subject <name>-client and no SAN hosts.
func GenerateClient(caPEM, caKeyPEM []byte, name string) (Pair, error) {
	cn := name + "-client"
	csr := csrJSON(cn, "")

	csrPath, err := fileutils.WriteTempFile("", "mongodb-client-csr-*.json", []byte(csr))
	if err != nil {
		return Pair{}, err
	}
	defer os.Remove(csrPath)

	caPath, err := fileutils.WriteTempFile("", "mongodb-ca-*.pem", caPEM)
	if err != nil {
		return Pair{}, err
	}
	defer os.Remove(caPath)

	caKeyPath, err := fileutils.WriteTempFile("", "mongodb-ca-key-*.pem", caKeyPEM)
	if err != nil {
		return Pair{}, err
	}
	defer os.Remove(caKeyPath)

	configPath, err := fileutils.WriteTempFile("", "mongodb-ca-config-*.json", []byte(caConfig))
	if err != nil {
		return Pair{}, err
	}
	defer os.Remove(configPath)

	cmd := exec.Command("cfssl", "gencert",
		"-ca="+caPath,
		"-ca-key="+caKeyPath,
		"-config="+configPath,
		"-profile=client",
		csrPath,
	)
	out, err := cmd.Output()
	if err != nil {
		return Pair{}, fmt.Errorf("cfssl gencert -profile=client: %w", err)
	}

	return parseCfsslOutput(out)
}

func csrJSON(cn, host string) string {
	hosts := "[]"
	if host != "" {
		hosts = fmt.Sprintf("[%q]", host)
	}
	return fmt.Sprintf(`{
  "CN": %q,
  "hosts": %s,
  "key": {"algo": "rsa", "size": 2048},
  "names": [{"O": %q}]
}`, cn, hosts, cn)
}

// cfsslOutput mirrors the JSON document cfssl emits on stdout.
type cfsslOutput struct {
	Cert string `json:"cert"`
	Key  string `json:"key"`
	CSR  string `json:"csr"`
}

func parseCfsslOutput(raw []byte) (Pair, error) {
	var out cfsslOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return Pair{}, fmt.Errorf("decoding cfssl output: %w", err)
	}
	return Pair{
		CertPEM: []byte(out.Cert),
		KeyPEM:  []byte(out.Key),
		CSRPEM:  []byte(out.CSR),
	}, nil
}

// ExpiresWithin reports whether the first certificate in certPEM expires
// before the given duration from now, used by the maintenance job to flag
// CAs approaching the end of their validity window.
func ExpiresWithin(certPEM []byte, window time.Duration) (bool, time.Time, error) {
	block, _ := pem.Decode(certPEM)
	if block == nil {
		return false, time.Time{}, fmt.Errorf("no PEM block found in certificate")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return false, time.Time{}, fmt.Errorf("parsing certificate: %w", err)
	}
	return time.Until(cert.NotAfter) < window, cert.NotAfter, nil
}
