/*
This file is part of the MongoDB operator.

Copyright (C) 2019-2021 EnterpriseDB Corporation.
*/

package controller

import (
	"context"
	"fmt"
	"strings"

	shellquote "github.com/kballard/go-shellquote"

	mongodbv1 "github.com/kubestack/mongodb-operator/api/v1"
	"github.com/kubestack/mongodb-operator/internal/log"
	"github.com/kubestack/mongodb-operator/internal/metrics"
)

var bootstrapLog = log.WithName("bootstrap")

// bootstrapOutcome enumerates the substring-matched responses the original
// implementation tested for with strings.Contains; the enum exists only
// to turn scattered string tests into a switch, not to change what is
// being detected.
type bootstrapOutcome int

const (
	outcomeNotInitiated bootstrapOutcome = iota
	outcomeOk
	outcomeNodeNotFound
	outcomeNotMaster
	outcomeUserCreated
	outcomeOther
)

func classifyProbeResponse(raw string) bootstrapOutcome {
	switch {
	case strings.Contains(raw, `"ok" : 0`) && strings.Contains(raw, `"codeName" : "NotYetInitialized"`):
		return outcomeNotInitiated
	case strings.Contains(raw, `"ok" : 1`):
		return outcomeOk
	default:
		return outcomeOther
	}
}

func classifyInitiateResponse(raw string) bootstrapOutcome {
	switch {
	case strings.Contains(raw, `"ok" : 1`):
		return outcomeOk
	case strings.Contains(raw, `"ok" : 0`) && strings.Contains(raw, `"codeName" : "NodeNotFound"`):
		return outcomeNodeNotFound
	default:
		return outcomeOther
	}
}

func classifyUserCreationResponse(raw string) bootstrapOutcome {
	switch {
	case strings.Contains(raw, "Successfully added user: {"):
		return outcomeUserCreated
	case strings.Contains(raw, "Error: couldn't add user: not master :"):
		return outcomeNotMaster
	default:
		return outcomeOther
	}
}

func (r *Reconciler) mongoEval(ctx context.Context, namespace, pod, script string) (string, error) {
	command := []string{"mongo", "admin", "--ssl",
		"--sslCAFile", "/etc/ssl/mongod/ca.pem",
		"--sslPEMKeyFile", "/etc/ssl/mongod/mongod.pem",
		"--eval", script,
	}
	quoted, _ := shellquote.Quote(command)
	bootstrapLog.Debug("executing mongo shell command", "pod", pod, "namespace", namespace, "command", quoted)
	return r.gateway.Exec(ctx, namespace, pod, mongodContainerName, command)
}

// Probe runs rs.status() against the cluster's first pod and dispatches to
// Initiate or CreateUsers depending on the response. It is the entry point
// called once per reconcile pass; the caller re-invokes it on every sweep
// until the cluster reaches UsersCreated.
func (r *Reconciler) Probe(ctx context.Context, decl *mongodbv1.MongoDBCluster) {
	firstPod := decl.Name + "-0"
	raw, err := r.mongoEval(ctx, decl.Namespace, firstPod, "rs.status()")
	if err != nil {
		bootstrapLog.Error("probing replica set status", "cluster", decl.Name, "pod", firstPod, "error", err)
		return
	}

	switch classifyProbeResponse(raw) {
	case outcomeNotInitiated:
		metrics.BootstrapState.WithLabelValues(decl.Name, decl.Namespace).Set(0)
		r.initiate(ctx, decl)
	case outcomeOk:
		metrics.BootstrapState.WithLabelValues(decl.Name, decl.Namespace).Set(1)
		r.createUsers(ctx, decl)
	default:
		bootstrapLog.Info("replica set probe inconclusive, will retry on next sweep", "cluster", decl.Name)
	}
}

func (r *Reconciler) initiate(ctx context.Context, decl *mongodbv1.MongoDBCluster) {
	replicas := decl.ReplicasOrDefault()
	cfg := replicaSetConfig(decl.Name, decl.Namespace, replicas)

	raw, err := r.mongoEval(ctx, decl.Namespace, decl.Name+"-0", fmt.Sprintf("rs.initiate(%s)", cfg))
	if err != nil {
		bootstrapLog.Error("initiating replica set", "cluster", decl.Name, "error", err)
		return
	}

	switch classifyInitiateResponse(raw) {
	case outcomeOk:
		bootstrapLog.Info("replica set initiated", "cluster", decl.Name)
	case outcomeNodeNotFound:
		bootstrapLog.Info("replica set members not yet resolvable, will retry", "cluster", decl.Name)
	default:
		bootstrapLog.Info("replica set initiate inconclusive, will retry on next sweep", "cluster", decl.Name)
	}
}

func replicaSetConfig(name, namespace string, replicas int32) string {
	var members []string
	for i := int32(0); i < replicas; i++ {
		host := fmt.Sprintf("%s-%d.%s.%s.svc.cluster.local", name, i, name, namespace)
		members = append(members, fmt.Sprintf(`{_id: %d, host: %q}`, i, host))
	}
	return fmt.Sprintf(`{_id: %q, version: 1, members: [%s]}`, name, strings.Join(members, ", "))
}

// createUsers creates the admin and monitoring users, trying each pod in
// order since the primary may not be member 0.
func (r *Reconciler) createUsers(ctx context.Context, decl *mongodbv1.MongoDBCluster) {
	adminResult := r.gateway.GetSecret(ctx, decl.Namespace, decl.Name+"-admin-credentials")
	monitoringResult := r.gateway.GetSecret(ctx, decl.Namespace, decl.Name+"-monitoring-credentials")
	if adminResult.Kind != ResultOk || monitoringResult.Kind != ResultOk {
		bootstrapLog.Info("admin/monitoring secrets not ready yet, will retry on next sweep", "cluster", decl.Name)
		return
	}

	// client-go already base64-decodes Secret.Data into raw bytes.
	adminUser := string(adminResult.Value.Data["username"])
	adminPassword := string(adminResult.Value.Data["password"])
	monitoringUser := string(monitoringResult.Value.Data["username"])
	monitoringPassword := string(monitoringResult.Value.Data["password"])

	script := fmt.Sprintf(`
db.createUser({user: %q, pwd: %q, roles: [{role: "root", db: "admin"}]});
db.auth(%q, %q);
db.createUser({user: %q, pwd: %q, roles: [{role: "clusterMonitor", db: "admin"}]});
`, adminUser, adminPassword, adminUser, adminPassword, monitoringUser, monitoringPassword)

	replicas := decl.ReplicasOrDefault()
	for i := int32(0); i < replicas; i++ {
		pod := fmt.Sprintf("%s-%d", decl.Name, i)
		raw, err := r.mongoEval(ctx, decl.Namespace, pod, script)
		if err != nil {
			bootstrapLog.Error("creating users", "cluster", decl.Name, "pod", pod, "error", err)
			continue
		}

		switch classifyUserCreationResponse(raw) {
		case outcomeUserCreated:
			metrics.BootstrapState.WithLabelValues(decl.Name, decl.Namespace).Set(2)
			bootstrapLog.Info("created admin and monitoring users", "cluster", decl.Name, "pod", pod)
			return
		case outcomeNotMaster:
			continue
		default:
			bootstrapLog.Error("unexpected response creating users, aborting this pass", "cluster", decl.Name, "pod", pod, "response", raw)
			return
		}
	}

	bootstrapLog.Info("no pod accepted user creation, will retry on next sweep", "cluster", decl.Name)
}
