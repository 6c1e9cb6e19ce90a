/*
This file is part of the MongoDB operator.

Copyright (C) 2019-2021 EnterpriseDB Corporation.
*/

package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch/v5"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/remotecommand"

	mongodbv1 "github.com/kubestack/mongodb-operator/api/v1"
)

// ResultKind discriminates the outcome of a Gateway call.
type ResultKind int

const (
	// ResultOk means the call succeeded and carries a value.
	ResultOk ResultKind = iota
	// ResultNotFound means the object does not exist.
	ResultNotFound
	// ResultConflict means the object already exists (on create) or was
	// concurrently modified (on patch/update).
	ResultConflict
	// ResultTransport means every other failure, wrapping the underlying error.
	ResultTransport
)

// Result is the three-case-plus-value outcome every Gateway verb returns,
// classified from apierrors rather than letting callers inspect raw errors.
type Result[T any] struct {
	Kind  ResultKind
	Value T
	Err   error
}

func ok[T any](v T) Result[T]         { return Result[T]{Kind: ResultOk, Value: v} }
func notFound[T any]() Result[T]      { return Result[T]{Kind: ResultNotFound} }
func conflict[T any]() Result[T]      { return Result[T]{Kind: ResultConflict} }
func transport[T any](e error) Result[T] { return Result[T]{Kind: ResultTransport, Err: e} }

func classify[T any](v T, err error) Result[T] {
	switch {
	case err == nil:
		return ok(v)
	case apierrors.IsNotFound(err):
		return notFound[T]()
	case apierrors.IsAlreadyExists(err), apierrors.IsConflict(err):
		return conflict[T]()
	default:
		return transport[T](err)
	}
}

// Gateway is the typed cluster-API client, wrapping a typed clientset for
// the built-in kinds and a dynamic client for the MongoDBCluster custom
// resource, which has no generated clientset.
type Gateway struct {
	clientset kubernetes.Interface
	dynamic   dynamic.Interface
	restCfg   *rest.Config
}

// NewGateway builds a Gateway from an in-cluster or kubeconfig-derived rest.Config.
func NewGateway(cfg *rest.Config) (*Gateway, error) {
	cs, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("building typed clientset: %w", err)
	}
	dyn, err := dynamic.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("building dynamic client: %w", err)
	}
	return &Gateway{clientset: cs, dynamic: dyn, restCfg: cfg}, nil
}

var mongoDBResource = mongodbv1.Resource

// GetService fetches the named Service.
func (g *Gateway) GetService(ctx context.Context, namespace, name string) Result[*corev1.Service] {
	svc, err := g.clientset.CoreV1().Services(namespace).Get(ctx, name, metav1.GetOptions{})
	return classify(svc, err)
}

// CreateService creates svc, treating AlreadyExists as Conflict.
func (g *Gateway) CreateService(ctx context.Context, namespace string, svc *corev1.Service) Result[*corev1.Service] {
	created, err := g.clientset.CoreV1().Services(namespace).Create(ctx, svc, metav1.CreateOptions{})
	return classify(created, err)
}

// PatchService merge-patches name from original to desired.
func (g *Gateway) PatchService(
	ctx context.Context, namespace, name string, original, desired *corev1.Service,
) Result[*corev1.Service] {
	patch, err := buildMergePatch(original, desired)
	if err != nil {
		return transport[*corev1.Service](err)
	}
	patched, err := g.clientset.CoreV1().Services(namespace).Patch(ctx, name, types.MergePatchType, patch, metav1.PatchOptions{})
	return classify(patched, err)
}

// GetStatefulWorkload fetches the named StatefulSet.
func (g *Gateway) GetStatefulWorkload(ctx context.Context, namespace, name string) Result[*appsv1.StatefulSet] {
	sts, err := g.clientset.AppsV1().StatefulSets(namespace).Get(ctx, name, metav1.GetOptions{})
	return classify(sts, err)
}

// CreateStatefulWorkload creates sts, treating AlreadyExists as Conflict.
func (g *Gateway) CreateStatefulWorkload(ctx context.Context, namespace string, sts *appsv1.StatefulSet) Result[*appsv1.StatefulSet] {
	created, err := g.clientset.AppsV1().StatefulSets(namespace).Create(ctx, sts, metav1.CreateOptions{})
	return classify(created, err)
}

// PatchStatefulWorkload merge-patches name from original to desired.
func (g *Gateway) PatchStatefulWorkload(
	ctx context.Context, namespace, name string, original, desired *appsv1.StatefulSet,
) Result[*appsv1.StatefulSet] {
	patch, err := buildMergePatch(original, desired)
	if err != nil {
		return transport[*appsv1.StatefulSet](err)
	}
	patched, err := g.clientset.AppsV1().StatefulSets(namespace).
		Patch(ctx, name, types.MergePatchType, patch, metav1.PatchOptions{})
	return classify(patched, err)
}

// PatchStatefulWorkloadReplicas patches only spec.replicas, used by the reap
// state machine to scale a workload to zero without clobbering the rest of
// the spec.
func (g *Gateway) PatchStatefulWorkloadReplicas(
	ctx context.Context, namespace, name string, replicas int32,
) Result[*appsv1.StatefulSet] {
	patch := []byte(fmt.Sprintf(`{"spec":{"replicas":%d}}`, replicas))
	patched, err := g.clientset.AppsV1().StatefulSets(namespace).
		Patch(ctx, name, types.MergePatchType, patch, metav1.PatchOptions{})
	return classify(patched, err)
}

// DeleteStatefulWorkload deletes name with orphanDependents=false, so any
// pods the StatefulSet controller still owns are cleaned up rather than
// orphaned.
func (g *Gateway) DeleteStatefulWorkload(ctx context.Context, namespace, name string) Result[struct{}] {
	propagation := metav1.DeletePropagationBackground
	err := g.clientset.AppsV1().StatefulSets(namespace).Delete(ctx, name, metav1.DeleteOptions{
		PropagationPolicy: &propagation,
	})
	return classify(struct{}{}, err)
}

// ListPodsByCluster lists pods carrying cluster=<name> in namespace.
func (g *Gateway) ListPodsByCluster(ctx context.Context, namespace, name string) Result[*corev1.PodList] {
	pods, err := g.clientset.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{
		LabelSelector: ClusterSelector(name),
	})
	return classify(pods, err)
}

// GetSecret fetches the named Secret.
func (g *Gateway) GetSecret(ctx context.Context, namespace, name string) Result[*corev1.Secret] {
	secret, err := g.clientset.CoreV1().Secrets(namespace).Get(ctx, name, metav1.GetOptions{})
	return classify(secret, err)
}

// CreateSecret creates secret, treating AlreadyExists as Conflict.
func (g *Gateway) CreateSecret(ctx context.Context, namespace string, secret *corev1.Secret) Result[*corev1.Secret] {
	created, err := g.clientset.CoreV1().Secrets(namespace).Create(ctx, secret, metav1.CreateOptions{})
	return classify(created, err)
}

// ListSecretsByCluster lists secrets carrying cluster=<name> in namespace.
func (g *Gateway) ListSecretsByCluster(ctx context.Context, namespace, name string) Result[*corev1.SecretList] {
	secrets, err := g.clientset.CoreV1().Secrets(namespace).List(ctx, metav1.ListOptions{
		LabelSelector: ClusterSelector(name),
	})
	return classify(secrets, err)
}

// ListAllServices lists every Service across all namespaces carrying the
// operator's label, for the sweeper's GC pass.
func (g *Gateway) ListAllServices(ctx context.Context) Result[*corev1.ServiceList] {
	svcs, err := g.clientset.CoreV1().Services(metav1.NamespaceAll).List(ctx, metav1.ListOptions{
		LabelSelector: labelOperatedBy + "=" + operatedByValue,
	})
	return classify(svcs, err)
}

func (g *Gateway) ListAllStatefulWorkloads(ctx context.Context) Result[*appsv1.StatefulSetList] {
	stss, err := g.clientset.AppsV1().StatefulSets(metav1.NamespaceAll).List(ctx, metav1.ListOptions{
		LabelSelector: labelOperatedBy + "=" + operatedByValue,
	})
	return classify(stss, err)
}

func (g *Gateway) ListAllSecrets(ctx context.Context) Result[*corev1.SecretList] {
	secrets, err := g.clientset.CoreV1().Secrets(metav1.NamespaceAll).List(ctx, metav1.ListOptions{
		LabelSelector: labelOperatedBy + "=" + operatedByValue,
	})
	return classify(secrets, err)
}

// GetCluster fetches the named MongoDBCluster custom resource.
func (g *Gateway) GetCluster(ctx context.Context, namespace, name string) Result[*mongodbv1.MongoDBCluster] {
	u, err := g.dynamic.Resource(mongoDBResource).Namespace(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return classify[*mongodbv1.MongoDBCluster](nil, err)
	}
	decl := &mongodbv1.MongoDBCluster{}
	if err := runtime.DefaultUnstructuredConverter.FromUnstructured(u.Object, decl); err != nil {
		return transport[*mongodbv1.MongoDBCluster](err)
	}
	return ok(decl)
}

// ListClusters lists every MongoDBCluster across all namespaces.
func (g *Gateway) ListClusters(ctx context.Context) Result[*mongodbv1.MongoDBClusterList] {
	list, err := g.dynamic.Resource(mongoDBResource).Namespace(metav1.NamespaceAll).List(ctx, metav1.ListOptions{})
	if err != nil {
		return classify[*mongodbv1.MongoDBClusterList](nil, err)
	}
	out := &mongodbv1.MongoDBClusterList{}
	if err := runtime.DefaultUnstructuredConverter.FromUnstructured(list.UnstructuredContent(), out); err != nil {
		return transport[*mongodbv1.MongoDBClusterList](err)
	}
	return ok(out)
}

// WatchClusters opens a watch stream against the mongodbs resource.
func (g *Gateway) WatchClusters(ctx context.Context, timeoutSeconds int64) (watch.Interface, error) {
	return g.dynamic.Resource(mongoDBResource).Namespace(metav1.NamespaceAll).Watch(ctx, metav1.ListOptions{
		TimeoutSeconds: &timeoutSeconds,
	})
}

// Exec runs command inside container of pod, returning combined stdout+stderr.
func (g *Gateway) Exec(ctx context.Context, namespace, pod, container string, command []string) (string, error) {
	req := g.clientset.CoreV1().RESTClient().Post().
		Resource("pods").
		Name(pod).
		Namespace(namespace).
		SubResource("exec")
	req.VersionedParams(&corev1.PodExecOptions{
		Container: container,
		Command:   command,
		Stdout:    true,
		Stderr:    true,
	}, scheme.ParameterCodec)

	exec, err := remotecommand.NewSPDYExecutor(g.restCfg, "POST", req.URL())
	if err != nil {
		return "", fmt.Errorf("building SPDY executor: %w", err)
	}

	var buf bytes.Buffer
	err = exec.StreamWithContext(ctx, remotecommand.StreamOptions{
		Stdout: &buf,
		Stderr: &buf,
	})
	return buf.String(), err
}

func buildMergePatch(original, desired interface{}) ([]byte, error) {
	originalRaw, err := runtime.DefaultUnstructuredConverter.ToUnstructured(original)
	if err != nil {
		return nil, fmt.Errorf("converting original object to unstructured: %w", err)
	}
	desiredRaw, err := runtime.DefaultUnstructuredConverter.ToUnstructured(desired)
	if err != nil {
		return nil, fmt.Errorf("converting desired object to unstructured: %w", err)
	}
	originalJSON, err := toJSON(originalRaw)
	if err != nil {
		return nil, err
	}
	desiredJSON, err := toJSON(desiredRaw)
	if err != nil {
		return nil, err
	}
	return jsonpatch.CreateMergePatch(originalJSON, desiredJSON)
}

func toJSON(v map[string]interface{}) ([]byte, error) {
	return json.Marshal(v)
}
