/*
This file is part of the MongoDB operator.

Copyright (C) 2019-2021 EnterpriseDB Corporation.
*/

// Package controller holds nine of the ten reconciliation components (the
// credential factory lives in internal/credentials): the typed
// cluster-API gateway, the object builders, the resource-version cache,
// the reap and bootstrap state machines, the reconcile core, the periodic
// sweeper, the watch-driven event listener and the supervisor that wires
// them together.
package controller

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/utils/ptr"

	mongodbv1 "github.com/kubestack/mongodb-operator/api/v1"
	"github.com/kubestack/mongodb-operator/internal/log"
)

var buildersLog = log.WithName("builders")

const (
	labelOperatedBy = "operated-by"
	labelHeritage   = "heritage"
	labelCluster    = "cluster"
	labelMonitoring = "monitoring.kubestack.com"

	operatedByValue = "mongodb.operator.kubestack.com"
	heritageValue   = "kubestack.com"
	monitoringValue = "metrics"

	mongodContainerName  = "mongod"
	metricsContainerName = "metrics-exporter"
	certInitName         = "cert-init"

	mongodPort  = 27017
	metricsPort = 9001
)

// defaultLabels returns the label set every derived object carries. When
// name is non-empty, a cluster=<name> entry is added, matching the way
// owned objects are found again during garbage collection.
func defaultLabels(name string) map[string]string {
	l := map[string]string{
		labelOperatedBy: operatedByValue,
		labelHeritage:   heritageValue,
	}
	if name != "" {
		l[labelCluster] = name
	}
	return l
}

// labelSelector renders l as a comma-joined k=v selector string.
func labelSelector(l map[string]string) string {
	sel := ""
	for k, v := range l {
		if sel != "" {
			sel += ","
		}
		sel += k + "=" + v
	}
	return sel
}

// ClusterSelector returns the selector matching every object owned by
// the named cluster, used by the sweeper's garbage-collection pass.
func ClusterSelector(name string) string {
	return labelSelector(map[string]string{labelCluster: name})
}

// BuildService returns the headless Service fronting the replica set.
func BuildService(decl *mongodbv1.MongoDBCluster) *corev1.Service {
	labels := defaultLabels(decl.Name)
	svcLabels := defaultLabels(decl.Name)
	svcLabels[labelMonitoring] = monitoringValue

	return &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:      decl.Name,
			Namespace: decl.Namespace,
			Labels:    svcLabels,
		},
		Spec: corev1.ServiceSpec{
			ClusterIP: corev1.ClusterIPNone,
			Selector:  labels,
			Ports: []corev1.ServicePort{
				{
					Name:       "mongodb",
					Port:       mongodPort,
					TargetPort: intstr.FromInt32(mongodPort),
					Protocol:   corev1.ProtocolTCP,
				},
				{
					Name:       "metrics",
					Port:       metricsPort,
					TargetPort: intstr.FromInt32(metricsPort),
					Protocol:   corev1.ProtocolTCP,
				},
			},
		},
	}
}

// BuildSecret returns a Secret named <name><suffix> carrying stringData,
// labelled the same way every other derived object is.
func BuildSecret(decl *mongodbv1.MongoDBCluster, suffix string, stringData map[string]string) *corev1.Secret {
	return &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{
			Name:      decl.Name + suffix,
			Namespace: decl.Namespace,
			Labels:    defaultLabels(decl.Name),
		},
		StringData: stringData,
	}
}

// BuildStatefulWorkload returns the StatefulSet running the mongod and
// metrics-exporter containers, with the cert-init init container staging
// the TLS material generated by the credential factory.
func BuildStatefulWorkload(decl *mongodbv1.MongoDBCluster) *appsv1.StatefulSet {
	replicas := decl.ReplicasOrDefault()
	labels := defaultLabels(decl.Name)

	logImageVersion(decl)

	podSpec := corev1.PodSpec{
		InitContainers: []corev1.Container{buildCertInitContainer(decl)},
		Containers: []corev1.Container{
			buildMongodContainer(decl),
			buildMetricsContainer(decl),
		},
		Volumes: []corev1.Volume{
			{
				Name: "mongo-ca",
				VolumeSource: corev1.VolumeSource{
					Projected: &corev1.ProjectedVolumeSource{
						Sources: []corev1.VolumeProjection{
							{
								Secret: &corev1.SecretProjection{
									LocalObjectReference: corev1.LocalObjectReference{Name: decl.Name + "-ca"},
									Items: []corev1.KeyToPath{
										{Key: "ca.pem", Path: "ca.pem"},
										{Key: "ca-key.pem", Path: "ca-key.pem"},
									},
								},
							},
						},
					},
				},
			},
			{
				Name:         "mongo-tls",
				VolumeSource: corev1.VolumeSource{EmptyDir: &corev1.EmptyDirVolumeSource{}},
			},
			{
				Name:         "mongo-data",
				VolumeSource: corev1.VolumeSource{EmptyDir: &corev1.EmptyDirVolumeSource{}},
			},
		},
		Affinity: buildAntiAffinity(decl.Name),
	}

	return &appsv1.StatefulSet{
		ObjectMeta: metav1.ObjectMeta{
			Name:      decl.Name,
			Namespace: decl.Namespace,
			Labels:    labels,
		},
		Spec: appsv1.StatefulSetSpec{
			ServiceName: decl.Name,
			Replicas:    ptr.To(replicas),
			Selector:    &metav1.LabelSelector{MatchLabels: labels},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec:       podSpec,
			},
		},
	}
}

func buildMongodContainer(decl *mongodbv1.MongoDBCluster) corev1.Container {
	return corev1.Container{
		Name:  mongodContainerName,
		Image: mongodbv1.DefaultMongodbImage,
		Command: []string{
			"mongod",
			"--auth",
			"--replSet", decl.Name,
			"--sslMode", "requireSSL",
			"--clusterAuthMode", "x509",
			"--sslPEMKeyFile", "/etc/ssl/mongod/mongod.pem",
			"--sslCAFile", "/etc/ssl/mongod/ca.pem",
		},
		Ports: []corev1.ContainerPort{
			{Name: "mongodb", ContainerPort: mongodPort, Protocol: corev1.ProtocolTCP},
		},
		Resources: corev1.ResourceRequirements{
			Limits: corev1.ResourceList{
				corev1.ResourceCPU:    resource.MustParse(decl.LimitCPUOrDefault()),
				corev1.ResourceMemory: resource.MustParse(decl.LimitMemoryOrDefault()),
			},
		},
		VolumeMounts: []corev1.VolumeMount{
			{Name: "mongo-tls", MountPath: "/etc/ssl/mongod", ReadOnly: true},
			{Name: "mongo-data", MountPath: "/data/db"},
		},
	}
}

func buildMetricsContainer(decl *mongodbv1.MongoDBCluster) corev1.Container {
	monitoringSecret := decl.Name + "-monitoring-credentials"
	return corev1.Container{
		Name:  metricsContainerName,
		Image: mongodbv1.DefaultMetricsExporterImage,
		Ports: []corev1.ContainerPort{
			{Name: "metrics", ContainerPort: metricsPort, Protocol: corev1.ProtocolTCP},
		},
		Env: []corev1.EnvVar{
			{
				Name: "MONGODB_USER",
				ValueFrom: &corev1.EnvVarSource{
					SecretKeyRef: &corev1.SecretKeySelector{
						LocalObjectReference: corev1.LocalObjectReference{Name: monitoringSecret},
						Key:                  "username",
					},
				},
			},
			{
				Name: "MONGODB_PASSWORD",
				ValueFrom: &corev1.EnvVarSource{
					SecretKeyRef: &corev1.SecretKeySelector{
						LocalObjectReference: corev1.LocalObjectReference{Name: monitoringSecret},
						Key:                  "password",
					},
				},
			},
		},
		Resources: corev1.ResourceRequirements{
			Limits: corev1.ResourceList{
				corev1.ResourceCPU:    resource.MustParse("50m"),
				corev1.ResourceMemory: resource.MustParse("16Mi"),
			},
		},
	}
}

func buildCertInitContainer(decl *mongodbv1.MongoDBCluster) corev1.Container {
	return corev1.Container{
		Name:    certInitName,
		Image:   mongodbv1.DefaultInitContainerImage,
		Command: []string{"ansible-playbook", "member-cert.yml"},
		Env: []corev1.EnvVar{
			{
				Name: "METADATA_NAME",
				ValueFrom: &corev1.EnvVarSource{
					FieldRef: &corev1.ObjectFieldSelector{FieldPath: "metadata.name"},
				},
			},
			{
				Name: "NAMESPACE",
				ValueFrom: &corev1.EnvVarSource{
					FieldRef: &corev1.ObjectFieldSelector{FieldPath: "metadata.namespace"},
				},
			},
		},
		VolumeMounts: []corev1.VolumeMount{
			{Name: "mongo-ca", MountPath: "/etc/ssl/mongod-ca", ReadOnly: true},
			{Name: "mongo-tls", MountPath: "/etc/ssl/mongod"},
		},
	}
}

func buildAntiAffinity(clusterName string) *corev1.Affinity {
	return &corev1.Affinity{
		PodAntiAffinity: &corev1.PodAntiAffinity{
			RequiredDuringSchedulingIgnoredDuringExecution: []corev1.PodAffinityTerm{
				{
					LabelSelector: &metav1.LabelSelector{
						MatchLabels: map[string]string{labelCluster: clusterName},
					},
					TopologyKey: "kubernetes.io/hostname",
				},
			},
		},
	}
}

// logImageVersion parses the configured mongod image tag purely as a
// startup diagnostic; a parse failure never blocks building the object,
// since the tag is a free-form string as far as the API server cares.
func logImageVersion(decl *mongodbv1.MongoDBCluster) {
	tag := imageTag(mongodbv1.DefaultMongodbImage)
	v, err := semver.NewVersion(tag)
	if err != nil {
		buildersLog.Warn("could not parse mongod image tag as semver", "tag", tag, "error", err)
		return
	}
	buildersLog.Info(fmt.Sprintf("using mongod image tag %s (parsed version %s)", tag, v.String()))
}

func imageTag(image string) string {
	for i := len(image) - 1; i >= 0; i-- {
		if image[i] == ':' {
			return image[i+1:]
		}
	}
	return image
}
