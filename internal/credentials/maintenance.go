/*
This file is part of the MongoDB operator.

Copyright (C) 2019-2021 EnterpriseDB Corporation.
*/

package credentials

import (
	"context"
	"time"

	"github.com/robfig/cron"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/kubestack/mongodb-operator/internal/log"
)

var maintLog = log.WithName("credentials")

const caExpiryWarningWindow = 30 * 24 * time.Hour

// ScheduleExpiryMaintenance registers an hourly diagnostic pass over every
// cluster's CA secret. It never rotates a CA; it only warns when one is
// close to expiring, leaving rotation to an operator-driven follow-up.
func ScheduleExpiryMaintenance(ctx context.Context, client kubernetes.Interface, namespace, caSecretSuffix string) error {
	c := cron.New()
	err := c.AddFunc("@every 1h", func() {
		checkAllCAs(ctx, client, namespace, caSecretSuffix)
	})
	if err != nil {
		return err
	}
	c.Start()
	return nil
}

func checkAllCAs(ctx context.Context, client kubernetes.Interface, namespace, caSecretSuffix string) {
	secrets, err := client.CoreV1().Secrets(namespace).List(ctx, metav1.ListOptions{
		LabelSelector: "operated-by=mongodb.operator.kubestack.com",
	})
	if err != nil {
		maintLog.Error("listing CA secrets for maintenance pass", "error", err)
		return
	}

	for i := range secrets.Items {
		checkOneCA(secrets.Items[i], caSecretSuffix)
	}
}

func checkOneCA(secret corev1.Secret, caSecretSuffix string) {
	if len(secret.Name) <= len(caSecretSuffix) || secret.Name[len(secret.Name)-len(caSecretSuffix):] != caSecretSuffix {
		return
	}

	certPEM, ok := secret.Data["ca.pem"]
	if !ok {
		return
	}

	expiring, notAfter, err := ExpiresWithin(certPEM, caExpiryWarningWindow)
	if err != nil {
		maintLog.Error("parsing CA certificate during maintenance pass", "secret", secret.Name, "error", err)
		return
	}
	if expiring {
		maintLog.Warn("CA certificate is nearing expiry", "secret", secret.Name, "notAfter", notAfter)
	}
}
