/*
This file is part of the MongoDB operator.

Copyright (C) 2019-2021 EnterpriseDB Corporation.
*/

package controller

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/atomic"
	apiextensionsclientset "k8s.io/apiextensions-apiserver/pkg/client/clientset/clientset"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/rest"

	"github.com/kubestack/mongodb-operator/internal/log"
)

var supervisorLog = log.WithName("supervisor")

// MongoDBClusterCRDName is the name the mongodbs CRD must be registered
// under for the supervisor to start.
const MongoDBClusterCRDName = "mongodbs.operator.kubestack.com"

// Supervisor owns the shutdown signal and starts the sweeper and listener
// on two independent workers. The CRD presence check is a separate step,
// AssertCRDRegistered, which main runs before building the Supervisor.
type Supervisor struct {
	sweeper      *Sweeper
	listener     *Listener
	shuttingDown atomic.Bool
	metricsAddr  string
}

// NewSupervisor wires a Supervisor around an already-constructed sweeper
// and listener.
func NewSupervisor(sweeper *Sweeper, listener *Listener, metricsAddr string) *Supervisor {
	return &Supervisor{sweeper: sweeper, listener: listener, metricsAddr: metricsAddr}
}

// AssertCRDRegistered confirms the mongodbs CRD is registered in the
// cluster the restCfg points at, exiting the startup sequence with an
// error when it is not — the startup failure named in the design.
func AssertCRDRegistered(ctx context.Context, cfg *rest.Config) error {
	cs, err := apiextensionsclientset.NewForConfig(cfg)
	if err != nil {
		return fmt.Errorf("building apiextensions clientset: %w", err)
	}
	_, err = cs.ApiextensionsV1().CustomResourceDefinitions().Get(ctx, MongoDBClusterCRDName, metav1.GetOptions{})
	if err != nil {
		return fmt.Errorf("mongodbs CRD not registered: %w", err)
	}
	return nil
}

// Run starts the sweeper and listener workers plus the /metrics server,
// then blocks until ctx is cancelled, at which point it flips the
// shutdown flag and waits for both workers to join.
func (s *Supervisor) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		s.sweeper.Run(ctx, s.shuttingDown.Load)
	}()
	go func() {
		defer wg.Done()
		s.listener.Run(ctx, s.shuttingDown.Load)
	}()

	srv := s.startMetricsServer()

	<-ctx.Done()
	s.shuttingDown.Store(true)
	supervisorLog.Info("shutdown signal received, waiting for workers to finish")

	wg.Wait()

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}

	supervisorLog.Info("all workers joined, exiting")
}

// startMetricsServer exposes internal/metrics's Prometheus registry on
// /metrics as a third, non-blocking background goroutine. It is not part
// of the two-worker cancellation protocol; it is torn down after both
// workers have joined.
func (s *Supervisor) startMetricsServer() *http.Server {
	if s.metricsAddr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: s.metricsAddr, Handler: mux}

	ln, err := net.Listen("tcp", s.metricsAddr)
	if err != nil {
		supervisorLog.Error("could not start metrics server", "addr", s.metricsAddr, "error", err)
		return nil
	}

	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			supervisorLog.Error("metrics server stopped unexpectedly", "error", err)
		}
	}()

	return srv
}
