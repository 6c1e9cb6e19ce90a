/*
This file is part of the MongoDB operator.

Copyright (C) 2019-2021 EnterpriseDB Corporation.
*/

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"

	"github.com/kubestack/mongodb-operator/internal/controller"
	"github.com/kubestack/mongodb-operator/internal/credentials"
	"github.com/kubestack/mongodb-operator/internal/log"
)

var (
	periodicCheckInterval time.Duration
	eventListenerTimeout  time.Duration
	logLevel              string
	metricsAddr           string
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "mongodb-operator",
		Short:   "Operator managing MongoDB replica-set clusters declared as custom resources",
		Version: operatorVersion,
		RunE:    run,
	}

	cmd.Flags().DurationVar(&periodicCheckInterval, "periodic-check-interval", 25*time.Second,
		"interval between periodic sweeper ticks")
	cmd.Flags().DurationVar(&eventListenerTimeout, "event-listener-timeout", 25*time.Second,
		"server-side watch timeout for the event listener")
	cmd.Flags().StringVar(&logLevel, "loglevel", "info", "log verbosity (debug, info, warn, error)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":8080", "address the /metrics endpoint listens on")

	cmd.AddCommand(newCRDCommand())

	return cmd
}

func newCRDCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "crd",
		Short: "Print the mongodbs CustomResourceDefinition manifest to stdout",
		RunE: func(cmd *cobra.Command, _ []string) error {
			manifest, err := controller.RenderCRDManifestYAML()
			if err != nil {
				return fmt.Errorf("rendering CRD manifest: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(manifest)
			return err
		},
	}
}

const operatorVersion = "0.1.0"

func run(cmd *cobra.Command, _ []string) error {
	log.SetLevel(logLevel)

	cfg, err := rest.InClusterConfig()
	if err != nil {
		return fmt.Errorf("loading in-cluster credentials: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := controller.AssertCRDRegistered(ctx, cfg); err != nil {
		return err
	}

	gateway, err := controller.NewGateway(cfg)
	if err != nil {
		return fmt.Errorf("building gateway: %w", err)
	}

	clientset, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return fmt.Errorf("building clientset for maintenance job: %w", err)
	}
	if err := credentials.ScheduleExpiryMaintenance(ctx, clientset, "", "-ca"); err != nil {
		return fmt.Errorf("scheduling CA expiry maintenance: %w", err)
	}

	reconciler := controller.NewReconciler(gateway)
	sweeper := controller.NewSweeper(reconciler, gateway, periodicCheckInterval)
	listener := controller.NewListener(reconciler, gateway, eventListenerTimeout)
	supervisor := controller.NewSupervisor(sweeper, listener, metricsAddr)

	supervisor.Run(ctx)
	log.Sync()
	return nil
}
