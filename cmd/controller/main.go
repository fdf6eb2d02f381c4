/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	_ "k8s.io/client-go/plugin/pkg/client/auth"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
	"sigs.k8s.io/controller-runtime/pkg/metrics/server"

	jiemiv1alpha1 "github.com/scalaric/decryptor/api/v1alpha1"
	"github.com/scalaric/decryptor/internal/agentrpc"
	"github.com/scalaric/decryptor/internal/config"
	"github.com/scalaric/decryptor/internal/controller"
	"github.com/scalaric/decryptor/internal/credentials"
)

var scheme = runtime.NewScheme()

func init() {
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))
	utilruntime.Must(jiemiv1alpha1.AddToScheme(scheme))
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("decryptor_controller")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:   "decryptor-controller",
		Short: "Reconciles Decryptor objects by driving the repository agent and applying rendered manifests",
		RunE: func(cobraCmd *cobra.Command, args []string) error {
			return run(v.GetString("metrics-bind-address"), v.GetString("health-probe-bind-address"), v.GetBool("leader-elect"), v.GetBool("development"))
		},
	}

	cmd.Flags().String("metrics-bind-address", ":8080", "The address the metrics endpoint binds to")
	cmd.Flags().String("health-probe-bind-address", ":8081", "The address the probe endpoint binds to")
	cmd.Flags().Bool("leader-elect", true, "Enable leader election for the controller manager")
	cmd.Flags().Bool("development", false, "Enable development-mode (human-readable) logging")
	_ = v.BindPFlags(cmd.Flags())
	return cmd
}

func run(metricsAddr, probeAddr string, leaderElect, developmentLogging bool) error {
	ctrl.SetLogger(zap.New(zap.UseDevMode(developmentLogging)))
	setupLog := ctrl.Log.WithName("setup")

	var env config.ControllerEnv
	if err := env.Parse(); err != nil {
		setupLog.Error(err, "failed to parse controller environment options")
		return err
	}

	mgr, err := ctrl.NewManager(ctrl.GetConfigOrDie(), ctrl.Options{
		Scheme: scheme,
		Metrics: server.Options{
			BindAddress: metricsAddr,
		},
		HealthProbeBindAddress: probeAddr,
		LeaderElection:         leaderElect,
		LeaderElectionID:       "miwen-decryptor-controller",
	})
	if err != nil {
		setupLog.Error(err, "unable to start manager")
		return err
	}

	conn, err := grpc.NewClient(env.AgentAddress,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype("json")),
	)
	if err != nil {
		setupLog.Error(err, "unable to dial agent", "address", env.AgentAddress)
		return err
	}
	agentClient := agentrpc.NewClient(conn)

	resolver := credentials.NewResolver(mgr.GetClient())
	applier := controller.NewApplier(mgr.GetClient())

	reconciler := &controller.DecryptorReconciler{
		Client:   mgr.GetClient(),
		State:    controller.NewGenerationState(),
		Resolver: resolver,
		Applier:  applier,
		Agent:    agentClient,
	}
	if err := reconciler.SetupWithManager(mgr); err != nil {
		setupLog.Error(err, "unable to create controller", "controller", "Decryptor")
		return err
	}

	syncer, err := controller.NewSyncer(mgr.GetClient(), resolver, applier, agentClient, ctrl.Log.WithName("sync"))
	if err != nil {
		setupLog.Error(err, "unable to build periodic syncer")
		return err
	}
	if err := syncer.Start(ctrl.SetupSignalHandler(), env.SyncInterval); err != nil {
		setupLog.Error(err, "unable to start periodic syncer")
		return err
	}
	defer func() { _ = syncer.Stop() }()

	if err := mgr.AddHealthzCheck("healthz", healthz.Ping); err != nil {
		setupLog.Error(err, "unable to set up health check")
		return err
	}
	if err := mgr.AddReadyzCheck("readyz", healthz.Ping); err != nil {
		setupLog.Error(err, "unable to set up ready check")
		return err
	}

	setupLog.Info("starting manager")
	if err := mgr.Start(ctrl.SetupSignalHandler()); err != nil {
		setupLog.Error(err, "problem running manager")
		return err
	}
	return nil
}
