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
	"context"
	"crypto/tls"
	"flag"
	"os"
	"time"

	// Import all Kubernetes client auth plugins (e.g. Azure, GCP, OIDC, etc.)
	// to ensure that exec-entrypoint and run can make use of them.
	_ "k8s.io/client-go/plugin/pkg/client/auth"

	"github.com/slack-go/slack"
	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	"k8s.io/client-go/kubernetes"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
	"sigs.k8s.io/controller-runtime/pkg/metrics/filters"
	metricsserver "sigs.k8s.io/controller-runtime/pkg/metrics/server"

	"github.com/marcus-qen/autofix/internal/approval"
	"github.com/marcus-qen/autofix/internal/assembler"
	"github.com/marcus-qen/autofix/internal/chatops"
	"github.com/marcus-qen/autofix/internal/config"
	"github.com/marcus-qen/autofix/internal/controller"
	"github.com/marcus-qen/autofix/internal/executor"
	"github.com/marcus-qen/autofix/internal/notify"
	"github.com/marcus-qen/autofix/internal/provider"
	"github.com/marcus-qen/autofix/internal/runner"
	"github.com/marcus-qen/autofix/internal/state"
	"github.com/marcus-qen/autofix/internal/telemetry"
	"github.com/marcus-qen/autofix/internal/tools"
)

var (
	version  = "0.1.0"
	scheme   = runtime.NewScheme()
	setupLog = ctrl.Log.WithName("setup")
)

func init() {
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))
}

func main() {
	var configPath string
	var watchNamespace string
	var metricsAddr string
	var metricsCertPath, metricsCertName, metricsCertKey string
	var enableLeaderElection bool
	var probeAddr string
	var secureMetrics bool
	var enableHTTP2 bool
	var tlsOpts []func(*tls.Config)
	flag.StringVar(&configPath, "config", os.Getenv("AUTOFIX_CONFIG"),
		"Path to the controller settings file. Environment variables override file values.")
	flag.StringVar(&watchNamespace, "watch-namespace", "",
		"Namespace to watch for failing pods. Empty watches all namespaces.")
	flag.StringVar(&metricsAddr, "metrics-bind-address", "0", "The address the metrics endpoint binds to. "+
		"Use :8443 for HTTPS or :8080 for HTTP, or leave as 0 to disable the metrics service.")
	flag.StringVar(&probeAddr, "health-probe-bind-address", ":8081", "The address the probe endpoint binds to.")
	flag.BoolVar(&enableLeaderElection, "leader-elect", false,
		"Enable leader election for controller manager. "+
			"Enabling this will ensure there is only one active controller manager.")
	flag.BoolVar(&secureMetrics, "metrics-secure", true,
		"If set, the metrics endpoint is served securely via HTTPS. Use --metrics-secure=false to use HTTP instead.")
	flag.StringVar(&metricsCertPath, "metrics-cert-path", "",
		"The directory that contains the metrics server certificate.")
	flag.StringVar(&metricsCertName, "metrics-cert-name", "tls.crt", "The name of the metrics server certificate file.")
	flag.StringVar(&metricsCertKey, "metrics-cert-key", "tls.key", "The name of the metrics server key file.")
	flag.BoolVar(&enableHTTP2, "enable-http2", false,
		"If set, HTTP/2 will be enabled for the metrics server")
	opts := zap.Options{
		Development: true,
	}
	opts.BindFlags(flag.CommandLine)
	flag.Parse()

	ctrl.SetLogger(zap.New(zap.UseFlagOptions(&opts)))

	settings, err := config.Load(configPath)
	if err != nil {
		setupLog.Error(err, "Failed to load settings", "path", configPath)
		os.Exit(1)
	}

	shutdownTracer, err := telemetry.InitTraceProvider(context.Background(), settings.OTLPEndpoint, version)
	if err != nil {
		setupLog.Error(err, "Failed to initialise OTel tracing, continuing without traces")
	} else {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracer(ctx); err != nil {
				setupLog.Error(err, "Failed to shutdown OTel tracer")
			}
		}()
		if settings.OTLPEndpoint != "" {
			setupLog.Info("OTel tracing enabled", "endpoint", settings.OTLPEndpoint)
		}
	}

	// http/2 stays off unless asked for (HTTP/2 Stream Cancellation and Rapid Reset CVEs).
	if !enableHTTP2 {
		tlsOpts = append(tlsOpts, func(c *tls.Config) {
			setupLog.Info("Disabling HTTP/2")
			c.NextProtos = []string{"http/1.1"}
		})
	}

	metricsServerOptions := metricsserver.Options{
		BindAddress:   metricsAddr,
		SecureServing: secureMetrics,
		TLSOpts:       tlsOpts,
	}
	if secureMetrics {
		metricsServerOptions.FilterProvider = filters.WithAuthenticationAndAuthorization
	}
	if len(metricsCertPath) > 0 {
		setupLog.Info("Initializing metrics certificate watcher using provided certificates",
			"metrics-cert-path", metricsCertPath, "metrics-cert-name", metricsCertName, "metrics-cert-key", metricsCertKey)

		metricsServerOptions.CertDir = metricsCertPath
		metricsServerOptions.CertName = metricsCertName
		metricsServerOptions.KeyName = metricsCertKey
	}

	mgr, err := ctrl.NewManager(ctrl.GetConfigOrDie(), ctrl.Options{
		Scheme:                 scheme,
		Metrics:                metricsServerOptions,
		HealthProbeBindAddress: probeAddr,
		LeaderElection:         enableLeaderElection,
		LeaderElectionID:       "5c1e2f7a.autofix.io",
	})
	if err != nil {
		setupLog.Error(err, "Failed to start manager")
		os.Exit(1)
	}

	clientset, err := kubernetes.NewForConfig(mgr.GetConfig())
	if err != nil {
		setupLog.Error(err, "Failed to create clientset")
		os.Exit(1)
	}
	cluster := tools.NewCluster(clientset)

	// --- Prompt and policy files ---
	promptStore := config.NewStore(settings.ConfigDir, settings.PromptConfigMap, clientset, ctrl.Log.WithName("config"))
	if err := mgr.Add(config.NewReloader(promptStore, ctrl.Log.WithName("config-reload"))); err != nil {
		setupLog.Error(err, "Failed to add config reloader")
		os.Exit(1)
	}
	setupLog.Info("Prompt store initialised", "dir", settings.ConfigDir,
		"configMap", settings.PromptConfigMap.Namespace+"/"+settings.PromptConfigMap.Name)

	llm, err := provider.NewProvider(provider.ProviderConfig{
		Type:           settings.LLM.Provider,
		Endpoint:       settings.LLM.BaseURL,
		APIKey:         settings.LLM.APIKey,
		MaxRetries:     settings.LLM.MaxRetries,
		TimeoutSeconds: settings.LLM.TimeoutSeconds,
	})
	if err != nil {
		setupLog.Error(err, "Failed to create LLM provider", "provider", settings.LLM.Provider)
		os.Exit(1)
	}

	exec := executor.New(executor.ExecRunner{}, cluster, executor.Options{
		Verb:        settings.Verb,
		Timeout:     settings.ExecTimeout,
		SettleDelay: settings.VerifyDelay,
	}, ctrl.Log.WithName("executor"))

	store := state.NewStore(settings.SilenceThreshold)

	// --- Messaging ---
	var msgr notify.Messenger
	if settings.HasSlack() {
		api := slack.New(settings.Slack.BotToken)
		msgr = notify.NewSlackMessenger(api, settings.Slack.Channel, ctrl.Log.WithName("slack"))
		setupLog.Info("Slack messaging enabled", "channel", settings.Slack.Channel)
	} else {
		msgr = notify.NewLogMessenger(ctrl.Log.WithName("notify"))
		setupLog.Info("No Slack channel configured, messages go to the log")
	}

	pipeline := runner.New(runner.Deps{
		Gate:      state.NewGate(settings.Cooldown),
		Store:     store,
		Assembler: assembler.New(cluster, ctrl.Log.WithName("assembler")),
		Provider:  llm,
		Executor:  exec,
		Messenger: msgr,
		Config:    promptStore,
	}, runner.Options{
		Model: settings.LLM.Model,
		Verb:  settings.Verb,
	}, ctrl.Log.WithName("runner"))

	watcher := controller.NewPodWatcher(clientset, pipeline, controller.WatchOptions{
		Namespace: watchNamespace,
		SelfName:  settings.SelfName,
		Pacing:    settings.EventPacing,
		Backoff:   settings.ReconnectBackoff,
	}, ctrl.Log.WithName("podwatch"))
	if err := mgr.Add(watcher); err != nil {
		setupLog.Error(err, "Failed to add pod watcher")
		os.Exit(1)
	}

	// --- Interactive approvals and prompt editing ---
	if settings.HasSocketMode() {
		workflow := approval.NewWorkflow(exec, store, msgr, ctrl.Log.WithName("approval"))
		bot, err := chatops.NewSlackBot(chatops.SlackBotConfig{
			BotToken: settings.Slack.BotToken,
			AppToken: settings.Slack.AppToken,
			Command:  settings.Slack.Command,
		}, promptStore, workflow, msgr, ctrl.Log.WithName("chatops"))
		if err != nil {
			setupLog.Error(err, "Failed to create Slack bot")
			os.Exit(1)
		}
		if err := mgr.Add(bot); err != nil {
			setupLog.Error(err, "Failed to add Slack bot")
			os.Exit(1)
		}
		setupLog.Info("Slack socket mode enabled", "command", settings.Slack.Command)
	} else {
		setupLog.Info("Slack socket mode disabled, approval requests cannot be resolved",
			"reason", "slack app token not set")
	}

	if err := mgr.AddHealthzCheck("healthz", healthz.Ping); err != nil {
		setupLog.Error(err, "Failed to set up health check")
		os.Exit(1)
	}
	if err := mgr.AddReadyzCheck("readyz", healthz.Ping); err != nil {
		setupLog.Error(err, "Failed to set up ready check")
		os.Exit(1)
	}

	setupLog.Info("Starting manager", "version", version, "model", settings.LLM.Model, "verb", settings.Verb)
	if err := mgr.Start(ctrl.SetupSignalHandler()); err != nil {
		setupLog.Error(err, "Failed to run manager")
		os.Exit(1)
	}
}
