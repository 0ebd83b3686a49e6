// Package cmd wires flecsd's cobra command: flag/config binding, daemon
// construction, and graceful shutdown (grounded on the teacher's
// pkg/kubernetes-mcp-server/cmd/root.go, adapted from an MCP stdio/SSE
// server to an HTTP daemon over a Unix socket per spec §6).
package cmd

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"k8s.io/klog/v2"
	"k8s.io/klog/v2/textlogger"

	v2 "github.com/scoutflo/flecsd-core/api/v2"
	"github.com/scoutflo/flecsd-core/internal/app"
	"github.com/scoutflo/flecsd-core/internal/config"
	"github.com/scoutflo/flecsd-core/internal/core"
	"github.com/scoutflo/flecsd-core/internal/instance"
	"github.com/scoutflo/flecsd-core/internal/jeweler"
	"github.com/scoutflo/flecsd-core/internal/jeweler/deployment/docker"
	"github.com/scoutflo/flecsd-core/internal/quest"
	"github.com/scoutflo/flecsd-core/internal/sorcerer"
	"github.com/scoutflo/flecsd-core/internal/vault"
	"github.com/scoutflo/flecsd-core/pkg/health"
)

// defaultDeploymentID names the single Docker adapter the daemon connects on
// startup; spec §6's HTTP surface names no multi-deployment routing.
const defaultDeploymentID core.DeploymentID = "docker"

var rootCmd = &cobra.Command{
	Use:   "flecsd [options]",
	Short: "flecs instance daemon",
	Long: `
flecs instance daemon

  # start with defaults
  flecsd

  # start against a specific config file
  flecsd --config /etc/flecs/flecsd.toml

  # start against a non-default Docker socket
  flecsd --docker-socket unix:///var/run/docker.sock`,
	RunE: run,
}

func init() {
	rootCmd.Flags().StringP("config", "c", "/etc/flecs/flecsd.toml", "Path to the flecsd config file (TOML or JSON, by extension)")
	rootCmd.Flags().StringP("docker-socket", "", "unix:///var/run/docker.sock", "Docker engine socket the default deployment connects to")
	rootCmd.Flags().IntP("log-level", "", 2, "Set the log level (0 to 9)")
	_ = viper.BindPFlags(rootCmd.Flags())
}

// Execute runs the root command, exiting the process on error (matching the
// teacher's Execute/panic convention).
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		panic(err)
	}
}

func run(_ *cobra.Command, _ []string) error {
	initLogging()

	fs := afero.NewOsFs()
	configPath := viper.GetString("config")
	cfg, err := config.Load(fs, configPath)
	if err != nil {
		klog.Warningf("flecsd: could not load %s, falling back to defaults: %v", configPath, err)
		cfg = config.Default()
	}

	v := vault.New(fs, cfg.BasePath)
	if err := v.Open(); err != nil {
		return fmt.Errorf("flecsd: open vault: %w", err)
	}
	defer func() {
		if err := v.Close(); err != nil {
			klog.Errorf("flecsd: close vault: %v", err)
		}
	}()

	watcher, err := config.Watch(fs, configPath, func(next *config.FlecsConfig) {
		klog.V(0).Infof("flecsd: config reloaded from %s", configPath)
		cfg = next
	})
	if err != nil {
		klog.Warningf("flecsd: config watch disabled: %v", err)
	} else {
		defer watcher.Close()
	}

	registry := jeweler.NewRegistry()
	dockerSocket := viper.GetString("docker-socket")
	dockerAdapter, err := docker.New(defaultDeploymentID, dockerSocket)
	if err != nil {
		return fmt.Errorf("flecsd: connect docker at %s: %w", dockerSocket, err)
	}
	registry.Register(dockerAdapter)
	defer dockerAdapter.Close()

	master := quest.NewMaster()
	defer func() {
		if err := master.ShutdownWith(func(ctx context.Context) error { return nil }); err != nil {
			klog.Errorf("flecsd: scheduler shutdown: %v", err)
		}
	}()

	instEngine := instance.NewEngine(registry, cfg.Instance.BasePath)
	appEngine := app.NewEngine(registry, instEngine)

	instSorcerer := sorcerer.NewInstanceSorcerer(v, master, instEngine)
	appSorcerer := sorcerer.NewAppSorcerer(v, master, appEngine)

	checker := health.NewHealthChecker()
	handler := v2.NewServer(instSorcerer, appSorcerer, master, defaultDeploymentID, checker)

	listener, err := listenUnix(cfg.FlecsdSocketPath)
	if err != nil {
		return fmt.Errorf("flecsd: listen on %s: %w", cfg.FlecsdSocketPath, err)
	}
	srv := &http.Server{Handler: handler}

	serveErr := make(chan error, 1)
	go func() {
		klog.V(0).Infof("flecsd: serving on %s", cfg.FlecsdSocketPath)
		checker.SetReady(true)
		if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		klog.V(0).Infof("flecsd: received signal %v, shutting down...", sig)
		checker.SetReady(false)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			klog.Warningf("flecsd: HTTP server shutdown timed out: %v", err)
		}
	case err := <-serveErr:
		return fmt.Errorf("flecsd: serve: %w", err)
	}
	return nil
}

// listenUnix binds a Unix domain socket at path, removing any stale socket
// file left behind by a prior crashed run (spec §6's flecsd_socket_path).
func listenUnix(path string) (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", filepath.Dir(path), err)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("remove stale socket %s: %w", path, err)
	}
	return net.Listen("unix", path)
}

func initLogging() {
	logLevel := viper.GetInt("log-level")
	if logLevel < 0 {
		logLevel = 2
	}

	logCfg := textlogger.NewConfig(
		textlogger.Output(os.Stderr),
		textlogger.Verbosity(logLevel),
	)
	logger := textlogger.NewLogger(logCfg)
	klog.SetLoggerWithOptions(logger)

	flagSet := flag.NewFlagSet("flecsd", flag.ContinueOnError)
	klog.InitFlags(flagSet)
	if err := flagSet.Parse([]string{"--v", strconv.Itoa(logLevel)}); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing log level: %v\n", err)
	}

	klog.V(0).Infof("flecsd: logging initialized at level %d", logLevel)
}
