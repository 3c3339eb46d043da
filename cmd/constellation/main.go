package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/constellation-io/constellation/pkg/api"
	"github.com/constellation-io/constellation/pkg/config"
	"github.com/constellation-io/constellation/pkg/controller"
	"github.com/constellation-io/constellation/pkg/frame"
	"github.com/constellation-io/constellation/pkg/log"
	"github.com/constellation-io/constellation/pkg/worker"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "constellation",
	Short: "Constellation - resource-pinning reverse proxy",
	Long: `Constellation routes inbound HTTP requests to a fleet of long-lived
workers over persistent socket channels, pinning every resource path to
exactly one worker for as long as that worker stays healthy.

Built for workloads that cannot be sharded at request granularity:
SQLite files, stateful models, per-entity worlds, exclusive hardware.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Constellation version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.AddCommand(controllerCmd)
	rootCmd.AddCommand(workerCmd)
}

var controllerCmd = &cobra.Command{
	Use:   "controller",
	Short: "Run the Constellation controller",
	Long: `Run the controller: the public webserver, the worker-facing socket
channel, and the routing core between them.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")

		settings, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load settings: %w", err)
		}
		if err := initLogging(settings); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}

		ctrl := controller.New(settings)
		if err := ctrl.Start(nil); err != nil {
			return fmt.Errorf("failed to start controller: %w", err)
		}

		apiServer := api.NewServer(ctrl)
		webAddr := net.JoinHostPort(settings.Webserver.Hostname, fmt.Sprintf("%d", settings.Webserver.Port))
		errCh := make(chan error, 1)
		go func() {
			if err := apiServer.Start(webAddr); err != nil {
				errCh <- fmt.Errorf("webserver error: %w", err)
			}
		}()

		log.Info("Controller is running. Press Ctrl+C to stop.")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			log.Info("Shutting down...")
		case err := <-errCh:
			log.Errorf("webserver failed", err)
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			log.Errorf("failed to drain webserver", err)
		}
		ctrl.Stop()

		log.Info("Shutdown complete")
		return nil
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run a Constellation worker",
	Long: `Run a worker process that connects to a controller, announces itself,
and serves proxied requests. The bundled handler echoes request details;
real deployments embed pkg/worker with their own Handler.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		controllerURL, _ := cmd.Flags().GetString("controller")

		settings, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load settings: %w", err)
		}
		if err := initLogging(settings); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}

		w, err := worker.NewWorker(&worker.Config{
			ControllerURL:             controllerURL,
			ConnectionCheckIntervalMs: settings.Worker.ConnectionCheckIntervalMs,
		}, worker.HandlerFunc(echoHandler))
		if err != nil {
			return fmt.Errorf("failed to create worker: %w", err)
		}

		w.Start()
		log.Info("Worker is running. Press Ctrl+C to stop.")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		log.Info("Shutting down...")
		w.Stop()
		log.Info("Shutdown complete")
		return nil
	},
}

func init() {
	controllerCmd.Flags().String("config", "", "Path to settings file (default ./constellation.json)")

	workerCmd.Flags().String("config", "", "Path to settings file (default ./constellation.json)")
	workerCmd.Flags().String("controller", "http://127.0.0.1:9000", "Controller socket URL")
}

func initLogging(settings *config.Settings) error {
	return log.Init(log.Config{
		Level:      log.Level(settings.Logging.Level),
		JSONOutput: settings.Logging.Json,
		Colors:     settings.Logging.Colors,
		FilePath:   settings.Logging.File,
	})
}

// echoHandler answers every proxied request with a small JSON document
// describing what arrived
func echoHandler(ctx context.Context, req *frame.Frame) (*frame.Frame, error) {
	body := fmt.Sprintf(`{"method":%q,"path":%q,"query":%q,"received":%d}`,
		req.Method, req.Path(), req.Query(), len(req.Data))
	return frame.NewResponse(http.StatusOK, "application/json", nil, []byte(body))
}
