package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aretw0/parley"
	httpAdapter "github.com/aretw0/parley/pkg/adapters/http"
	"github.com/aretw0/parley/pkg/checkpoint"
	"github.com/aretw0/parley/pkg/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a workflow instance and the inspection API",
	Long: `Starts the HTTP inspection API (checkpoints, sessions, status events and metrics).
When a workflow id is configured, the instance also polls and flushes its sessions.`,
	Run: func(cmd *cobra.Command, args []string) {
		a := mustSetup(cmd)
		defer a.Close()

		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			a.cfg.HTTP.Addr = addr
		}
		if id, _ := cmd.Flags().GetString("workflow"); id != "" {
			a.cfg.WorkflowID = id
		}

		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics := observability.NewMetrics(reg)
		streams := httpAdapter.NewStreamManager(a.logger)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var inspector httpAdapter.Inspector = checkpoint.NewManager(a.store, checkpoint.WithLogger(a.logger))
		partyDone := make(chan error, 1)
		if a.cfg.WorkflowID != "" {
			opts := []parley.Option{
				parley.WithStore(a.store),
				parley.WithTransport(a.transport),
				parley.WithLogger(a.logger),
				parley.WithFlowName(a.cfg.FlowName),
				parley.WithEngineConfig(a.cfg.Engine),
				parley.WithPollBatch(a.cfg.Transport.BatchSize),
				parley.WithLifecycleHooks(observability.Combine(
					metrics.Hooks(),
					observability.LoggingHooks(a.logger),
					streams.Hooks(),
				)),
			}
			if a.locker != nil {
				opts = append(opts, parley.WithLocker(a.locker, a.cfg.Redis.LockTTL))
			}
			party, err := parley.New(a.cfg.WorkflowID, opts...)
			if err != nil {
				fmt.Printf("Error initializing workflow instance: %v\n", err)
				os.Exit(1)
			}
			inspector = party.Manager()

			go func() {
				a.logger.Info("workflow instance running", "workflow_id", a.cfg.WorkflowID, "poll_interval", a.cfg.PollInterval)
				partyDone <- party.Run(ctx, a.cfg.PollInterval)
			}()
		}

		srv := &http.Server{
			Addr: a.cfg.HTTP.Addr,
			Handler: httpAdapter.NewHandler(inspector,
				httpAdapter.WithGatherer(reg),
				httpAdapter.WithStreams(streams),
				httpAdapter.WithVersion(parley.Version),
				httpAdapter.WithLogger(a.logger),
			),
		}

		// Channel to listen for errors coming from the listener.
		serverErrors := make(chan error, 1)
		go func() {
			fmt.Printf("Starting Parley Server on %s\n", srv.Addr)
			serverErrors <- srv.ListenAndServe()
		}()

		select {
		case err := <-serverErrors:
			if !errors.Is(err, http.ErrServerClosed) {
				fmt.Printf("Server error: %v\n", err)
				os.Exit(1)
			}
		case err := <-partyDone:
			if err != nil {
				fmt.Printf("Workflow instance stopped: %v\n", err)
			}
		case <-ctx.Done():
			fmt.Println("\nStart shutdown...")
		}

		// Give outstanding requests a deadline for completion.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Graceful shutdown did not complete in %v: %v\n", 5*time.Second, err)
			if err := srv.Close(); err != nil {
				fmt.Printf("Error killing server: %v\n", err)
			}
		}
		fmt.Println("Parley Server stopped gracefully")
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "Listen address (overrides http.addr)")
	serveCmd.Flags().StringP("workflow", "w", "", "Workflow instance to run (overrides workflow_id)")
}
