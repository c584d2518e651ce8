// Package main provides the transaction saga CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"txn-saga/src/config"
	"txn-saga/src/logger"
	"txn-saga/src/pipeline"
)

var appConfig *config.Config

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "txnsaga",
	Short: "Transaction saga services over a Kafka-compatible broker",
	Long: `txnsaga accepts transfer commands, runs each one through the
reserve / fraud check / commit-or-reverse saga, and relays the resulting
events to websocket subscribers.

Each service can run on its own against Redpanda:
- api:          HTTP ingress (POST /transactions) and event history
- orchestrator: consumes txn.commands, emits txn.events, dead-letters failures
- gateway:      websocket relay of txn.events

"run" starts all of them in one process over an in-memory broker.

Configuration comes from the environment; a .env file is loaded if present.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		_ = godotenv.Load()

		var err error
		appConfig, err = config.LoadFromEnv()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
			os.Exit(1)
		}
	},
}

func roleCommand(role pipeline.Role, short string) *cobra.Command {
	return &cobra.Command{
		Use:   string(role),
		Short: short,
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			serve(pipeline.DistributedMode, role)
		},
	}
}

// runCmd starts every role in-process
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run api, orchestrator and gateway in one process (in-memory broker)",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		serve(pipeline.InMemoryMode, pipeline.AllRoles...)
	},
}

func serve(mode pipeline.Mode, roles ...pipeline.Role) {
	log := logger.NewConsoleLoggerWithLevel(appConfig.LogLevel)

	log.Info("Starting txnsaga %v (%s mode)", roles, mode)
	if mode == pipeline.DistributedMode {
		log.Info("Brokers: %v", appConfig.Brokers)
	}

	// Setup context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info("Shutdown signal received, stopping...")
		cancel()
	}()

	p := pipeline.New(appConfig, mode, log)
	if err := p.Start(ctx, roles...); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start: %v\n", err)
		cancel()
		_ = p.Shutdown(context.Background())
		os.Exit(1)
	}

	<-ctx.Done()

	shutdownCtx, done := context.WithTimeout(context.Background(), pipeline.ShutdownTimeout)
	defer done()
	if err := p.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "Shutdown error: %v\n", err)
		os.Exit(1)
	}

	log.Info("txnsaga stopped")
}

func init() {
	rootCmd.AddCommand(
		roleCommand(pipeline.RoleAPI, "Run the HTTP ingress"),
		roleCommand(pipeline.RoleOrchestrator, "Run the saga orchestrator"),
		roleCommand(pipeline.RoleGateway, "Run the websocket event relay"),
		runCmd,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
