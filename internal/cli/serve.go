package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/brewkit/assistant-engine/internal/config"
	"github.com/brewkit/assistant-engine/internal/logger"
	"github.com/brewkit/assistant-engine/internal/metrics"
	"github.com/brewkit/assistant-engine/pkg/assistant"
	"github.com/brewkit/assistant-engine/pkg/engine"
	"github.com/brewkit/assistant-engine/pkg/server"
	"github.com/brewkit/assistant-engine/pkg/tools"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the assistant engine server",
	Long: `Run the HTTP/WebSocket/SSE server that drives assistant runs.
The server reads its assistant configuration from the config repository and
the API key from the OPENAI_API_KEY environment variable.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	level := cfg.Logging.Level
	if logLevel != "" {
		level = logLevel
	}

	appLogger, err := logger.New(logger.Config{
		Level:     level,
		File:      cfg.Logging.File,
		Console:   true,
		Pretty:    cfg.Logging.File == "",
		Redaction: cfg.Logging.Redaction,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()
	log := appLogger.GetZerolog()

	engineCfg, err := config.BuildEngineConfig(
		config.NewEnvSecretRepository(),
		config.NewFileConfigRepository(cfg.AssistantConfigPath),
	)
	if err != nil {
		return fmt.Errorf("failed to load assistant config: %w", err)
	}
	if engineCfg.AssistantID == "" {
		return fmt.Errorf("no assistant registered, run 'assistant-engine register' first")
	}

	m := metrics.New()

	registry := tools.NewRegistry(log)
	if err := tools.RegisterBuiltins(registry); err != nil {
		return fmt.Errorf("failed to register tools: %w", err)
	}

	client := assistant.NewOpenAIClient(engineCfg.APIKey)
	executor := engine.NewExecutor(registry, log, m)
	submitter := engine.NewSubmitter(client, log, m, cfg.Submission.Retries, float64(cfg.Submission.BaseBackoff))
	canceller := engine.NewCanceller(client, log, m)
	orchestrator := engine.NewOrchestrator(client, engineCfg, executor, submitter, canceller, log, m)

	srv, err := server.NewServer(server.Config{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		InitialMessage: engineCfg.InitialMessage,
		SSE: server.SSEConfig{
			HeartbeatInterval:     cfg.Stream.HeartbeatInterval,
			MaxConnectionDuration: cfg.Stream.MaxConnectionDuration,
			RetryInterval:         cfg.Stream.RetryInterval,
			MaxConnectionsPerIP:   cfg.Stream.MaxConnectionsPerIP,
		},
		Engine:  orchestrator,
		Logger:  log,
		Metrics: m,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	if err := srv.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	log.Info().
		Str("assistant_id", engineCfg.AssistantID).
		Str("assistant_name", engineCfg.AssistantName).
		Msg("Assistant engine started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")

	return srv.Stop()
}
