package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/brewkit/assistant-engine/internal/config"
	"github.com/brewkit/assistant-engine/internal/logger"
	"github.com/brewkit/assistant-engine/pkg/assistant"
	"github.com/brewkit/assistant-engine/pkg/tools"
)

var (
	registerName            string
	registerModel           string
	registerInstructions    string
	registerInitialMessage  string
	registerCodeInterpreter bool
	registerFileSearch      bool
)

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Register the assistant with the remote service",
	Long: `Create the remote assistant from the local configuration and store
the resulting assistant id in the config repository. Registered function
tools are advertised with their argument schemas.`,
	RunE: runRegister,
}

func init() {
	registerCmd.Flags().StringVar(&registerName, "name", "", "assistant name")
	registerCmd.Flags().StringVar(&registerModel, "model", "gpt-4o", "model to register the assistant with")
	registerCmd.Flags().StringVar(&registerInstructions, "instructions", "", "assistant system instructions")
	registerCmd.Flags().StringVar(&registerInitialMessage, "initial-message", "", "greeting returned by /start")
	registerCmd.Flags().BoolVar(&registerCodeInterpreter, "code-interpreter", false, "enable the code_interpreter tool")
	registerCmd.Flags().BoolVar(&registerFileSearch, "file-search", false, "enable the file_search tool")

	rootCmd.AddCommand(registerCmd)
}

func runRegister(cmd *cobra.Command, args []string) error {
	cfg, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	appLogger, err := logger.New(logger.Config{
		Level:     "info",
		Console:   true,
		Pretty:    true,
		Redaction: cfg.Logging.Redaction,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()
	log := appLogger.GetZerolog()

	configs := config.NewFileConfigRepository(cfg.AssistantConfigPath)

	// Start from the stored config when one exists, so re-registering keeps
	// prior settings unless a flag overrides them.
	engineCfg, err := configs.ReadConfig()
	if err != nil {
		engineCfg = &config.EngineAssistantConfig{}
	}
	if registerName != "" {
		engineCfg.AssistantName = registerName
	}
	if registerModel != "" {
		engineCfg.Model = registerModel
	}
	if registerInstructions != "" {
		engineCfg.Instructions = registerInstructions
	}
	if registerInitialMessage != "" {
		engineCfg.InitialMessage = registerInitialMessage
	}
	if cmd.Flags().Changed("code-interpreter") {
		engineCfg.CodeInterpreter = registerCodeInterpreter
	}
	if cmd.Flags().Changed("file-search") {
		engineCfg.FileSearch = registerFileSearch
	}

	if engineCfg.AssistantName == "" {
		return fmt.Errorf("assistant name is required, pass --name")
	}

	apiKey, err := config.NewEnvSecretRepository().AccessSecret(config.SecretOpenAIAPIKey)
	if err != nil {
		return err
	}

	registry := tools.NewRegistry(log)
	if err := tools.RegisterBuiltins(registry); err != nil {
		return fmt.Errorf("failed to register tools: %w", err)
	}

	var functions []assistant.FunctionSpec
	engineCfg.FunctionNames = nil
	for _, name := range registry.List() {
		def := registry.Get(name)
		functions = append(functions, assistant.FunctionSpec{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  registry.ParameterSchema(name),
		})
		engineCfg.FunctionNames = append(engineCfg.FunctionNames, name)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	client := assistant.NewOpenAIClient(apiKey)
	assistantID, err := client.CreateAssistant(ctx, assistant.AssistantSpec{
		Name:            engineCfg.AssistantName,
		Instructions:    engineCfg.Instructions,
		Model:           engineCfg.Model,
		CodeInterpreter: engineCfg.CodeInterpreter,
		FileSearch:      engineCfg.FileSearch,
		Functions:       functions,
	})
	if err != nil {
		return fmt.Errorf("failed to register assistant: %w", err)
	}

	engineCfg.AssistantID = assistantID
	if err := configs.WriteConfig(engineCfg); err != nil {
		return fmt.Errorf("failed to store assistant config: %w", err)
	}

	log.Info().
		Str("assistant_id", assistantID).
		Str("assistant_name", engineCfg.AssistantName).
		Str("model", engineCfg.Model).
		Int("function_count", len(functions)).
		Msg("Assistant registered")

	fmt.Printf("Registered assistant %s (%s)\n", engineCfg.AssistantName, assistantID)
	return nil
}
