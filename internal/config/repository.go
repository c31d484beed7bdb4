package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// ConfigRepository reads and writes the assistant configuration
type ConfigRepository interface {
	ReadConfig() (*EngineAssistantConfig, error)
	WriteConfig(cfg *EngineAssistantConfig) error
}

// SecretRepository reads and writes deployment secrets
type SecretRepository interface {
	AccessSecret(name string) (string, error)
	WriteSecret(name string) error
}

// FileConfigRepository stores the assistant configuration as a JSON file
type FileConfigRepository struct {
	path string
}

// NewFileConfigRepository creates a file-backed config repository
func NewFileConfigRepository(path string) *FileConfigRepository {
	return &FileConfigRepository{path: path}
}

// ReadConfig reads the assistant configuration from disk
func (r *FileConfigRepository) ReadConfig() (*EngineAssistantConfig, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read assistant config: %w", err)
	}

	var cfg EngineAssistantConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse assistant config: %w", err)
	}

	return &cfg, nil
}

// WriteConfig writes the assistant configuration to disk
func (r *FileConfigRepository) WriteConfig(cfg *EngineAssistantConfig) error {
	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal assistant config: %w", err)
	}

	if err := os.WriteFile(r.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write assistant config: %w", err)
	}

	return nil
}

// EnvSecretRepository resolves secrets from environment variables
type EnvSecretRepository struct{}

// NewEnvSecretRepository creates an environment-backed secret repository
func NewEnvSecretRepository() *EnvSecretRepository {
	return &EnvSecretRepository{}
}

// AccessSecret reads a secret from the environment. Secret names map to
// upper-snake variables, e.g. "openai-api-key" -> "OPENAI_API_KEY".
func (r *EnvSecretRepository) AccessSecret(name string) (string, error) {
	key := envKey(name)
	value := os.Getenv(key)
	if value == "" {
		return "", fmt.Errorf("secret %q not set (env %s)", name, key)
	}
	return value, nil
}

// WriteSecret is a no-op for the environment backend
func (r *EnvSecretRepository) WriteSecret(_ string) error {
	return nil
}

func envKey(name string) string {
	key := make([]byte, 0, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c == '-' || c == '.':
			key = append(key, '_')
		case c >= 'a' && c <= 'z':
			key = append(key, c-'a'+'A')
		default:
			key = append(key, c)
		}
	}
	return string(key)
}

// MemorySecretRepository keeps secrets in memory, for tests and local runs
type MemorySecretRepository struct {
	secrets map[string]string
}

// NewMemorySecretRepository creates an in-memory secret repository
func NewMemorySecretRepository(secrets map[string]string) *MemorySecretRepository {
	if secrets == nil {
		secrets = make(map[string]string)
	}
	return &MemorySecretRepository{secrets: secrets}
}

// AccessSecret reads a secret from memory
func (r *MemorySecretRepository) AccessSecret(name string) (string, error) {
	value, ok := r.secrets[name]
	if !ok {
		return "", fmt.Errorf("secret %q not set", name)
	}
	return value, nil
}

// WriteSecret is a no-op for the memory backend
func (r *MemorySecretRepository) WriteSecret(_ string) error {
	return nil
}

// SecretOpenAIAPIKey is the secret name for the deployment's API key
const SecretOpenAIAPIKey = "openai-api-key"

// BuildEngineConfig assembles the runtime assistant configuration from the
// repository pair: the stored config plus the deployment secret.
func BuildEngineConfig(secrets SecretRepository, configs ConfigRepository) (*EngineAssistantConfig, error) {
	cfg, err := configs.ReadConfig()
	if err != nil {
		return nil, err
	}

	apiKey, err := secrets.AccessSecret(SecretOpenAIAPIKey)
	if err != nil {
		return nil, err
	}
	cfg.APIKey = apiKey

	return cfg, nil
}
