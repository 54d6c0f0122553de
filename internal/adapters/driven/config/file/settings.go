// Package file provides TOML-backed settings persistence.
//
// Settings are stored in a single config.toml within the ragcore config
// directory and cover model endpoints, chunking parameters, and query
// defaults. Unset fields fall back to defaults on load.
package file

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pelletier/go-toml/v2"
)

// Provider names accepted in the settings file.
const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

// Settings is the persisted configuration of the pipeline.
type Settings struct {
	Embedding  ModelSettings `toml:"embedding"`
	Generation ModelSettings `toml:"generation"`
	Reranker   ModelSettings `toml:"reranker"`
	Chunking   ChunkSettings `toml:"chunking"`
	Query      QuerySettings `toml:"query"`
}

// ModelSettings selects and configures one model service.
type ModelSettings struct {
	// Provider is "ollama" or "openai".
	Provider string `toml:"provider"`

	// BaseURL overrides the provider's default endpoint.
	BaseURL string `toml:"base_url,omitempty"`

	// Model is the model name; empty uses the provider default.
	Model string `toml:"model,omitempty"`

	// APIKey is required for the openai provider.
	APIKey string `toml:"api_key,omitempty"`
}

// ChunkSettings mirrors the document processor parameters.
type ChunkSettings struct {
	ChunkSize    int `toml:"chunk_size"`
	ChunkOverlap int `toml:"chunk_overlap"`
	MinChunkSize int `toml:"min_chunk_size"`
}

// QuerySettings mirrors the query defaults.
type QuerySettings struct {
	TopK                int     `toml:"top_k"`
	RerankTopK          int     `toml:"rerank_top_k"`
	ConfidenceThreshold float64 `toml:"confidence_threshold"`
	EnableReranking     bool    `toml:"enable_reranking"`
}

// DefaultSettings returns the settings used when no file exists.
func DefaultSettings() Settings {
	return Settings{
		Embedding:  ModelSettings{Provider: ProviderOllama},
		Generation: ModelSettings{Provider: ProviderOllama},
		Reranker:   ModelSettings{Provider: ProviderOllama},
		Chunking: ChunkSettings{
			ChunkSize:    1000,
			ChunkOverlap: 200,
			MinChunkSize: 100,
		},
		Query: QuerySettings{
			TopK:                12,
			RerankTopK:          6,
			ConfidenceThreshold: 0.5,
			EnableReranking:     true,
		},
	}
}

// SettingsStore persists Settings as TOML.
type SettingsStore struct {
	mu       sync.RWMutex
	filePath string
	settings Settings
}

// NewSettingsStore creates a TOML settings store. If configDir is empty,
// defaults to ~/.ragcore. An existing config.toml is loaded; otherwise the
// store starts from defaults.
func NewSettingsStore(configDir string) (*SettingsStore, error) {
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		configDir = filepath.Join(home, ".ragcore")
	}

	if err := os.MkdirAll(configDir, 0700); err != nil {
		return nil, err
	}

	s := &SettingsStore{
		filePath: filepath.Join(configDir, "config.toml"),
		settings: DefaultSettings(),
	}

	if err := s.Load(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	return s, nil
}

// Settings returns a copy of the current settings.
func (s *SettingsStore) Settings() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// Update replaces the settings in memory. Call Save to persist.
func (s *SettingsStore) Update(settings Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = applyDefaults(settings)
}

// Load reads the settings file from disk. Missing fields keep their
// defaults.
func (s *SettingsStore) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.filePath)
	if err != nil {
		return err
	}

	settings := DefaultSettings()
	if err := toml.Unmarshal(data, &settings); err != nil {
		return fmt.Errorf("parsing %s: %w", s.filePath, err)
	}
	s.settings = applyDefaults(settings)

	return nil
}

// Save writes the settings file to disk.
func (s *SettingsStore) Save() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := toml.Marshal(s.settings)
	if err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}

	if err := os.WriteFile(s.filePath, data, 0600); err != nil {
		return fmt.Errorf("writing %s: %w", s.filePath, err)
	}

	return nil
}

// Path returns the settings file path.
func (s *SettingsStore) Path() string {
	return s.filePath
}

// applyDefaults fills zeroed numeric fields so a sparse file still yields a
// usable configuration.
func applyDefaults(settings Settings) Settings {
	defaults := DefaultSettings()

	if settings.Embedding.Provider == "" {
		settings.Embedding.Provider = defaults.Embedding.Provider
	}
	if settings.Generation.Provider == "" {
		settings.Generation.Provider = defaults.Generation.Provider
	}
	if settings.Reranker.Provider == "" {
		settings.Reranker.Provider = defaults.Reranker.Provider
	}
	if settings.Chunking.ChunkSize <= 0 {
		settings.Chunking.ChunkSize = defaults.Chunking.ChunkSize
	}
	if settings.Chunking.ChunkOverlap < 0 {
		settings.Chunking.ChunkOverlap = defaults.Chunking.ChunkOverlap
	}
	if settings.Chunking.MinChunkSize <= 0 {
		settings.Chunking.MinChunkSize = defaults.Chunking.MinChunkSize
	}
	if settings.Query.TopK <= 0 {
		settings.Query.TopK = defaults.Query.TopK
	}
	if settings.Query.RerankTopK <= 0 {
		settings.Query.RerankTopK = defaults.Query.RerankTopK
	}
	if settings.Query.ConfidenceThreshold <= 0 || settings.Query.ConfidenceThreshold > 1 {
		settings.Query.ConfidenceThreshold = defaults.Query.ConfidenceThreshold
	}

	return settings
}
