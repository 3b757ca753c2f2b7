package sota

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the sota engine.
type Config struct {
	// DBPath is the full path to the SQLite database file.
	// If empty, defaults to ~/.sota/<DBName>.db
	DBPath string `json:"db_path" yaml:"db_path"`

	// DBName is the name for the database (used when DBPath is empty).
	// Defaults to "sota". The file will be <DBName>.db inside the
	// storage directory (~/.sota/ or working dir).
	DBName string `json:"db_name" yaml:"db_name"`

	// StorageDir controls where the database is created when DBPath
	// is not explicitly set. Options: "home" (default) uses ~/.sota/,
	// "local" uses the current working directory.
	StorageDir string `json:"storage_dir" yaml:"storage_dir"`

	// LLM providers
	Chat      LLMConfig `json:"chat" yaml:"chat"`
	Embedding LLMConfig `json:"embedding" yaml:"embedding"`

	// Retrieval weights for RRF fusion. No component reads these fields:
	// DRIFT search ranks each phase by a single score without fusion.
	WeightVector float64 `json:"weight_vector" yaml:"weight_vector"`
	WeightFTS    float64 `json:"weight_fts" yaml:"weight_fts"`
	WeightGraph  float64 `json:"weight_graph" yaml:"weight_graph"`

	// Chunking (§4.1)
	MaxChunkTokens int `json:"max_chunk_tokens" yaml:"max_chunk_tokens"`
	ChunkOverlap   int `json:"chunk_overlap" yaml:"chunk_overlap"`

	// PaperAdder chunks documents at a smaller granularity than the
	// graph builder (§4.10 step 3a: "~500 tokens").
	FeatureChunkTokens int `json:"feature_chunk_tokens" yaml:"feature_chunk_tokens"`

	// Graph building
	SkipGraph        bool `json:"skip_graph" yaml:"skip_graph"`               // not read by any component; ingestion always builds the graph
	GraphConcurrency int  `json:"graph_concurrency" yaml:"graph_concurrency"` // max parallel model calls for graph extraction (default 16)

	// Community detection (§4.4 phase 3)
	MinCommunitySize int `json:"min_community_size" yaml:"min_community_size"` // default 3
	MaxCommunityLevel int `json:"max_community_level" yaml:"max_community_level"` // default 5

	// Recoverer (§4.6)
	RecovererMaxIterations int `json:"recoverer_max_iterations" yaml:"recoverer_max_iterations"` // default 2

	// DRIFT (§4.5)
	GlobalTopCommunities int     `json:"global_top_communities" yaml:"global_top_communities"` // default 5
	LocalTopUnits        int     `json:"local_top_units" yaml:"local_top_units"`                // default 10
	LocalConfidenceFloor float64 `json:"local_confidence_floor" yaml:"local_confidence_floor"`  // default 0.3

	// Expert-set deliberation (§4.7-4.11)
	MaxRounds                  int `json:"max_rounds" yaml:"max_rounds"`                                       // default 10
	ExtraContextPapersPerVote  int `json:"extra_context_papers_per_vote" yaml:"extra_context_papers_per_vote"` // default 2
	DocumentsToRemovePerRound  int `json:"documents_to_remove_per_round" yaml:"documents_to_remove_per_round"` // default 2
	NewFeaturesProposedPerChunk int `json:"new_features_per_chunk" yaml:"new_features_per_chunk"`             // default 3
	NewFeaturesKeptAfterDedup  int `json:"new_features_after_dedup" yaml:"new_features_after_dedup"`          // default 7

	// Embedding dimensions (must match model)
	EmbeddingDim int `json:"embedding_dim" yaml:"embedding_dim"`

	// Experts seeds the initial expert set by description; the engine
	// synthesizes each expert's survey and scratchpad at startup.
	Experts []string `json:"experts" yaml:"experts"`

	// Sources lists the external SourceAdapter names to wire, in
	// configured order. The first entry is used as the "survey" adapter
	// for get_survey_docs (§4.6).
	Sources []SourceConfig `json:"sources" yaml:"sources"`

	// Board controls the Kanban async task polling contract (§5).
	Board BoardConfig `json:"board" yaml:"board"`

	// InspectQueries turns on Info-level logging of every model call's
	// prompt and accepted response; it does not pause for user input
	// (the -i/--inspect-query CLI flag, §6). Threaded through config
	// rather than a module-level toggle (§9 design note).
	InspectQueries bool `json:"inspect_queries" yaml:"inspect_queries"`
}

// LLMConfig configures a single LLM provider endpoint.
type LLMConfig struct {
	Provider string `json:"provider" yaml:"provider"` // ollama, openai, custom
	Model    string `json:"model" yaml:"model"`
	BaseURL  string `json:"base_url" yaml:"base_url"`
	APIKey   string `json:"api_key" yaml:"api_key"`
	// APIKeyPool is handed to jsonmodel.Config.KeyPool, which stores it
	// without rotating keys; requests use APIKey.
	APIKeyPool []string `json:"api_key_pool,omitempty" yaml:"api_key_pool,omitempty"`
}

// SourceConfig names and configures one external SourceAdapter.
type SourceConfig struct {
	Name     string `json:"name" yaml:"name"`
	Kind     string `json:"kind" yaml:"kind"` // arxiv, semanticscholar, localfile
	BaseURL  string `json:"base_url" yaml:"base_url"`
	LocalDir string `json:"local_dir,omitempty" yaml:"local_dir,omitempty"`
}

// BoardConfig controls the cooperative polling contract for async tasks.
type BoardConfig struct {
	PollIntervalSeconds int `json:"poll_interval_seconds" yaml:"poll_interval_seconds"` // default 3
	TimeoutSeconds      int `json:"timeout_seconds" yaml:"timeout_seconds"`             // default 600
}

// DefaultConfig returns a Config with sensible defaults for local inference.
// Database is stored in ~/.sota/sota.db by default.
func DefaultConfig() Config {
	return Config{
		DBName:     "sota",
		StorageDir: "home",
		Chat: LLMConfig{
			Provider: "ollama",
			Model:    "llama3.1:8b",
			BaseURL:  "http://localhost:11434",
		},
		Embedding: LLMConfig{
			Provider: "ollama",
			Model:    "nomic-embed-text",
			BaseURL:  "http://localhost:11434",
		},
		WeightVector:                1.0,
		WeightFTS:                   1.0,
		WeightGraph:                 0.5,
		MaxChunkTokens:              3000,
		ChunkOverlap:                50,
		FeatureChunkTokens:          500,
		GraphConcurrency:            16,
		MinCommunitySize:            3,
		MaxCommunityLevel:           5,
		RecovererMaxIterations:      2,
		GlobalTopCommunities:        5,
		LocalTopUnits:               10,
		LocalConfidenceFloor:        0.3,
		MaxRounds:                   10,
		ExtraContextPapersPerVote:   2,
		DocumentsToRemovePerRound:   2,
		NewFeaturesProposedPerChunk: 3,
		NewFeaturesKeptAfterDedup:   7,
		EmbeddingDim:                768,
		Board: BoardConfig{
			PollIntervalSeconds: 3,
			TimeoutSeconds:      600,
		},
	}
}

// LoadConfig reads a YAML configuration file, overlaying it onto
// DefaultConfig so unset fields keep their defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config file: %w", err)
	}

	return cfg, nil
}

// resolveDBPath computes the final database path from config fields.
func (c *Config) resolveDBPath() string {
	if c.DBPath != "" {
		return c.DBPath
	}

	name := c.DBName
	if name == "" {
		name = "sota"
	}

	switch c.StorageDir {
	case "local", "cwd":
		return name + ".db"
	default: // "home" or empty
		home, err := os.UserHomeDir()
		if err != nil {
			return name + ".db" // fallback to cwd
		}
		dir := filepath.Join(home, ".sota")
		return filepath.Join(dir, name+".db")
	}
}
