// Package config carries runtime configuration for the store, the ingest
// pipeline and the job dispatcher. Values come from the environment first
// (the deployment surface is env-var driven); Load then overlays an optional
// TOML file, whose non-empty keys take precedence over the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Defaults for every tunable. The temp file paths are relative on purpose:
// ingest owns its working directory and two concurrent builds in the same
// directory are unsupported.
const (
	DefaultDBPath     = "bikidata.duckdb"
	DefaultTriplePath = "triples"
	DefaultMapPath    = "maps"
	DefaultStemmer    = "porter"
	DefaultRedisHost  = "localhost"

	DefaultWorkers        = 1
	DefaultReceiveTimeout = 60 * time.Second
	DefaultCacheTTL       = 7 * 24 * time.Hour

	// DefaultEmbedBatch is the embedding provider's batch ceiling. Cohere
	// rejects requests with more than 96 texts.
	DefaultEmbedBatch = 96
	DefaultEmbedDim   = 1536
	DefaultEmbedModel = "embed-v4.0"
)

type Config struct {
	Store     Store
	Ingest    Ingest
	Dispatch  Dispatch
	Embedding Embedding
}

type Store struct {
	// Path to the storage file. Created on first build.
	Path string
}

type Ingest struct {
	TriplePath string // interim hash-only triple stream
	MapPath    string // interim hash->string mapping stream
	Stemmer    string // FTS stemmer name handed to the engine
}

type Dispatch struct {
	RedisHost      string
	Workers        int
	ReceiveTimeout time.Duration // client-side wait on a ticket
	CacheTTL       time.Duration // lifetime of a cached query result
}

type Embedding struct {
	APIKey    string // COHERE_API_KEY; empty disables the semantic index
	Model     string
	Dimension int
	BatchSize int
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Store: Store{Path: DefaultDBPath},
		Ingest: Ingest{
			TriplePath: DefaultTriplePath,
			MapPath:    DefaultMapPath,
			Stemmer:    DefaultStemmer,
		},
		Dispatch: Dispatch{
			RedisHost:      DefaultRedisHost,
			Workers:        DefaultWorkers,
			ReceiveTimeout: DefaultReceiveTimeout,
			CacheTTL:       DefaultCacheTTL,
		},
		Embedding: Embedding{
			Model:     DefaultEmbedModel,
			Dimension: DefaultEmbedDim,
			BatchSize: DefaultEmbedBatch,
		},
	}
}

// FromEnv returns the default configuration with environment overrides
// applied.
func FromEnv() Config {
	cfg := Default()
	if v := os.Getenv("BIKIDATA_DB"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("BIKIDATA_TRIPLE_PATH"); v != "" {
		cfg.Ingest.TriplePath = v
	}
	if v := os.Getenv("BIKIDATA_MAP_PATH"); v != "" {
		cfg.Ingest.MapPath = v
	}
	if v := os.Getenv("REDIS_HOST"); v != "" {
		cfg.Dispatch.RedisHost = v
	}
	if v := os.Getenv("COHERE_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}
	if v := os.Getenv("BIKIDATA_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Dispatch.Workers = n
		}
	}
	return cfg
}

// fileConfig is the TOML shape. Only the keys that make sense in a checked-in
// file are exposed; credentials stay in the environment.
type fileConfig struct {
	DB         string `toml:"db"`
	TriplePath string `toml:"triple_path"`
	MapPath    string `toml:"map_path"`
	Stemmer    string `toml:"stemmer"`
	RedisHost  string `toml:"redis_host"`
	Workers    int    `toml:"workers"`
	TimeoutSec int    `toml:"receive_timeout_sec"`
	EmbedModel string `toml:"embed_model"`
	EmbedDim   int    `toml:"embed_dim"`
}

// Load returns FromEnv overlaid with the TOML file at path. A missing file is
// not an error; a malformed one is.
func Load(path string) (Config, error) {
	cfg := FromEnv()
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	var fc fileConfig
	if err := toml.Unmarshal(raw, &fc); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if fc.DB != "" {
		cfg.Store.Path = fc.DB
	}
	if fc.TriplePath != "" {
		cfg.Ingest.TriplePath = fc.TriplePath
	}
	if fc.MapPath != "" {
		cfg.Ingest.MapPath = fc.MapPath
	}
	if fc.Stemmer != "" {
		cfg.Ingest.Stemmer = fc.Stemmer
	}
	if fc.RedisHost != "" {
		cfg.Dispatch.RedisHost = fc.RedisHost
	}
	if fc.Workers > 0 {
		cfg.Dispatch.Workers = fc.Workers
	}
	if fc.TimeoutSec > 0 {
		cfg.Dispatch.ReceiveTimeout = time.Duration(fc.TimeoutSec) * time.Second
	}
	if fc.EmbedModel != "" {
		cfg.Embedding.Model = fc.EmbedModel
	}
	if fc.EmbedDim > 0 {
		cfg.Embedding.Dimension = fc.EmbedDim
	}
	return cfg, nil
}
