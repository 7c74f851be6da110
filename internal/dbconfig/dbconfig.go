// Package dbconfig implements typed, per-section configuration for the
// dataset-db core, translated from original_source's config.py
// (IngestionConfig/StorageConfig/IndexConfig/Config, each with its own
// env prefix). Loaded from an optional TOML file plus environment
// overrides via viper, the way nanostore's cmd/viper_methods.go binds
// flags/env onto a shared viper instance.
package dbconfig

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// IngestionConfig controls the ingestion/build pipeline's batching and
// compression behavior.
type IngestionConfig struct {
	BatchSize           int    `mapstructure:"batch_size"`
	MaxWorkers          int    `mapstructure:"max_workers"`
	RowGroupSize        int    `mapstructure:"row_group_size"`
	PartitionBufferSize int    `mapstructure:"partition_buffer_size"`
	MaxTotalBufferSize  int64  `mapstructure:"max_total_buffer_size"`
	Compression         string `mapstructure:"compression"`
	CompressionLevel    int    `mapstructure:"compression_level"`
}

// StorageConfig controls the record-file partition layout.
type StorageConfig struct {
	BasePath          string `mapstructure:"base_path"`
	DomainPrefixChars int    `mapstructure:"domain_prefix_chars"`
}

// IndexConfig controls index-building parameters.
type IndexConfig struct {
	PostingsShards int `mapstructure:"postings_shards"`
}

// Config is the top-level, composed configuration.
type Config struct {
	Ingestion IngestionConfig `mapstructure:"ingestion"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Index     IndexConfig     `mapstructure:"index"`
	LogLevel  string          `mapstructure:"log_level"`
}

// Defaults mirrors the field defaults in the original Pydantic settings
// classes.
func Defaults() Config {
	return Config{
		Ingestion: IngestionConfig{
			BatchSize:           1_000_000,
			MaxWorkers:          4,
			RowGroupSize:        128 * 1024 * 1024,
			PartitionBufferSize: 128 * 1024 * 1024,
			MaxTotalBufferSize:  1 * 1024 * 1024 * 1024,
			Compression:         "zstd",
			CompressionLevel:    6,
		},
		Storage: StorageConfig{
			BasePath:          "./data",
			DomainPrefixChars: 2,
		},
		Index: IndexConfig{
			PostingsShards: 1024,
		},
		LogLevel: "info",
	}
}

// envPrefixes maps each sub-config's viper key prefix to its original
// per-section environment-variable prefix (INGEST_/STORAGE_/INDEX_).
var envPrefixes = map[string]string{
	"ingestion": "INGEST",
	"storage":   "STORAGE",
	"index":     "INDEX",
}

// Load reads configPath (a TOML file; "" skips file loading) into a
// Config seeded with Defaults(), then lets environment variables of the
// form <SECTION_PREFIX>_<FIELD> override individual fields, matching the
// original's per-section env_prefix scheme.
func Load(configPath string) (Config, error) {
	cfg := Defaults()

	v := viper.New()
	v.SetConfigType("toml")
	setDefaults(v, cfg)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("dbconfig: read %s: %w", configPath, err)
		}
	}

	bindEnv(v, "ingestion", IngestionConfig{})
	bindEnv(v, "storage", StorageConfig{})
	bindEnv(v, "index", IndexConfig{})
	v.BindEnv("log_level", "DATASETDB_LOG_LEVEL")

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("dbconfig: unmarshal: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("ingestion.batch_size", cfg.Ingestion.BatchSize)
	v.SetDefault("ingestion.max_workers", cfg.Ingestion.MaxWorkers)
	v.SetDefault("ingestion.row_group_size", cfg.Ingestion.RowGroupSize)
	v.SetDefault("ingestion.partition_buffer_size", cfg.Ingestion.PartitionBufferSize)
	v.SetDefault("ingestion.max_total_buffer_size", cfg.Ingestion.MaxTotalBufferSize)
	v.SetDefault("ingestion.compression", cfg.Ingestion.Compression)
	v.SetDefault("ingestion.compression_level", cfg.Ingestion.CompressionLevel)
	v.SetDefault("storage.base_path", cfg.Storage.BasePath)
	v.SetDefault("storage.domain_prefix_chars", cfg.Storage.DomainPrefixChars)
	v.SetDefault("index.postings_shards", cfg.Index.PostingsShards)
	v.SetDefault("log_level", cfg.LogLevel)
}

// bindEnv wires every mapstructure-tagged field of an (empty) section
// struct to <PREFIX>_<FIELD_UPPER>, the way the original's
// SettingsConfigDict(env_prefix=...) does per section.
func bindEnv(v *viper.Viper, section string, fields any) {
	var keys []string
	switch fields.(type) {
	case IngestionConfig:
		keys = []string{"batch_size", "max_workers", "row_group_size", "partition_buffer_size", "max_total_buffer_size", "compression", "compression_level"}
	case StorageConfig:
		keys = []string{"base_path", "domain_prefix_chars"}
	case IndexConfig:
		keys = []string{"postings_shards"}
	}
	prefix := envPrefixes[section]
	for _, key := range keys {
		envVar := prefix + "_" + strings.ToUpper(key)
		_ = v.BindEnv(section+"."+key, envVar)
	}
}
