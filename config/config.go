// Package config loads the service configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"proteinml/align"
	"proteinml/ml"

	"gopkg.in/yaml.v2"
)

// ErrInvalid is returned by Validate.
var ErrInvalid = errors.New("invalid config")

type Config struct {
	Http       HttpConfig       `yaml:"http"`
	Log        LogConfig        `yaml:"log"`
	Database   DatabaseConfig   `yaml:"database"`
	ML         MLConfig         `yaml:"ml"`
	Align      AlignConfig      `yaml:"align"`
	Cache      CacheConfig      `yaml:"cache"`
	Properties PropertiesConfig `yaml:"properties"`
}

type HttpConfig struct {
	Port           int           `yaml:"port"`
	Timeout        time.Duration `yaml:"timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Console    bool   `yaml:"console"`
}

type DatabaseConfig struct {
	Path      string `yaml:"path"`
	EnableWAL bool   `yaml:"enable_wal"`
}

type MLConfig struct {
	ModelsDir    string  `yaml:"models_dir"`
	DefaultModel string  `yaml:"default_model"`
	LabelsPath   string  `yaml:"labels_path"`
	K            int     `yaml:"k"`
	Dim          int     `yaml:"dim"`
	Threshold    float64 `yaml:"threshold"`
	TopK         int     `yaml:"top_k"`
	Watch        bool    `yaml:"watch"`
	LoadedModels int     `yaml:"loaded_models"`
	OnnxLibrary  string  `yaml:"onnx_library"`
	OnnxInput    string  `yaml:"onnx_input"`
	OnnxOutput   string  `yaml:"onnx_output"`
	OnnxPositive float64 `yaml:"onnx_positive"`
}

type AlignConfig struct {
	Match     float64 `yaml:"match"`
	Mismatch  float64 `yaml:"mismatch"`
	GapOpen   float64 `yaml:"gap_open"`
	GapExtend float64 `yaml:"gap_extend"`
	MaxCells  int64   `yaml:"max_cells"`
	Workers   int     `yaml:"workers"`
	MaxPairs  int     `yaml:"max_pairs"`
}

type CacheConfig struct {
	Size int `yaml:"size"`
}

type PropertiesConfig struct {
	Command string        `yaml:"command"`
	Args    []string      `yaml:"args"`
	Timeout time.Duration `yaml:"timeout"`
	Retries uint64        `yaml:"retries"`
}

// Default returns the configuration used when a key is absent.
func Default() *Config {
	return &Config{
		Http: HttpConfig{
			Port:           8001,
			Timeout:        30 * time.Second,
			AllowedOrigins: []string{"*"},
			MaxBodyBytes:   1 << 20,
		},
		Log: LogConfig{
			Level:      "info",
			File:       "logs/protein-ml.log",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
			Console:    true,
		},
		Database: DatabaseConfig{
			Path:      "data/analysis.db",
			EnableWAL: true,
		},
		ML: MLConfig{
			ModelsDir:    "models",
			DefaultModel: "lightgbm_best",
			LabelsPath:   "models/labels.json",
			K:            3,
			Dim:          1000,
			Threshold:    0.3,
			TopK:         20,
			LoadedModels: 4,
			OnnxInput:    "input",
			OnnxOutput:   "probabilities",
			OnnxPositive: 0.5,
		},
		Align: AlignConfig{
			Match:     2,
			Mismatch:  -1,
			GapOpen:   -2,
			GapExtend: -0.5,
			MaxCells:  25_000_000,
			MaxPairs:  100,
		},
		Cache: CacheConfig{Size: 1024},
		Properties: PropertiesConfig{
			Command: "python3",
			Args:    []string{"scripts/protparam.py"},
			Timeout: 10 * time.Second,
			Retries: 2,
		},
	}
}

// Load reads path over the defaults and validates the result.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	config := Default()
	if err := yaml.NewDecoder(file).Decode(config); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
		}
	}

	check(c.Http.Port > 0 && c.Http.Port < 65536, "http.port %d", c.Http.Port)
	check(c.Http.Timeout >= 0, "http.timeout %s", c.Http.Timeout)
	check(c.Http.MaxBodyBytes >= 0, "http.max_body_bytes %d", c.Http.MaxBodyBytes)
	check(c.ML.K > 0, "ml.k %d", c.ML.K)
	check(c.ML.Dim > 0, "ml.dim %d", c.ML.Dim)
	check(c.ML.TopK > 0, "ml.top_k %d", c.ML.TopK)
	check(c.ML.Threshold >= 0 && c.ML.Threshold <= 1, "ml.threshold %v", c.ML.Threshold)
	check(c.ML.LoadedModels >= 0, "ml.loaded_models %d", c.ML.LoadedModels)
	check(c.Align.MaxCells >= 0, "align.max_cells %d", c.Align.MaxCells)
	check(c.Align.Workers >= 0, "align.workers %d", c.Align.Workers)
	check(c.Align.MaxPairs >= 0, "align.max_pairs %d", c.Align.MaxPairs)
	check(c.Cache.Size >= 0, "cache.size %d", c.Cache.Size)
	check(c.Properties.Timeout >= 0, "properties.timeout %s", c.Properties.Timeout)
	return errors.Join(errs...)
}

// Scheme returns the alignment scoring scheme.
func (c AlignConfig) Scheme() align.Scheme {
	return align.Scheme{
		Match:     c.Match,
		Mismatch:  c.Mismatch,
		GapOpen:   c.GapOpen,
		GapExtend: c.GapExtend,
	}
}

// RegistryOptions maps the ml section onto the model registry.
func (c MLConfig) RegistryOptions() ml.RegistryOptions {
	return ml.RegistryOptions{
		Dir:           c.ModelsDir,
		LabelsPath:    c.LabelsPath,
		Vectorizer:    ml.KmerVectorizer{K: c.K, Dim: c.Dim},
		DecodeOptions: ml.DecodeOptions{Threshold: c.Threshold, TopK: c.TopK},
		Onnx: ml.OnnxOptions{
			SharedLibrary:   c.OnnxLibrary,
			InputName:       c.OnnxInput,
			OutputName:      c.OnnxOutput,
			BinaryThreshold: c.OnnxPositive,
		},
		CacheSize: c.LoadedModels,
	}
}
