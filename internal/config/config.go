// internal/config/config.go
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for environment overrides, e.g. INPAINT_PREDICT_MODEL_PATH.
const EnvPrefix = "INPAINT_PREDICT"

// Config holds all configuration for a prediction run
type Config struct {
	Model   ModelConfig   `mapstructure:"model"`
	InDir   string        `mapstructure:"indir"`
	OutDir  string        `mapstructure:"outdir"`
	OutExt  string        `mapstructure:"out_ext"`
	OutKey  string        `mapstructure:"out_key"`
	Refine  bool          `mapstructure:"refine"`
	Device  string        `mapstructure:"device"`
	Dataset DatasetConfig `mapstructure:"dataset"`
	Refiner RefinerConfig `mapstructure:"refiner"`
	Runtime RuntimeConfig `mapstructure:"runtime"`

	// Ambient configuration
	Log      LogConfig      `mapstructure:"log"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Status   StatusConfig   `mapstructure:"status"`
	OTEL     OTELConfig     `mapstructure:"otel"`
	Progress ProgressConfig `mapstructure:"progress"`

	// Feature flags
	UseMockInference bool `mapstructure:"use_mock_inference"`
}

// ModelConfig locates the checkpoint directory and the weights file inside it.
type ModelConfig struct {
	Path       string `mapstructure:"path"`
	Checkpoint string `mapstructure:"checkpoint"`
}

// DatasetConfig is passed to the dataset constructor.
type DatasetConfig struct {
	Kind           string `mapstructure:"kind"`
	ImgSuffix      string `mapstructure:"img_suffix"`
	PadOutToModulo int    `mapstructure:"pad_out_to_modulo"`
}

// RefinerConfig tunes the iterative refinement path.
type RefinerConfig struct {
	DeviceIDs []int   `mapstructure:"device_ids"`
	NIters    int     `mapstructure:"n_iters"`
	Modulo    int     `mapstructure:"modulo"`
	Blend     float64 `mapstructure:"blend"`

	// HasDeviceIDs records whether device_ids was configured at all.
	HasDeviceIDs bool `mapstructure:"-"`
}

// RuntimeConfig is the explicit numeric backend setup applied when the model
// session is created.
type RuntimeConfig struct {
	IntraOpThreads int    `mapstructure:"intra_op_threads"`
	InterOpThreads int    `mapstructure:"inter_op_threads"`
	ONNXLibrary    string `mapstructure:"onnx_library"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

type StatusConfig struct {
	GRPCAddr string `mapstructure:"grpc_addr"`
}

type OTELConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type ProgressConfig struct {
	Redis string        `mapstructure:"redis"`
	TTL   time.Duration `mapstructure:"ttl"`
}

// Options controls where Load reads configuration from.
type Options struct {
	// File is an optional YAML/JSON/TOML config file.
	File string
	// Overrides are "dotted.key=value" assignments; values are parsed as YAML scalars or lists.
	Overrides []string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("model.path", "")
	v.SetDefault("model.checkpoint", "best.onnx")
	v.SetDefault("indir", "")
	v.SetDefault("outdir", "")
	v.SetDefault("out_ext", ".png")
	v.SetDefault("out_key", "inpainted")
	v.SetDefault("refine", false)
	v.SetDefault("device", "cuda")

	v.SetDefault("dataset.kind", "default")
	v.SetDefault("dataset.img_suffix", ".png")
	v.SetDefault("dataset.pad_out_to_modulo", 8)

	v.SetDefault("refiner.n_iters", 15)
	v.SetDefault("refiner.modulo", 8)
	v.SetDefault("refiner.blend", 0.5)

	v.SetDefault("runtime.intra_op_threads", 1)
	v.SetDefault("runtime.inter_op_threads", 1)
	v.SetDefault("runtime.onnx_library", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("metrics.addr", "")
	v.SetDefault("status.grpc_addr", "")
	v.SetDefault("otel.enabled", false)
	v.SetDefault("progress.redis", "")
	v.SetDefault("progress.ttl", 24*time.Hour)
	v.SetDefault("use_mock_inference", false)
}

// Load builds the configuration.
// Priority (highest to lowest): overrides > env vars > config file > defaults
func Load(opts Options) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// Environment variable configuration
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.File != "" {
		v.SetConfigFile(opts.File)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", opts.File, err)
		}
	}

	for _, kv := range opts.Overrides {
		key, val, err := ParseOverride(kv)
		if err != nil {
			return nil, err
		}
		v.Set(key, val)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Refiner.HasDeviceIDs = v.IsSet("refiner.device_ids")
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ParseOverride splits "a.b=value" and decodes value as YAML so that
// booleans, numbers and lists keep their types.
func ParseOverride(kv string) (string, any, error) {
	key, raw, ok := strings.Cut(kv, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return "", nil, fmt.Errorf("invalid override %q: expected key=value", kv)
	}
	if raw == "" {
		return key, "", nil
	}
	var val any
	if err := yaml.Unmarshal([]byte(raw), &val); err != nil {
		return "", nil, fmt.Errorf("invalid override %q: %w", kv, err)
	}
	return key, val, nil
}

func (c *Config) normalize() {
	if c.InDir != "" && !strings.HasSuffix(c.InDir, string(filepath.Separator)) {
		c.InDir += string(filepath.Separator)
	}
	if c.OutExt != "" && !strings.HasPrefix(c.OutExt, ".") {
		c.OutExt = "." + c.OutExt
	}
	c.Device = strings.ToLower(strings.TrimSpace(c.Device))
	c.Log.Level = strings.ToLower(c.Log.Level)
}

// CheckpointDir returns the directory holding config.yaml and models/.
func (c *Config) CheckpointDir() string { return c.Model.Path }

// TrainConfigPath returns <model.path>/config.yaml.
func (c *Config) TrainConfigPath() string { return filepath.Join(c.Model.Path, "config.yaml") }

// CheckpointPath returns <model.path>/models/<model.checkpoint>.
func (c *Config) CheckpointPath() string {
	return filepath.Join(c.Model.Path, "models", c.Model.Checkpoint)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Model.Path == "" && !c.UseMockInference {
		return fmt.Errorf("model.path is required when not using mock inference")
	}
	if c.Model.Checkpoint == "" && !c.UseMockInference {
		return fmt.Errorf("model.checkpoint is required when not using mock inference")
	}
	if c.InDir == "" {
		return fmt.Errorf("indir is required")
	}
	if c.OutDir == "" {
		return fmt.Errorf("outdir is required")
	}
	if c.OutExt == "" {
		return fmt.Errorf("out_ext cannot be empty")
	}
	if c.OutKey == "" {
		return fmt.Errorf("out_key cannot be empty")
	}
	switch c.Device {
	case "cuda", "gpu", "cpu":
	default:
		return fmt.Errorf("invalid device: %q (want cuda or cpu)", c.Device)
	}
	if c.Dataset.Kind != "default" {
		return fmt.Errorf("unsupported dataset.kind: %q", c.Dataset.Kind)
	}
	if c.Dataset.PadOutToModulo < 0 {
		return fmt.Errorf("invalid dataset.pad_out_to_modulo: %d", c.Dataset.PadOutToModulo)
	}
	if c.Runtime.IntraOpThreads <= 0 || c.Runtime.InterOpThreads <= 0 {
		return fmt.Errorf("runtime thread counts must be positive: intra=%d inter=%d",
			c.Runtime.IntraOpThreads, c.Runtime.InterOpThreads)
	}
	if c.Refine {
		if c.Refiner.NIters <= 0 {
			return fmt.Errorf("invalid refiner.n_iters: %d", c.Refiner.NIters)
		}
		if c.Refiner.Blend < 0 || c.Refiner.Blend > 1 {
			return fmt.Errorf("invalid refiner.blend: %v (want 0..1)", c.Refiner.Blend)
		}
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("invalid log.format: %q", c.Log.Format)
	}
	if c.Metrics.Addr != "" && c.Metrics.Addr == c.Status.GRPCAddr {
		return fmt.Errorf("metrics.addr and status.grpc_addr must be different")
	}
	return nil
}
