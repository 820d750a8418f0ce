// Package config loads the tunables of the encoder and decoder from defaults,
// an optional YAML file and RSRAID_* environment variables.
package config

import (
	"strings"

	"github.com/spf13/viper"

	rserr "alexhalogen/rsraid/internal/errors"
	"alexhalogen/rsraid/internal/types"
)

const EnvPrefix = "RSRAID"

type Codec struct {
	// BufferBytes is the total stream buffer budget. Zero selects
	// MemCoefficient x free memory.
	BufferBytes    int64   `mapstructure:"buffer_bytes"`
	MemCoefficient float64 `mapstructure:"mem_coefficient"`
	// ParallelThreshold is the volume count from which matrix rows are
	// computed on all cores.
	ParallelThreshold int `mapstructure:"parallel_threshold"`
	// SliceWords is the number of words coded between two checkpoints. Zero
	// sizes the slice to the L2 cache.
	SliceWords int `mapstructure:"slice_words"`
}

type Split struct {
	BufferBytes  int `mapstructure:"buffer_bytes"`
	CBCBlockSize int `mapstructure:"cbc_block_size"`
}

type Defaults struct {
	DataCount int    `mapstructure:"data_count"`
	EccCount  int    `mapstructure:"ecc_count"`
	CodecType string `mapstructure:"codec_type"`
}

type Log struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

type Config struct {
	Codec    Codec    `mapstructure:"codec"`
	Split    Split    `mapstructure:"split"`
	Defaults Defaults `mapstructure:"defaults"`
	Log      Log      `mapstructure:"log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("codec.buffer_bytes", 0)
	v.SetDefault("codec.mem_coefficient", 0.25)
	v.SetDefault("codec.parallel_threshold", 128)
	v.SetDefault("codec.slice_words", 0)

	v.SetDefault("split.buffer_bytes", 1<<20)
	v.SetDefault("split.cbc_block_size", 1<<16)

	v.SetDefault("defaults.data_count", 4)
	v.SetDefault("defaults.ecc_count", 2)
	v.SetDefault("defaults.codec_type", "cauchy")

	v.SetDefault("log.level", "warning")
	v.SetDefault("log.file", "")
}

// Default returns the built-in configuration.
func Default() Config {
	c, err := Load("")
	if err != nil {
		panic(err)
	}
	return c
}

// Load reads the configuration. An empty path skips the config file.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, rserr.NewConfigError("config", "reading %s: %v", path, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, rserr.NewConfigError("config", "%v", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) Validate() error {
	if c.Split.CBCBlockSize <= 0 || c.Split.CBCBlockSize%32 != 0 {
		return rserr.NewConfigError("split.cbc_block_size", "must be a positive multiple of 32, got %d", c.Split.CBCBlockSize)
	}
	if c.Split.BufferBytes <= 0 {
		return rserr.NewConfigError("split.buffer_bytes", "must be positive, got %d", c.Split.BufferBytes)
	}
	if c.Codec.BufferBytes < 0 {
		return rserr.NewConfigError("codec.buffer_bytes", "must not be negative, got %d", c.Codec.BufferBytes)
	}
	if c.Codec.MemCoefficient <= 0 || c.Codec.MemCoefficient > 1 {
		return rserr.NewConfigError("codec.mem_coefficient", "must be in (0, 1], got %g", c.Codec.MemCoefficient)
	}
	if c.Codec.SliceWords < 0 {
		return rserr.NewConfigError("codec.slice_words", "must not be negative, got %d", c.Codec.SliceWords)
	}
	if _, err := types.ParseCodecType(c.Defaults.CodecType); err != nil {
		return err
	}
	return nil
}

// DefaultCoding returns the coding used when the command line gives none.
func (c Config) DefaultCoding() types.Coding {
	t, _ := types.ParseCodecType(c.Defaults.CodecType)
	return types.Coding{DataCount: c.Defaults.DataCount, EccCount: c.Defaults.EccCount, Type: t}
}
