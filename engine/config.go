package engine

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/spaghettifunk/anima-shaders/engine/cache"
	"github.com/spaghettifunk/anima-shaders/engine/core"
	"github.com/spaghettifunk/anima-shaders/engine/renderer"
	"github.com/spaghettifunk/anima-shaders/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-shaders/engine/systems"
)

// DefaultConfigFile is read when no other path is given.
const DefaultConfigFile = "anima-shaders.toml"

type LogConfig struct {
	Level        string `toml:"level"`
	Prefix       string `toml:"prefix"`
	ReportCaller bool   `toml:"report_caller"`
}

type ShadersConfig struct {
	// Directory scanned for combined shader sources.
	SourceDir string `toml:"source_dir"`
	// Source extensions, earlier entries win when two files share a name.
	Extensions []string `toml:"extensions"`
}

type CacheConfig struct {
	Root    string `toml:"root"`
	Enabled bool   `toml:"enabled"`
}

type CompilerConfig struct {
	GLSLangBin    string `toml:"glslang_bin"`
	SPIRVCrossBin string `toml:"spirv_cross_bin"`
	// Extra glslangValidator arguments, split like a shell would.
	ExtraArgs     string `toml:"extra_args"`
	VulkanEnv     string `toml:"vulkan_env"`
	OpenGLVersion int    `toml:"opengl_version"`
}

type TargetsConfig struct {
	Vulkan   bool `toml:"vulkan"`
	OpenGL   bool `toml:"opengl"`
	EmitGLSL bool `toml:"emit_glsl"`
	// Version of emitted GLSL text.
	GLSLVersion int `toml:"glsl_version"`
}

type LimitsConfig struct {
	MaxResourcesPerStage uint32 `toml:"max_resources_per_stage"`
	MaxSamplers          uint32 `toml:"max_samplers"`
	MaxUniformBuffers    uint32 `toml:"max_uniform_buffers"`
	MaxStorageBuffers    uint32 `toml:"max_storage_buffers"`
	MaxStorageImages     uint32 `toml:"max_storage_images"`
}

type JobsConfig struct {
	Workers   int `toml:"workers"`
	QueueSize int `toml:"queue_size"`
}

/**
 * @brief The complete configuration of the shader pipeline, as read from TOML.
 */
type Config struct {
	Log      LogConfig      `toml:"log"`
	Shaders  ShadersConfig  `toml:"shaders"`
	Cache    CacheConfig    `toml:"cache"`
	Compiler CompilerConfig `toml:"compiler"`
	Targets  TargetsConfig  `toml:"targets"`
	Limits   LimitsConfig   `toml:"limits"`
	Jobs     JobsConfig     `toml:"jobs"`
}

func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level:        "info",
			Prefix:       "Shaders",
			ReportCaller: false,
		},
		Shaders: ShadersConfig{
			SourceDir:  "assets/shaders",
			Extensions: []string{".glsl", ".wgsl", ".shader"},
		},
		Cache: CacheConfig{
			Root:    "intermediate/shaders",
			Enabled: true,
		},
		Compiler: CompilerConfig{
			GLSLangBin:    "glslangValidator",
			SPIRVCrossBin: "spirv-cross",
			VulkanEnv:     "vulkan1.2",
			OpenGLVersion: 450,
		},
		Targets: TargetsConfig{
			Vulkan:      true,
			GLSLVersion: 330,
		},
		Limits: LimitsConfig{
			MaxResourcesPerStage: 16,
			MaxSamplers:          16,
			MaxUniformBuffers:    14,
			MaxStorageBuffers:    8,
			MaxStorageImages:     8,
		},
		Jobs: JobsConfig{
			Workers:   4,
			QueueSize: 64,
		},
	}
}

// LoadConfig reads a TOML file on top of the defaults. A missing file at the
// default location yields the defaults; any other missing file is an error.
func LoadConfig(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultConfigFile
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes TOML on top of the defaults and validates the result.
func ParseConfig(data []byte) (*Config, error) {
	config := DefaultConfig()
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(config); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return nil, fmt.Errorf("config: %s", strict.String())
		}
		var decodeErr *toml.DecodeError
		if errors.As(err, &decodeErr) {
			row, col := decodeErr.Position()
			return nil, fmt.Errorf("config line %d column %d: %w", row, col, err)
		}
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) Validate() error {
	if _, err := core.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("config log.level: %w", err)
	}
	if strings.TrimSpace(c.Shaders.SourceDir) == "" {
		return errors.New("config shaders.source_dir is empty")
	}
	if len(c.Shaders.Extensions) == 0 {
		return errors.New("config shaders.extensions is empty")
	}
	if c.Cache.Enabled && strings.TrimSpace(c.Cache.Root) == "" {
		return errors.New("config cache.root is empty while the cache is enabled")
	}
	if !c.Targets.Vulkan && !c.Targets.OpenGL {
		return fmt.Errorf("%w: enable targets.vulkan or targets.opengl", core.ErrUnknownTarget)
	}
	if c.Jobs.Workers <= 0 {
		return fmt.Errorf("config jobs.workers: %w", core.ErrNoWorkers)
	}
	if c.Jobs.QueueSize < 0 {
		return fmt.Errorf("config jobs.queue_size: %w", core.ErrNegativeChannelSize)
	}
	return nil
}

// Marshal renders the configuration as TOML.
func (c *Config) Marshal() ([]byte, error) {
	return toml.Marshal(c)
}

func (c *Config) LoggerOptions() (core.LoggerOptions, error) {
	level, err := core.ParseLevel(c.Log.Level)
	if err != nil {
		return core.LoggerOptions{}, err
	}
	return core.LoggerOptions{
		Level:        level,
		Prefix:       c.Log.Prefix,
		ReportCaller: c.Log.ReportCaller,
	}, nil
}

// Target is the primary target: Vulkan when enabled, OpenGL otherwise.
func (c *Config) Target() metadata.Target {
	if c.Targets.Vulkan {
		return metadata.TargetVulkan
	}
	return metadata.TargetOpenGL
}

func (c *Config) CacheConfig() cache.Config {
	return cache.Config{Root: c.Cache.Root, Enabled: c.Cache.Enabled}
}

func (c *Config) SystemManagerConfig() *systems.SystemManagerConfig {
	return &systems.SystemManagerConfig{
		Shader: systems.ShaderSystemConfig{
			Target:             c.Target(),
			CrossCompileOpenGL: c.Targets.Vulkan && c.Targets.OpenGL,
			EmitGLSL:           c.Targets.EmitGLSL,
			Limits: renderer.Limits{
				MaxResourcesPerStage: c.Limits.MaxResourcesPerStage,
				MaxSamplers:          c.Limits.MaxSamplers,
				MaxUniformBuffers:    c.Limits.MaxUniformBuffers,
				MaxStorageBuffers:    c.Limits.MaxStorageBuffers,
				MaxStorageImages:     c.Limits.MaxStorageImages,
			},
		},
		Workers:   c.Jobs.Workers,
		QueueSize: c.Jobs.QueueSize,
	}
}
