package engine

import (
	"bytes"
	"io"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/pelletier/go-toml/v2"

	"github.com/spaghettifunk/keystone/engine/assets"
	"github.com/spaghettifunk/keystone/engine/core"
	"github.com/spaghettifunk/keystone/engine/renderer"
	"github.com/spaghettifunk/keystone/engine/renderer/metadata"
	"github.com/spaghettifunk/keystone/engine/resources"
	"github.com/spaghettifunk/keystone/engine/systems"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Duration decodes TOML strings such as "10s" or "250ms".
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

type EngineConfig struct {
	Name           string `toml:"name"`
	LogLevel       string `toml:"log_level"`
	FramesInFlight uint32 `toml:"frames_in_flight"`
	// GCInterval is the number of frames between two garbage collections.
	GCInterval uint64 `toml:"gc_interval"`
	// MaxFrames stops the loop after that many frames. Zero runs until
	// Stop is called.
	MaxFrames uint64 `toml:"max_frames"`
}

type ResourcesConfig struct {
	IndexBufferSize           uint64   `toml:"index_buffer_size"`
	VertexBufferSize          uint64   `toml:"vertex_buffer_size"`
	TextureDescriptorCapacity uint32   `toml:"texture_descriptor_capacity"`
	StorageDescriptorCapacity uint32   `toml:"storage_descriptor_capacity"`
	TransferTimeout           Duration `toml:"transfer_timeout"`
}

type JobsConfig struct {
	Workers   int `toml:"workers"`
	QueueSize int `toml:"queue_size"`
}

type AssetsConfig struct {
	BasePath             string `toml:"base_path"`
	Watch                bool   `toml:"watch"`
	MaxConcurrentDecodes int64  `toml:"max_concurrent_decodes"`
}

type DeviceConfig struct {
	Backend         string   `toml:"backend"`
	TransferLatency Duration `toml:"transfer_latency"`
	Debug           bool     `toml:"debug"`
}

type Config struct {
	Engine    EngineConfig    `toml:"engine"`
	Resources ResourcesConfig `toml:"resources"`
	Jobs      JobsConfig      `toml:"jobs"`
	Assets    AssetsConfig    `toml:"assets"`
	Device    DeviceConfig    `toml:"device"`
}

func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			Name:           "Keystone",
			LogLevel:       "info",
			FramesInFlight: 2,
			GCInterval:     10,
		},
		Resources: ResourcesConfig{
			IndexBufferSize:           100_000_000,
			VertexBufferSize:          100_000_000,
			TextureDescriptorCapacity: 4096,
			StorageDescriptorCapacity: 1024,
			TransferTimeout:           Duration(10 * time.Second),
		},
		Jobs: JobsConfig{
			Workers:   4,
			QueueSize: 64,
		},
		Assets: AssetsConfig{
			BasePath: "assets",
			Watch:    true,
		},
		Device: DeviceConfig{
			Backend: "headless",
		},
	}
}

// LoadConfig reads a TOML file over the defaults.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening config %s", path)
	}
	defer f.Close()
	config, err := DecodeConfig(f)
	if err != nil {
		return nil, errors.Wrapf(err, "config %s", path)
	}
	return config, nil
}

// ParseConfig decodes TOML data over the defaults.
func ParseConfig(data []byte) (*Config, error) {
	return DecodeConfig(bytes.NewReader(data))
}

func DecodeConfig(r io.Reader) (*Config, error) {
	config := DefaultConfig()
	if err := toml.NewDecoder(r).DisallowUnknownFields().Decode(config); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) Validate() error {
	switch {
	case c.Engine.FramesInFlight == 0:
		return errors.Wrap(ErrInvalidConfig, "engine.frames_in_flight must be positive")
	case c.Engine.GCInterval == 0:
		return errors.Wrap(ErrInvalidConfig, "engine.gc_interval must be positive")
	case c.Resources.IndexBufferSize == 0 || c.Resources.VertexBufferSize == 0:
		return errors.Wrap(ErrInvalidConfig, "resources buffer sizes must be positive")
	case c.Resources.TextureDescriptorCapacity < 2:
		// Slot 0 is reserved.
		return errors.Wrap(ErrInvalidConfig, "resources.texture_descriptor_capacity must be at least 2")
	case c.Resources.TransferTimeout <= 0:
		return errors.Wrap(ErrInvalidConfig, "resources.transfer_timeout must be positive")
	case c.Jobs.Workers <= 0:
		return errors.Wrap(ErrInvalidConfig, "jobs.workers must be positive")
	case c.Jobs.QueueSize < 0:
		return errors.Wrap(ErrInvalidConfig, "jobs.queue_size must not be negative")
	case c.Assets.BasePath == "":
		return errors.Wrap(ErrInvalidConfig, "assets.base_path is required")
	}
	if _, err := renderer.ParseRendererType(c.Device.Backend); err != nil {
		return errors.Wrap(ErrInvalidConfig, err.Error())
	}
	if c.Engine.LogLevel != "" {
		if err := core.SetLogLevel(c.Engine.LogLevel); err != nil {
			return errors.Wrapf(ErrInvalidConfig, "engine.log_level: %s", err)
		}
	}
	return nil
}

func (c *Config) descriptorCapacity() [metadata.DescriptorKindCount]uint32 {
	var capacity [metadata.DescriptorKindCount]uint32
	capacity[metadata.DescriptorKindCombinedImageSampler] = c.Resources.TextureDescriptorCapacity
	capacity[metadata.DescriptorKindStorageBuffer] = c.Resources.StorageDescriptorCapacity
	return capacity
}

func (c *Config) RendererConfig() renderer.RendererConfig {
	backend, _ := renderer.ParseRendererType(c.Device.Backend)
	return renderer.RendererConfig{
		Backend:            backend,
		TransferLatency:    time.Duration(c.Device.TransferLatency),
		FramesInFlight:     c.Engine.FramesInFlight,
		DescriptorCapacity: c.descriptorCapacity(),
		Debug:              c.Device.Debug,
	}
}

func (c *Config) ContextConfig() resources.ContextConfig {
	return resources.ContextConfig{
		FramesInFlight:     c.Engine.FramesInFlight,
		IndexBufferSize:    c.Resources.IndexBufferSize,
		VertexBufferSize:   c.Resources.VertexBufferSize,
		DescriptorCapacity: c.descriptorCapacity(),
		TransferTimeout:    time.Duration(c.Resources.TransferTimeout),
	}
}

func (c *Config) CatalogConfig() assets.CatalogConfig {
	return assets.CatalogConfig{
		BasePath:             c.Assets.BasePath,
		Watch:                c.Assets.Watch,
		MaxConcurrentDecodes: c.Assets.MaxConcurrentDecodes,
	}
}

func (c *Config) SystemManagerConfig() systems.SystemManagerConfig {
	return systems.SystemManagerConfig{
		Workers:     c.Jobs.Workers,
		QueueSize:   c.Jobs.QueueSize,
		LoadTimeout: time.Duration(c.Resources.TransferTimeout),
	}
}
