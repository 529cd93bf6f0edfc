package env

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
	"go.uber.org/multierr"

	"github.com/luma/lantern/protocol"
)

type Config struct {
	Region    string `env:"LANTERN_REGION"`
	DebugHTTP bool   `env:"LANTERN_DEBUG_HTTP"`
	DebugLog  bool   `env:"LANTERN_DEBUG_LOG"`

	// Trace logs every frame a connection reads or writes
	Trace bool `env:"LANTERN_TRACE"`

	MaxFrameSize   int           `env:"LANTERN_MAX_FRAME_SIZE,default=8388608"`
	MaxDepth       int           `env:"LANTERN_MAX_DEPTH,default=64"`
	ReadBufferSize int           `env:"LANTERN_READ_BUFFER_SIZE,default=4096"`
	MaxConns       int           `env:"LANTERN_MAX_CONNS,default=10000"`
	IdleTimeout    time.Duration `env:"LANTERN_IDLE_TIMEOUT,default=0s"`
}

func LoadConfig(ctx context.Context) (*Config, error) {
	if err := godotenv.Load(".env.local"); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("Failed to load .env.local: %w", err)
		}
	}

	return loadConfig(ctx, envconfig.OsLookuper())
}

func loadConfig(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	config := Config{}

	if err := envconfig.ProcessWith(ctx, &config, lookuper); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate reports every setting that is out of range.
func (c *Config) Validate() (err error) {
	if c.MaxFrameSize < 1 {
		err = multierr.Append(err, fmt.Errorf("LANTERN_MAX_FRAME_SIZE must be positive, got %d", c.MaxFrameSize))
	}

	if c.MaxDepth < 1 {
		err = multierr.Append(err, fmt.Errorf("LANTERN_MAX_DEPTH must be positive, got %d", c.MaxDepth))
	}

	if c.ReadBufferSize < 1 {
		err = multierr.Append(err, fmt.Errorf("LANTERN_READ_BUFFER_SIZE must be positive, got %d", c.ReadBufferSize))
	}

	if c.MaxConns < 1 {
		err = multierr.Append(err, fmt.Errorf("LANTERN_MAX_CONNS must be positive, got %d", c.MaxConns))
	}

	if c.IdleTimeout < 0 {
		err = multierr.Append(err, fmt.Errorf("LANTERN_IDLE_TIMEOUT must not be negative, got %s", c.IdleTimeout))
	}

	return err
}

// Codec returns a codec enforcing the configured frame limits.
func (c *Config) Codec() *protocol.Codec {
	return protocol.NewCodec(
		protocol.WithMaxFrameSize(c.MaxFrameSize),
		protocol.WithMaxDepth(c.MaxDepth),
	)
}
