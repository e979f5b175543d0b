package backend

import (
	"os"
	"time"

	"github.com/pkg/errors"

	"github.com/mteguhsat/aetros-cli/codec"
	"github.com/mteguhsat/aetros-cli/config"
	"github.com/mteguhsat/aetros-cli/util/envconst"
)

type Config struct {
	// Channels opened by the client. The empty string is the primary channel.
	Channels []string
	Codec    codec.Codec

	// A channel that never connected successfully takes the whole client
	// offline when its connect attempt fails.
	GoOfflineOnFirstFailedAttempt bool

	MaxBytesPerCycle int
	ChunkSize        int

	ReconnectDelay    time.Duration
	BackoffAfterTries int
	BackoffDelay      time.Duration

	CloseWaitWarnInterval time.Duration

	WriterIdle time.Duration
	ReaderIdle time.Duration
	ClosePoll  time.Duration
	ErrorGrace time.Duration

	InterceptInterrupt bool

	// OnFatal is invoked after a credential failure closed the client.
	// Defaults to exiting the process with status 1.
	OnFatal func(err error)
}

func DefaultConfig() Config {
	return Config{
		Channels:                      []string{""},
		Codec:                         codec.Msgpack,
		GoOfflineOnFirstFailedAttempt: true,
		MaxBytesPerCycle:              1 << 20,
		ChunkSize:                     100 * 1024,
		ReconnectDelay:                5 * time.Second,
		BackoffAfterTries:             10,
		BackoffDelay:                  15 * time.Second,
		CloseWaitWarnInterval:         5 * time.Second,
		WriterIdle:                    envconst.Duration("AETROS_WRITER_IDLE", 100*time.Millisecond),
		ReaderIdle:                    envconst.Duration("AETROS_READER_IDLE", 10*time.Millisecond),
		ClosePoll:                     envconst.Duration("AETROS_CLOSE_POLL", 100*time.Millisecond),
		ErrorGrace:                    envconst.Duration("AETROS_ERROR_GRACE", 100*time.Millisecond),
		InterceptInterrupt:            true,
		OnFatal:                       func(error) { os.Exit(1) },
	}
}

func ConfigFromConfig(in *config.ClientConfig) (Config, error) {
	c := DefaultConfig()
	if in == nil {
		return c, nil
	}
	cod, err := codec.ByName(in.Codec)
	if err != nil {
		return c, errors.Wrap(err, "cannot build codec")
	}
	c.Codec = cod
	if in.Channels != nil {
		c.Channels = append([]string(nil), (*in.Channels)...)
	}
	c.GoOfflineOnFirstFailedAttempt = in.GoOfflineOnFirstFailedAttempt
	c.MaxBytesPerCycle = in.MaxBytesPerCycle
	c.ChunkSize = in.ChunkSize
	c.ReconnectDelay = in.ReconnectDelay
	c.BackoffAfterTries = in.BackoffAfterTries
	c.BackoffDelay = in.BackoffDelay
	c.CloseWaitWarnInterval = in.CloseWaitWarnInterval
	return c, c.validate()
}

func (c *Config) validate() error {
	if len(c.Channels) == 0 {
		return errors.New("at least one channel required")
	}
	seen := make(map[string]bool, len(c.Channels))
	for _, name := range c.Channels {
		if seen[name] {
			return errors.Errorf("duplicate channel %q", name)
		}
		seen[name] = true
	}
	if c.Codec == nil {
		return errors.New("codec must be set")
	}
	if c.MaxBytesPerCycle <= 0 || c.ChunkSize <= 0 {
		return errors.New("max_bytes_per_cycle and chunk_size must be positive")
	}
	if c.BackoffAfterTries < 0 {
		return errors.New("backoff_after_tries must not be negative")
	}
	if c.OnFatal == nil {
		return errors.New("OnFatal must be set")
	}
	return nil
}
