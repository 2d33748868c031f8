package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/AK1OS/file-transfer/internal/errors"
)

// Constants for default values
const (
	DefaultThreads          = 4
	MinThreads              = 1
	MaxThreads              = 16
	DefaultBlockSize        = 8 * 1024 // 8KB
	DefaultTimeout          = 10 * time.Second
	DefaultProgressInterval = 200 * time.Millisecond
	DefaultDiscoveryPort    = 8888
	DefaultDiscoveryTimeout = 3 * time.Second

	// Status message limits, one read each
	SequentialStatusSize = 255
	DirectoryStatusSize  = 1023

	// File system constants
	HashBufferSize = 4 * 1024 * 1024 // 4MB
	LogDir         = "logs"
	LogDirPerms    = 0755
)

// Transfer modes accepted on the command line
const (
	ModeSequential = "sequential"
	ModeParallel   = "parallel"
	ModeDirectory  = "directory"
)

// Config holds all configuration parameters for the application
type Config struct {
	// Server location; discovery is skipped when ServerAddress is set
	ServerAddress    string
	DiscoveryPort    int
	DiscoveryTimeout time.Duration

	// One-shot transfer; interactive menu when Mode is empty
	Mode string
	Path string

	// Transfer parameters
	Threads          int
	BlockSize        int
	Timeout          time.Duration
	ProgressInterval time.Duration
	ShowProgress     bool
	VerifyHash       bool
}

// Default returns a Config populated with default values
func Default() *Config {
	return &Config{
		DiscoveryPort:    DefaultDiscoveryPort,
		DiscoveryTimeout: DefaultDiscoveryTimeout,
		Threads:          DefaultThreads,
		BlockSize:        DefaultBlockSize,
		Timeout:          DefaultTimeout,
		ProgressInterval: DefaultProgressInterval,
		ShowProgress:     true,
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Threads < MinThreads || c.Threads > MaxThreads {
		return errors.NewValidationError("threads", c.Threads,
			fmt.Sprintf("threads must be between %d and %d", MinThreads, MaxThreads))
	}
	if c.BlockSize <= 0 {
		return errors.NewValidationError("block", c.BlockSize, "block size must be positive")
	}
	if c.Timeout <= 0 {
		return errors.NewValidationError("timeout", c.Timeout, "timeout must be positive")
	}
	if c.ProgressInterval <= 0 {
		return errors.NewValidationError("progress-interval", c.ProgressInterval, "progress interval must be positive")
	}
	if c.ServerAddress == "" {
		if c.DiscoveryPort <= 0 || c.DiscoveryPort > 65535 {
			return errors.NewValidationError("discovery-port", c.DiscoveryPort, "discovery port out of range")
		}
		if c.DiscoveryTimeout <= 0 {
			return errors.NewValidationError("discovery-timeout", c.DiscoveryTimeout, "discovery timeout must be positive")
		}
	}

	switch c.Mode {
	case "":
	case ModeSequential, ModeParallel, ModeDirectory:
		if c.Path == "" {
			return errors.NewValidationError("path", c.Path, "path is required when mode is set")
		}
	default:
		return errors.NewValidationError("mode", c.Mode, "unknown transfer mode")
	}

	return nil
}

// ParseFlags parses command line arguments and returns a Config
func ParseFlags() (*Config, error) {
	return parseArgs(flag.CommandLine, nil)
}

func parseArgs(fs *flag.FlagSet, args []string) (*Config, error) {
	d := Default()

	serverAddr := fs.String("server", "", "Server address ip:port (skips discovery)")
	discoveryPort := fs.Int("discovery-port", d.DiscoveryPort, "UDP port used for server discovery")
	discoveryTimeout := fs.Duration("discovery-timeout", d.DiscoveryTimeout, "How long to wait for a discovery response")

	mode := fs.String("mode", "", "Transfer mode: sequential, parallel or directory (interactive menu when empty)")
	path := fs.String("path", "", "File or directory to transfer")

	threads := fs.Int("threads", d.Threads, "Number of workers in parallel mode (1-16)")
	blockSize := fs.Int("block", d.BlockSize, "Block size in bytes for streaming file data")
	timeout := fs.Duration("timeout", d.Timeout, "Per-call socket send/receive timeout")
	progressInterval := fs.Duration("progress-interval", d.ProgressInterval, "Progress refresh interval")
	showProgress := fs.Bool("progress", d.ShowProgress, "Show progress during transfer")
	verifyHash := fs.Bool("verify", d.VerifyHash, "Log a digest of each transferred file")

	if fs == flag.CommandLine {
		flag.Parse()
	} else if err := fs.Parse(args); err != nil {
		return nil, err
	}

	config := &Config{
		ServerAddress:    *serverAddr,
		DiscoveryPort:    *discoveryPort,
		DiscoveryTimeout: *discoveryTimeout,
		Mode:             *mode,
		Path:             *path,
		Threads:          *threads,
		BlockSize:        *blockSize,
		Timeout:          *timeout,
		ProgressInterval: *progressInterval,
		ShowProgress:     *showProgress,
		VerifyHash:       *verifyHash,
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// String returns a string representation of the config for logging
func (c *Config) String() string {
	mode := c.Mode
	if mode == "" {
		mode = "interactive"
	}

	server := c.ServerAddress
	if server == "" {
		server = "discover"
	}

	return fmt.Sprintf("Config{Mode: %s, Server: %s, Threads: %d, BlockSize: %d, Timeout: %s}",
		mode, server, c.Threads, c.BlockSize, c.Timeout)
}
