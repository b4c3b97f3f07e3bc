// Package config provides the ambient, non-cryptographic tuning knobs
// a caller may load for a tunnel: logging verbosity, the handshake I/O
// deadline, and the scratch buffer size used while reading raw
// ciphertext off the underlying stream.
//
// It deliberately carries no keys, acceptable sets, or transport
// addresses — key storage, key distribution, and transport
// establishment are out of scope for this module and remain the
// caller's responsibility.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Options are the ambient tunnel settings, loadable from YAML.
type Options struct {
	// LogLevel is a zerolog level name: "debug", "info", "warn", "error", "disabled".
	LogLevel string `yaml:"log_level"`

	// HandshakeTimeout bounds the handshake's blocking I/O, applied via
	// the underlying connection's deadline when it supports one. Zero
	// means no deadline is set; the caller is responsible for timeouts.
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`

	// ReadBufferSize sizes the scratch buffer used to pull raw
	// ciphertext off the underlying stream before decryption.
	ReadBufferSize int `yaml:"read_buffer_size"`
}

// Default returns the baseline Options a Tunnel uses when none are
// supplied.
func Default() Options {
	return Options{
		LogLevel:         "info",
		HandshakeTimeout: 0,
		ReadBufferSize:   4096,
	}
}

// Load reads the YAML file at path and merges it over Default().
func Load(path string) (Options, error) {
	opts := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Options{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return Options{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := opts.validate(); err != nil {
		return Options{}, err
	}
	return opts, nil
}

func (o *Options) validate() error {
	var errs []string

	switch strings.ToLower(o.LogLevel) {
	case "", "debug", "info", "warn", "error", "disabled":
	default:
		errs = append(errs, fmt.Sprintf("log_level: unrecognized level %q", o.LogLevel))
	}

	if o.HandshakeTimeout < 0 {
		errs = append(errs, "handshake_timeout: must not be negative")
	}
	if o.ReadBufferSize < 0 {
		errs = append(errs, "read_buffer_size: must not be negative")
	}
	if o.ReadBufferSize == 0 {
		o.ReadBufferSize = Default().ReadBufferSize
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config:\n - %s", strings.Join(errs, "\n - "))
	}
	return nil
}
