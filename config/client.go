package config

import (
	"fmt"
	"time"
)

type Client struct {
	ServerPort       int           `yaml:"server_port"` // used when the address has no port
	Username         string        `yaml:"username"`
	MaxMessageLength int           `yaml:"max_message_length"`
	FileBufferSize   int           `yaml:"file_buffer_size"`
	PingInterval     time.Duration `yaml:"ping_interval"` // 0 disables keepalive
	AckTimeout       time.Duration `yaml:"ack_timeout"`
	NoColor          bool          `yaml:"no_color"`
}

// ApplyDefaults fills zero-value fields.
func (c *Client) ApplyDefaults() {
	if c.ServerPort == 0 {
		c.ServerPort = DefaultPort
	}
	if c.MaxMessageLength == 0 {
		c.MaxMessageLength = DefaultMaxMessageLength
	}
	if c.FileBufferSize == 0 {
		c.FileBufferSize = DefaultFileBufferSize
	}
	if c.AckTimeout == 0 {
		c.AckTimeout = DefaultAckTimeout
	}
}

// Validate checks value ranges. Call after ApplyDefaults.
func (c *Client) Validate() error {
	if c.ServerPort < 1 || c.ServerPort > 65535 {
		return fmt.Errorf("server_port must be between 1 and 65535, got %d", c.ServerPort)
	}
	if len(c.Username) > DefaultMaxUsernameLength {
		return fmt.Errorf("username must be at most %d bytes, got %d", DefaultMaxUsernameLength, len(c.Username))
	}
	if c.MaxMessageLength <= 0 {
		return fmt.Errorf("max_message_length must be positive, got %d", c.MaxMessageLength)
	}
	if c.FileBufferSize <= 0 {
		return fmt.Errorf("file_buffer_size must be positive, got %d", c.FileBufferSize)
	}
	if c.PingInterval < 0 {
		return fmt.Errorf("ping_interval must not be negative, got %v", c.PingInterval)
	}
	if c.AckTimeout < 0 {
		return fmt.Errorf("ack_timeout must not be negative, got %v", c.AckTimeout)
	}
	return nil
}
