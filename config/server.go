package config

import (
	"fmt"
	"time"
)

type Server struct {
	Listen             Listen        `yaml:"listen"`
	MaxClients         int           `yaml:"max_clients"`
	BufferSize         int           `yaml:"buffer_size"`
	FileBufferSize     int           `yaml:"file_buffer_size"`
	MaxUsernameLength  int           `yaml:"max_username_length"`
	IdleTimeout        time.Duration `yaml:"idle_timeout"`         // 0 disables
	WriteTimeout       time.Duration `yaml:"write_timeout"`        // per send to one peer
	AcceptPollInterval time.Duration `yaml:"accept_poll_interval"` // default 100ms
	Upload             Upload        `yaml:"upload"`
}

type Upload struct {
	Dir string `yaml:"dir"`
	// Manifest enables the JSON lines record of received files. Nil means enabled.
	Manifest *bool `yaml:"manifest"`
}

// ManifestEnabled reports whether received files are recorded in the manifest.
func (u Upload) ManifestEnabled() bool {
	return u.Manifest == nil || *u.Manifest
}

// ApplyDefaults fills zero-value fields.
func (s *Server) ApplyDefaults() {
	if s.Listen.IP == "" {
		s.Listen.IP = DefaultListenIP
	}
	if s.Listen.Port == 0 {
		s.Listen.Port = DefaultPort
	}
	if s.MaxClients == 0 {
		s.MaxClients = DefaultMaxClients
	}
	if s.BufferSize == 0 {
		s.BufferSize = DefaultBufferSize
	}
	if s.FileBufferSize == 0 {
		s.FileBufferSize = DefaultFileBufferSize
	}
	if s.MaxUsernameLength == 0 {
		s.MaxUsernameLength = DefaultMaxUsernameLength
	}
	if s.WriteTimeout == 0 {
		s.WriteTimeout = DefaultWriteTimeout
	}
	if s.AcceptPollInterval == 0 {
		s.AcceptPollInterval = DefaultAcceptPollInterval
	}
	if s.Upload.Dir == "" {
		s.Upload.Dir = DefaultUploadDir
	}
}

// Validate checks value ranges. Call after ApplyDefaults.
func (s *Server) Validate() error {
	if _, err := s.Listen.GetIP(); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	if s.Listen.Port < 0 || s.Listen.Port > 65535 {
		return fmt.Errorf("listen port must be between 0 and 65535, got %d", s.Listen.Port)
	}
	if s.MaxClients < 0 {
		return fmt.Errorf("max_clients must not be negative, got %d", s.MaxClients)
	}
	// The largest handshake frame must fit in one read.
	if minBuf := 8 + s.MaxUsernameLength; s.BufferSize < minBuf {
		return fmt.Errorf("buffer_size must be at least %d, got %d", minBuf, s.BufferSize)
	}
	if s.FileBufferSize <= 0 {
		return fmt.Errorf("file_buffer_size must be positive, got %d", s.FileBufferSize)
	}
	if s.MaxUsernameLength <= 0 {
		return fmt.Errorf("max_username_length must be positive, got %d", s.MaxUsernameLength)
	}
	if s.IdleTimeout < 0 {
		return fmt.Errorf("idle_timeout must not be negative, got %v", s.IdleTimeout)
	}
	if s.WriteTimeout < 0 {
		return fmt.Errorf("write_timeout must not be negative, got %v", s.WriteTimeout)
	}
	if s.AcceptPollInterval < 0 {
		return fmt.Errorf("accept_poll_interval must not be negative, got %v", s.AcceptPollInterval)
	}
	return nil
}
