package config

import (
	"time"

	"github.com/Mmx233/lanchat/protocol"
)

// Default values
const (
	DefaultListenIP = "0.0.0.0"
	DefaultPort     = 8080

	// DefaultMaxClients is advisory; exceeding it only logs a warning
	DefaultMaxClients = 100

	DefaultBufferSize        = protocol.FrameBufferSize
	DefaultFileBufferSize    = protocol.ChunkBufferSize
	DefaultMaxUsernameLength = protocol.MaxUsernameLength
	DefaultMaxMessageLength  = protocol.MaxMessageLength

	// DefaultIdleTimeout of zero keeps idle sessions forever
	DefaultIdleTimeout time.Duration = 0

	// DefaultWriteTimeout bounds a single send to a peer that stopped reading
	DefaultWriteTimeout = 10 * time.Second

	// DefaultAcceptPollInterval bounds how long shutdown waits for the accept loop
	DefaultAcceptPollInterval = 100 * time.Millisecond

	DefaultUploadDir = "uploads"

	// DefaultAckTimeout is how long a client waits for the file transfer acknowledgment
	DefaultAckTimeout = 10 * time.Second
)
