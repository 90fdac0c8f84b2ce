// Package protocol implements the lanchat wire format.
//
// Every client frame starts with a 4-byte little-endian int32 type tag that is
// followed by a type specific payload. There is no outer length prefix: one
// transport read carries exactly one frame, and the payload length is whatever
// that read returned minus the tag. Senders therefore write each frame with a
// single Write and wait for the peer where ordering matters (the file transfer
// acknowledgment). Server to client traffic is plain UTF-8 text.
package protocol

import "fmt"

// MsgType is the type tag at the start of every client frame.
type MsgType int32

// Message types
const (
	MsgTypeMessage      MsgType = 1 // Chat text
	MsgTypeFileTransfer MsgType = 2 // File transfer header
	MsgTypeUsernameSet  MsgType = 3 // Identity handshake
	MsgTypeDisconnect   MsgType = 4 // Graceful disconnect
	MsgTypePing         MsgType = 5 // Keepalive
	MsgTypeClientList   MsgType = 6 // Online user list request
)

// String returns the protocol name of the message type.
func (t MsgType) String() string {
	switch t {
	case MsgTypeMessage:
		return "MESSAGE"
	case MsgTypeFileTransfer:
		return "FILE_TRANSFER"
	case MsgTypeUsernameSet:
		return "USERNAME_SET"
	case MsgTypeDisconnect:
		return "DISCONNECT"
	case MsgTypePing:
		return "PING"
	case MsgTypeClientList:
		return "CLIENT_LIST"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int32(t))
	}
}

// Frame is one decoded client frame.
type Frame struct {
	Type    MsgType
	Payload []byte
}

// FileHeader is the payload of a FILE_TRANSFER request.
type FileHeader struct {
	Filename string
	Size     int64
}

// AckToken is sent by the receiver once it is ready for file data.
const AckToken = "READY"

const ProtocolVersion = 2

// Protocol limits
const (
	TagSize           = 4    // int32 type tag
	MaxUsernameLength = 32   // bytes
	MaxMessageLength  = 2048 // bytes of chat text
)
