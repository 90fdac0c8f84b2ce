package protocol

import (
	"errors"
	"fmt"
	"io"

	bstd "github.com/deneonet/benc/std"
)

// Wire format: [4 bytes type][payload]
//
//	USERNAME_SET:  [4 bytes length][username]
//	MESSAGE:       [text up to the end of the read]
//	FILE_TRANSFER: [4 bytes filename length][filename][8 bytes file size]
//	DISCONNECT, PING, CLIENT_LIST: empty

var (
	ErrMalformedFrame  = errors.New("malformed frame")
	ErrInvalidUsername = errors.New("invalid username length")
)

// Encode builds a frame from a type tag and a raw payload.
func Encode(msgType MsgType, payload []byte) []byte {
	b := make([]byte, TagSize+len(payload))
	n := bstd.MarshalUint32(0, b, uint32(msgType))
	copy(b[n:], payload)
	return b
}

// Decode splits a received buffer into its type tag and payload.
// The payload aliases buf.
func Decode(buf []byte) (Frame, error) {
	if len(buf) < TagSize {
		return Frame{}, fmt.Errorf("%w: %d bytes, need %d for type tag", ErrMalformedFrame, len(buf), TagSize)
	}
	n, tag, err := bstd.UnmarshalUint32(0, buf)
	if err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return Frame{Type: MsgType(int32(tag)), Payload: buf[n:]}, nil
}

// readLengthPrefixed reads an int32 length followed by that many bytes.
func readLengthPrefixed(payload []byte, field string) (string, int, error) {
	if len(payload) < bstd.SizeUint32() {
		return "", 0, fmt.Errorf("%w: missing %s length", ErrMalformedFrame, field)
	}
	n, raw, err := bstd.UnmarshalUint32(0, payload)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	length := int32(raw)
	if length < 0 {
		return "", 0, fmt.Errorf("%w: negative %s length %d", ErrMalformedFrame, field, length)
	}
	if int(length) > len(payload)-n {
		return "", 0, fmt.Errorf("%w: %s length %d exceeds remaining %d bytes",
			ErrMalformedFrame, field, length, len(payload)-n)
	}
	return string(payload[n : n+int(length)]), n + int(length), nil
}

func putLengthPrefixed(b []byte, n int, s string) int {
	n = bstd.MarshalUint32(n, b, uint32(int32(len(s))))
	return n + copy(b[n:], s)
}

// EncodeUsername builds a complete USERNAME_SET frame.
func EncodeUsername(name string) []byte {
	b := make([]byte, TagSize+bstd.SizeUint32()+len(name))
	n := bstd.MarshalUint32(0, b, uint32(MsgTypeUsernameSet))
	putLengthPrefixed(b, n, name)
	return b
}

// DecodeUsername parses a USERNAME_SET payload. The declared length must be in
// (0, maxLen].
func DecodeUsername(payload []byte, maxLen int) (string, error) {
	if len(payload) >= bstd.SizeUint32() {
		_, raw, err := bstd.UnmarshalUint32(0, payload)
		if err == nil {
			if length := int32(raw); length == 0 || int(length) > maxLen {
				return "", fmt.Errorf("%w: %d (max %d)", ErrInvalidUsername, length, maxLen)
			}
		}
	}
	name, _, err := readLengthPrefixed(payload, "username")
	if err != nil {
		return "", err
	}
	return name, nil
}

// EncodeFileHeader builds a complete FILE_TRANSFER request frame.
func EncodeFileHeader(h FileHeader) []byte {
	b := make([]byte, TagSize+bstd.SizeUint32()+len(h.Filename)+bstd.SizeUint64())
	n := bstd.MarshalUint32(0, b, uint32(MsgTypeFileTransfer))
	n = putLengthPrefixed(b, n, h.Filename)
	bstd.MarshalUint64(n, b, uint64(h.Size))
	return b
}

// DecodeFileHeader parses a FILE_TRANSFER request payload. The filename is
// returned as declared; callers that touch the filesystem must sanitize it.
func DecodeFileHeader(payload []byte) (FileHeader, error) {
	name, n, err := readLengthPrefixed(payload, "filename")
	if err != nil {
		return FileHeader{}, err
	}
	if len(payload)-n < bstd.SizeUint64() {
		return FileHeader{}, fmt.Errorf("%w: missing file size", ErrMalformedFrame)
	}
	_, raw, err := bstd.UnmarshalUint64(n, payload)
	if err != nil {
		return FileHeader{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	size := int64(raw)
	if size < 0 {
		return FileHeader{}, fmt.Errorf("%w: negative file size %d", ErrMalformedFrame, size)
	}
	return FileHeader{Filename: name, Size: size}, nil
}

// ReadFrame performs a single Read into buf and decodes the result as one
// frame. The returned payload aliases buf and is only valid until the next
// call that reuses buf.
func ReadFrame(r io.Reader, buf []byte) (Frame, error) {
	n, err := r.Read(buf)
	if n == 0 {
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		return Frame{}, fmt.Errorf("read frame: %w", err)
	}
	// A short read that delivered data is still a frame; the error, if any,
	// surfaces on the next call.
	return Decode(buf[:n])
}

// WriteFrame writes a frame with a single Write call using a pooled buffer.
func WriteFrame(w io.Writer, msgType MsgType, payload []byte) error {
	buf := GetBufferWithSize(TagSize + len(payload))
	defer PutBuffer(buf)

	var tag [TagSize]byte
	bstd.MarshalUint32(0, tag[:], uint32(msgType))
	buf.Write(tag[:])
	buf.Write(payload)

	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("write %s frame: %w", msgType, err)
	}
	return nil
}

// WriteMessage writes a MESSAGE frame.
func WriteMessage(w io.Writer, text string) error {
	return WriteFrame(w, MsgTypeMessage, []byte(text))
}

// WriteUsername writes a USERNAME_SET frame.
func WriteUsername(w io.Writer, name string) error {
	if _, err := w.Write(EncodeUsername(name)); err != nil {
		return fmt.Errorf("write %s frame: %w", MsgTypeUsernameSet, err)
	}
	return nil
}

// WriteFileHeader writes a FILE_TRANSFER request frame.
func WriteFileHeader(w io.Writer, h FileHeader) error {
	if _, err := w.Write(EncodeFileHeader(h)); err != nil {
		return fmt.Errorf("write %s frame: %w", MsgTypeFileTransfer, err)
	}
	return nil
}

// WriteDisconnect writes a DISCONNECT frame.
func WriteDisconnect(w io.Writer) error {
	return WriteFrame(w, MsgTypeDisconnect, nil)
}

// WritePing writes a PING frame.
func WritePing(w io.Writer) error {
	return WriteFrame(w, MsgTypePing, nil)
}

// WriteClientList writes a CLIENT_LIST request frame.
func WriteClientList(w io.Writer) error {
	return WriteFrame(w, MsgTypeClientList, nil)
}
