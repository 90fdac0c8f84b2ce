package protocol

import (
	"testing"

	"pgregory.net/rapid"
)

// Any frame type and payload survives Encode then Decode unchanged.
func TestFrameRoundTrip_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		msgType := MsgType(rapid.Int32().Draw(t, "type"))
		payload := rapid.SliceOfN(rapid.Byte(), 0, FrameBufferSize-TagSize).Draw(t, "payload")

		frame, err := Decode(Encode(msgType, payload))
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if frame.Type != msgType {
			t.Fatalf("type: got %d, want %d", frame.Type, msgType)
		}
		if string(frame.Payload) != string(payload) {
			t.Fatalf("payload mismatch")
		}
	})
}

// A username is accepted iff its byte length is in (0, MaxUsernameLength].
func TestUsernameLengthBounds_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		name := rapid.StringN(0, MaxUsernameLength+8, -1).Draw(t, "name")

		frame, err := Decode(EncodeUsername(name))
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		got, err := DecodeUsername(frame.Payload, MaxUsernameLength)

		valid := len(name) > 0 && len(name) <= MaxUsernameLength
		if valid {
			if err != nil {
				t.Fatalf("expected %q (%d bytes) to be accepted, got %v", name, len(name), err)
			}
			if got != name {
				t.Fatalf("got %q, want %q", got, name)
			}
		} else if err == nil {
			t.Fatalf("expected %q (%d bytes) to be rejected", name, len(name))
		}
	})
}

// Any file header survives a round trip, and any truncation is rejected.
func TestFileHeaderRoundTrip_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		h := FileHeader{
			Filename: rapid.StringN(0, 255, -1).Draw(t, "filename"),
			Size:     rapid.Int64Range(0, 1<<40).Draw(t, "size"),
		}
		b := EncodeFileHeader(h)

		frame, err := Decode(b)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		got, err := DecodeFileHeader(frame.Payload)
		if err != nil {
			t.Fatalf("decode header: %v", err)
		}
		if got != h {
			t.Fatalf("got %+v, want %+v", got, h)
		}

		cut := rapid.IntRange(0, len(frame.Payload)-1).Draw(t, "cut")
		if _, err := DecodeFileHeader(frame.Payload[:cut]); err == nil {
			t.Fatalf("expected truncated header (%d of %d bytes) to fail", cut, len(frame.Payload))
		}
	})
}
