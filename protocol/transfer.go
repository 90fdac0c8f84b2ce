package protocol

import (
	"errors"
	"fmt"
	"io"
	"time"
)

var (
	ErrTransferIncomplete = errors.New("transfer incomplete")
	ErrUnexpectedAck      = errors.New("unexpected acknowledgment")
)

// TransferStats describes a finished transfer.
type TransferStats struct {
	Bytes   int64
	Elapsed time.Duration
}

// Throughput returns bytes per second. A zero elapsed time reports the byte
// count as if the transfer took one second.
func (s TransferStats) Throughput() float64 {
	secs := s.Elapsed.Seconds()
	if secs <= 0 {
		return float64(s.Bytes)
	}
	return float64(s.Bytes) / secs
}

// MBps returns the throughput in MiB per second.
func (s TransferStats) MBps() float64 {
	return s.Throughput() / 1024 / 1024
}

// WriteAck sends the acknowledgment token.
func WriteAck(w io.Writer) error {
	if _, err := io.WriteString(w, AckToken); err != nil {
		return fmt.Errorf("write ack: %w", err)
	}
	return nil
}

// ReadAck reads exactly len(AckToken) bytes from r and checks them.
func ReadAck(r io.Reader) error {
	var b [len(AckToken)]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return fmt.Errorf("read ack: %w", err)
	}
	if string(b[:]) != AckToken {
		return fmt.Errorf("%w: %q", ErrUnexpectedAck, b[:])
	}
	return nil
}

// SendFile writes the FILE_TRANSFER header for h, blocks on waitAck, then
// streams exactly h.Size bytes from src in chunks of len(buf).
func SendFile(w io.Writer, src io.Reader, h FileHeader, waitAck func() error, buf []byte) (TransferStats, error) {
	if len(buf) == 0 {
		return TransferStats{}, errors.New("send file: empty chunk buffer")
	}
	if err := WriteFileHeader(w, h); err != nil {
		return TransferStats{}, err
	}
	if err := waitAck(); err != nil {
		return TransferStats{}, err
	}

	start := time.Now()
	var sent int64
	for sent < h.Size {
		want := int64(len(buf))
		if remaining := h.Size - sent; remaining < want {
			want = remaining
		}
		n, rerr := src.Read(buf[:want])
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return TransferStats{Bytes: sent, Elapsed: time.Since(start)}, fmt.Errorf("write chunk: %w", err)
			}
			sent += int64(n)
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) && sent == h.Size {
				break
			}
			return TransferStats{Bytes: sent, Elapsed: time.Since(start)},
				fmt.Errorf("%w: sent %d of %d bytes: %v", ErrTransferIncomplete, sent, h.Size, rerr)
		}
	}
	return TransferStats{Bytes: sent, Elapsed: time.Since(start)}, nil
}

// ReceiveFile reads exactly size bytes from r, at most len(buf) per read, and
// writes them to dst in order. A read that returns no data before size is
// reached fails with ErrTransferIncomplete. A failing dst does not stop the
// loop: the remaining bytes are still consumed so the stream stays aligned,
// and the write error is returned once size bytes have been read.
func ReceiveFile(r io.Reader, dst io.Writer, size int64, buf []byte) (TransferStats, error) {
	if len(buf) == 0 {
		return TransferStats{}, errors.New("receive file: empty chunk buffer")
	}

	start := time.Now()
	var received int64
	var writeErr error
	for received < size {
		want := int64(len(buf))
		if remaining := size - received; remaining < want {
			want = remaining
		}
		n, err := r.Read(buf[:want])
		if n > 0 {
			if writeErr == nil {
				if _, werr := dst.Write(buf[:n]); werr != nil {
					writeErr = fmt.Errorf("write chunk: %w", werr)
				}
			}
			received += int64(n)
			continue
		}
		if err == nil {
			err = io.ErrNoProgress
		}
		return TransferStats{Bytes: received, Elapsed: time.Since(start)},
			fmt.Errorf("%w: received %d of %d bytes: %v", ErrTransferIncomplete, received, size, err)
	}
	return TransferStats{Bytes: received, Elapsed: time.Since(start)}, writeErr
}
