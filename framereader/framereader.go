// Package framereader implements the length-delimited frame reader that
// sits under a channel's read loop: it reads exactly one packet.HeaderSize
// header, then exactly BodyLen body bytes, looping on short reads so a
// single TCP read() syscall returning a partial frame never corrupts
// framing.
package framereader

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"xrpc/packet"
	"xrpc/rpcerr"
)

func protoErr(cause error) error {
	return fmt.Errorf("%w: short read: %v", rpcerr.ErrProtocol, cause)
}

// Observer is notified after each successful frame read, with the number of
// raw bytes consumed (header + body) — used to publish host/bytes-read
// counters to metrics collectors without coupling this package to them.
type Observer func(host string, bytesRead int)

// Reader wraps an io.Reader with the xrpc frame boundary.
type Reader struct {
	r        io.Reader
	host     string
	observer Observer
}

// New wraps r. host identifies the peer for the Observer callback; observer
// may be nil.
func New(r io.Reader, host string, observer Observer) *Reader {
	return &Reader{r: r, host: host, observer: observer}
}

// Read returns the next packet on the stream. It returns io.EOF only when
// the very first header byte cannot be read (a clean peer close between
// frames); any other short read — mid-header or mid-body — is reported as
// rpcerr.ErrProtocol, since the stream can no longer be trusted to resync.
func (fr *Reader) Read() (*packet.Packet, error) {
	var header [packet.HeaderSize]byte

	// Read the first byte alone so a clean close before any bytes of the
	// next frame arrive is distinguishable from a short/garbled frame.
	if _, err := io.ReadFull(fr.r, header[:1]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, protoErr(err)
	}
	if _, err := io.ReadFull(fr.r, header[1:]); err != nil {
		return nil, protoErr(err)
	}

	bodyLen := binary.BigEndian.Uint32(header[4:8])
	body := make([]byte, bodyLen)
	if bodyLen > 0 {
		if _, err := io.ReadFull(fr.r, body); err != nil {
			return nil, protoErr(err)
		}
	}

	p, err := packet.Parse(header, body)
	if err != nil {
		return nil, err
	}

	if fr.observer != nil {
		fr.observer(fr.host, packet.HeaderSize+len(body))
	}
	return p, nil
}
