package codec

import (
	"bytes"
	"io"
	"sync"

	"github.com/klauspost/compress/flate"
)

// DeflateCompressor implements Compressor with klauspost/compress's flate —
// a drop-in, faster replacement for the standard library's compress/flate
// and the "deflate-class" compressor spec §2 calls for.
type DeflateCompressor struct {
	level int

	writersMu sync.Mutex
	writers   []*flate.Writer
}

// NewDeflateCompressor builds a compressor at the given flate compression
// level (flate.DefaultCompression is a reasonable default).
func NewDeflateCompressor(level int) *DeflateCompressor {
	return &DeflateCompressor{level: level}
}

func (c *DeflateCompressor) getWriter(buf *bytes.Buffer) *flate.Writer {
	c.writersMu.Lock()
	defer c.writersMu.Unlock()
	if n := len(c.writers); n > 0 {
		w := c.writers[n-1]
		c.writers = c.writers[:n-1]
		w.Reset(buf)
		return w
	}
	w, _ := flate.NewWriter(buf, c.level)
	return w
}

func (c *DeflateCompressor) putWriter(w *flate.Writer) {
	c.writersMu.Lock()
	c.writers = append(c.writers, w)
	c.writersMu.Unlock()
}

func (c *DeflateCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := c.getWriter(&buf)
	defer c.putWriter(w)

	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *DeflateCompressor) Decompress(data []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close()
	return io.ReadAll(r)
}
