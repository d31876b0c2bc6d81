package codec

import "testing"

func TestDeflateCompressorRoundTrip(t *testing.T) {
	c := NewDeflateCompressor(-1)
	original := []byte("the quick brown fox jumps over the lazy dog, repeatedly, to build up enough bytes to actually compress")

	compressed, err := c.Compress(original)
	if err != nil {
		t.Fatalf("Compress failed: %v", err)
	}
	if len(compressed) >= len(original) {
		t.Errorf("expected compression to shrink repetitive input: got %d bytes from %d", len(compressed), len(original))
	}

	decompressed, err := c.Decompress(compressed)
	if err != nil {
		t.Fatalf("Decompress failed: %v", err)
	}
	if string(decompressed) != string(original) {
		t.Errorf("round trip mismatch: got %q, want %q", decompressed, original)
	}
}

func TestDeflateCompressorReusesWriters(t *testing.T) {
	c := NewDeflateCompressor(-1)
	for i := 0; i < 5; i++ {
		if _, err := c.Compress([]byte("payload")); err != nil {
			t.Fatalf("Compress iteration %d failed: %v", i, err)
		}
	}
	if len(c.writers) != 1 {
		t.Errorf("expected exactly one pooled writer after sequential use, got %d", len(c.writers))
	}
}
