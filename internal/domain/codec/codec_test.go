package codec

import (
	"bytes"
	"testing"

	"github.com/netra-systems/ws-fabric/internal/domain/model"
)

func TestCompressDecompressRoundTrip(t *testing.T) {
	payload := []byte("the quick brown fox jumps over the lazy dog, repeated for good measure")
	for _, name := range []Name{None, Gzip, LZ4} {
		compressed, err := Compress(name, payload)
		if err != nil {
			t.Fatalf("%s: compress failed: %v", name, err)
		}
		out, err := Decompress(name, compressed)
		if err != nil {
			t.Fatalf("%s: decompress failed: %v", name, err)
		}
		if !bytes.Equal(out, payload) {
			t.Fatalf("%s: round trip mismatch: got %q want %q", name, out, payload)
		}
	}
}

func TestNegotiateFallsBackToNone(t *testing.T) {
	if got := Negotiate([]string{"brotli", "snappy"}); got != None {
		t.Fatalf("expected fallback to none, got %q", got)
	}
	if got := Negotiate([]string{"brotli", "lz4"}); got != LZ4 {
		t.Fatalf("expected lz4 preference to win, got %q", got)
	}
}

func TestEncodeReassembleRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte("payload-chunk-"), 10000)

	chunks, err := Encode("message", payload, Gzip, 64)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks for a large payload, got %d", len(chunks))
	}

	r := NewReassembler(0)
	var out []byte
	for i, ch := range chunks {
		complete, assembled, err := r.AddChunk(ch)
		if err != nil {
			t.Fatalf("chunk %d: reassemble error: %v", i, err)
		}
		if complete {
			out = assembled
		}
	}
	if !bytes.Equal(out, payload) {
		t.Fatalf("reassembled payload mismatch: got %d bytes want %d", len(out), len(payload))
	}
}

func TestReassemblerSweepExpired(t *testing.T) {
	r := NewReassembler(-1) // negative coerces to the default 60s, but expiry is checked below at zero elapsed
	ch := model.ChunkEnvelope{Type: "chunk", TransferID: "t1", ChunkIndex: 0, TotalChunks: 2, Codec: string(None), Body: []byte("a")}
	if _, _, err := r.AddChunk(ch); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if expired := r.SweepExpired(); len(expired) != 0 {
		t.Fatalf("expected no expired transfers immediately after AddChunk, got %v", expired)
	}
}
