// Package codec implements the large-message codec (C4): compression
// negotiation, chunking and reassembly for payloads above a configurable
// size threshold.
package codec

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"
)

// Name identifies a negotiated compression codec. NONE is always the
// fallback.
type Name string

const (
	None Name = "none"
	Gzip Name = "gzip"
	LZ4  Name = "lz4"
)

var supported = map[Name]bool{None: true, Gzip: true, LZ4: true}

// Negotiate walks the client's ordered preference list and returns the
// first codec the server supports, falling back to None.
func Negotiate(clientPreferences []string) Name {
	for _, pref := range clientPreferences {
		n := Name(pref)
		if supported[n] {
			return n
		}
	}
	return None
}

// Compress encodes data with the given codec.
func Compress(codec Name, data []byte) ([]byte, error) {
	switch codec {
	case None:
		return data, nil
	case Gzip:
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, fmt.Errorf("codec: gzip compress: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("codec: gzip close: %w", err)
		}
		return buf.Bytes(), nil
	case LZ4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, fmt.Errorf("codec: lz4 compress: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("codec: lz4 close: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("codec: unsupported codec %q", codec)
	}
}

// Decompress reverses Compress. The round trip decode(encode(payload,
// codec)) == payload is a correctness property clients can rely on.
func Decompress(codec Name, data []byte) ([]byte, error) {
	switch codec {
	case None:
		return data, nil
	case Gzip:
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("codec: gzip reader: %w", err)
		}
		defer r.Close()
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("codec: gzip decompress: %w", err)
		}
		return out, nil
	case LZ4:
		r := lz4.NewReader(bytes.NewReader(data))
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("codec: lz4 decompress: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("codec: unsupported codec %q", codec)
	}
}
