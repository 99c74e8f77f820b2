package codec

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/netra-systems/ws-fabric/internal/domain/model"
)

// DefaultChunkSize is the per-fragment payload size used when splitting a
// large message. It is intentionally well under typical proxy frame
// limits.
const DefaultChunkSize = 64 * 1024

// Encode compresses payload with codec and splits it into chunk envelopes
// no larger than chunkSize bytes of compressed body each. If the
// compressed payload fits in a single chunk, one chunk envelope with
// TotalChunks == 1 is returned.
func Encode(messageType string, payload []byte, codec Name, chunkSize int) ([]model.ChunkEnvelope, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	compressed, err := Compress(codec, payload)
	if err != nil {
		return nil, err
	}

	transferID := uuid.NewString()
	total := (len(compressed) + chunkSize - 1) / chunkSize
	if total == 0 {
		total = 1
	}

	chunks := make([]model.ChunkEnvelope, 0, total)
	for i := 0; i < total; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if end > len(compressed) {
			end = len(compressed)
		}
		chunks = append(chunks, model.ChunkEnvelope{
			Type:        "chunk",
			MessageType: messageType,
			TransferID:  transferID,
			ChunkIndex:  i,
			TotalChunks: total,
			Codec:       string(codec),
			Body:        compressed[start:end],
		})
	}
	return chunks, nil
}

type transfer struct {
	codec     Name
	total     int
	chunks    map[int][]byte
	createdAt time.Time
}

// Reassembler tracks in-flight multi-chunk inbound transfers and enforces
// a bounded reassembly deadline : partial transfers are
// discarded once expired.
type Reassembler struct {
	mu       sync.Mutex
	transfers map[string]*transfer
	deadline time.Duration
}

func NewReassembler(deadline time.Duration) *Reassembler {
	if deadline <= 0 {
		deadline = 60 * time.Second
	}
	return &Reassembler{
		transfers: make(map[string]*transfer),
		deadline:  deadline,
	}
}

// AddChunk ingests one fragment. When the final chunk arrives, it returns
// the fully reassembled, decompressed payload.
func (r *Reassembler) AddChunk(ch model.ChunkEnvelope) (complete bool, payload []byte, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.transfers[ch.TransferID]
	if !ok {
		t = &transfer{
			codec:     Name(ch.Codec),
			total:     ch.TotalChunks,
			chunks:    make(map[int][]byte),
			createdAt: time.Now(),
		}
		r.transfers[ch.TransferID] = t
	}
	t.chunks[ch.ChunkIndex] = ch.Body

	if len(t.chunks) < t.total {
		return false, nil, nil
	}

	delete(r.transfers, ch.TransferID)

	assembled := make([]byte, 0)
	for i := 0; i < t.total; i++ {
		part, ok := t.chunks[i]
		if !ok {
			return false, nil, fmt.Errorf("codec: transfer %s missing chunk %d", ch.TransferID, i)
		}
		assembled = append(assembled, part...)
	}

	out, err := Decompress(t.codec, assembled)
	if err != nil {
		return false, nil, err
	}
	return true, out, nil
}

// Progress reports how many chunks of a known transfer have arrived, for
// emitting periodic upload_progress messages.
func (r *Reassembler) Progress(transferID string) (received, total int, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, found := r.transfers[transferID]
	if !found {
		return 0, 0, false
	}
	return len(t.chunks), t.total, true
}

// SweepExpired discards partial transfers older than the reassembly
// deadline and returns their transfer ids.
func (r *Reassembler) SweepExpired() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var expired []string
	for id, t := range r.transfers {
		if time.Since(t.createdAt) > r.deadline {
			expired = append(expired, id)
			delete(r.transfers, id)
		}
	}
	return expired
}
