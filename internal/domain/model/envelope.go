package model

import "time"

// OutboundEnvelope is the generic server→client wire shape.
type OutboundEnvelope struct {
	Type            string `json:"type"`
	Payload         any    `json:"payload,omitempty"`
	Timestamp       int64  `json:"timestamp"`
	DisplayedToUser *bool  `json:"displayed_to_user,omitempty"`
	Sender          string `json:"sender,omitempty"`
	System          bool   `json:"system,omitempty"`

	// Priority controls routing in the Broadcaster (C9): envelopes with
	// Priority >= broadcaster.PriorityThreshold bypass the per-user queue.
	Priority int `json:"-"`
}

func NewOutboundEnvelope(msgType string, payload any) OutboundEnvelope {
	return OutboundEnvelope{
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now().UnixMilli(),
	}
}

// HeartbeatPing is sent by the supervisor (C6) on every tick.
type HeartbeatPing struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connection_id"`
	Timestamp    int64  `json:"timestamp"`
	Sequence     int64  `json:"sequence"`
}

func NewHeartbeatPing(connectionID string, sequence int64) HeartbeatPing {
	return HeartbeatPing{
		Type:         "heartbeat_ping",
		ConnectionID: connectionID,
		Timestamp:    time.Now().UnixMilli(),
		Sequence:     sequence,
	}
}

// HeartbeatPong is the client's liveness reply. Two type spellings are
// accepted on ingress.
type HeartbeatPong struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connection_id"`
	Timestamp    int64  `json:"timestamp"`
}

const (
	HeartbeatPongType     = "heartbeat_pong"
	HeartbeatResponseType = "heartbeat_response"
)

// ShutdownNotice is broadcast to ACTIVE connections when phase 2 of the
// shutdown coordinator (C11) begins.
type ShutdownNotice struct {
	Type         string `json:"type"`
	Message      string `json:"message"`
	CloseCode    int    `json:"close_code"`
	DrainTimeout int    `json:"drain_timeout"`
	Timestamp    int64  `json:"timestamp"`
}

func NewShutdownNotice(drainTimeoutSeconds int) ShutdownNotice {
	return ShutdownNotice{
		Type:         "server_shutdown",
		Message:      "server is shutting down, please reconnect shortly",
		CloseCode:    1001,
		DrainTimeout: drainTimeoutSeconds,
		Timestamp:    time.Now().UnixMilli(),
	}
}

// ChunkEnvelope carries one fragment of a large message split by the
// Large-message codec (C4).
type ChunkEnvelope struct {
	Type         string `json:"type"`
	MessageType  string `json:"message_type"`
	TransferID   string `json:"transfer_id"`
	ChunkIndex   int    `json:"chunk_index"`
	TotalChunks  int    `json:"total_chunks"`
	Codec        string `json:"codec"`
	Body         []byte `json:"body"`
}

// UploadProgress is emitted periodically while reassembling multi-chunk
// inbound transfers.
type UploadProgress struct {
	Type        string `json:"type"`
	TransferID  string `json:"transfer_id"`
	Received    int    `json:"received"`
	TotalChunks int    `json:"total_chunks"`
	Timestamp   int64  `json:"timestamp"`
}

func NewUploadProgress(transferID string, received, total int) UploadProgress {
	return UploadProgress{
		Type:        "upload_progress",
		TransferID:  transferID,
		Received:    received,
		TotalChunks: total,
		Timestamp:   time.Now().UnixMilli(),
	}
}

// ErrorEnvelope is the structured error surface.
type ErrorEnvelope struct {
	Type    string        `json:"type"`
	Payload ErrorPayload  `json:"payload"`
	System  bool          `json:"system,omitempty"`
}

type ErrorPayload struct {
	Error       string         `json:"error"`
	ErrorType   string         `json:"error_type,omitempty"`
	Code        int            `json:"code,omitempty"`
	Field       string         `json:"field,omitempty"`
	Timestamp   int64          `json:"timestamp"`
	Recoverable bool           `json:"recoverable,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
}

func NewErrorEnvelope(errType, message string, recoverable bool) ErrorEnvelope {
	return ErrorEnvelope{
		Type: "error",
		Payload: ErrorPayload{
			Error:       message,
			ErrorType:   errType,
			Timestamp:   time.Now().UnixMilli(),
			Recoverable: recoverable,
		},
	}
}

// UnknownTypeFallback is the lenient-mode rewrite.
type UnknownTypeFallback struct {
	Type    string               `json:"type"`
	Payload UnknownTypePayload   `json:"payload"`
}

type UnknownTypePayload struct {
	Error           string `json:"error"`
	OriginalType    string `json:"original_type"`
	OriginalPayload any    `json:"original_payload"`
	FallbackApplied bool   `json:"fallback_applied"`
	Timestamp       int64  `json:"ts"`
}

func NewUnknownTypeFallback(originalType string, originalPayload any) UnknownTypeFallback {
	return UnknownTypeFallback{
		Type: "error",
		Payload: UnknownTypePayload{
			Error:           "Unknown message type: " + originalType,
			OriginalType:    originalType,
			OriginalPayload: originalPayload,
			FallbackApplied: true,
			Timestamp:       time.Now().UnixMilli(),
		},
	}
}

// InboundMessage is a structurally-validated client→server message: a JSON
// object with at least a "type" string field.
type InboundMessage struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

// StateSyncTypes are handled internally by the state-sync collaborator
// rather than forwarded to the application message handler.
var StateSyncTypes = map[string]bool{
	"get_current_state":      true,
	"state_update":           true,
	"partial_state_update":   true,
	"client_state_update":    true,
}
