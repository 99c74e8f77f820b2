// Package validator implements the Validator/Sanitizer pipeline (C3):
// structural checks, type acceptance, XSS/security scrubbing, size caps,
// and an optional typed-schema hook, short-circuiting on the first
// failure. The cap on the raw frame's size runs before every other step,
// so an oversized frame reports size_error even when it is also malformed
// or of an unknown type; the remaining steps run in the order listed.
package validator

import (
	"encoding/json"
	"strings"

	"github.com/netra-systems/ws-fabric/internal/domain/model"
)

// SchemaHook is the optional typed-schema validation step. Implementations
// return a non-nil error to reject.
type SchemaHook func(msgType string, payload map[string]any) error

var sentinelTokens = []string{
	"onclick=", "onerror=", "onload=", "onmouseover=",
	"<iframe", "<object", "<embed", "<form",
}

// Config tunes the pipeline's acceptance rules.
type Config struct {
	RecognizedTypes map[string]bool
	StrictMode      bool
	MaxTextChars    int
	MaxMessageBytes int
	SchemaHook      SchemaHook
}

func DefaultConfig() Config {
	return Config{
		RecognizedTypes: map[string]bool{
			"message":               true,
			"heartbeat_ping":        true,
			"heartbeat_pong":        true,
			"heartbeat_response":    true,
			"get_current_state":     true,
			"state_update":          true,
			"partial_state_update":  true,
			"client_state_update":   true,
			"chunk":                 true,
		},
		StrictMode:      false,
		MaxTextChars:    10000,
		MaxMessageBytes: 1 << 20, // 1 MiB
	}
}

type Validator struct {
	cfg Config
}

func New(cfg Config) *Validator {
	return &Validator{cfg: cfg}
}

// Result is either a validated message ready for dispatch, or — in
// lenient mode, for unrecognized types — a fallback envelope to send
// back to the client instead of an error.
type Result struct {
	Message  *model.InboundMessage
	Fallback *model.UnknownTypeFallback
}

// Validate runs the ordered, short-circuiting pipeline.
// raw is the serialized frame as received from the socket.
func (v *Validator) Validate(raw []byte) (*Result, *model.ValidationError) {
	// Step 4 (size cap) is checked first since it is cheap and protects the
	// json.Unmarshal call below from adversarially large input.
	if v.cfg.MaxMessageBytes > 0 && len(raw) > v.cfg.MaxMessageBytes {
		return nil, &model.ValidationError{
			ErrorType: "size_error",
			Field:     "message",
			Message:   "message exceeds maximum size",
		}
	}

	// Step 1: structural — must decode to a mapping with a "type" string.
	var msg model.InboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, &model.ValidationError{
			ErrorType: "structural_error",
			Field:     "root",
			Message:   "message must be a JSON object",
		}
	}
	if msg.Type == "" {
		return nil, &model.ValidationError{
			ErrorType: "structural_error",
			Field:     "type",
			Message:   "message is missing a \"type\" field",
		}
	}

	// Step 2: type acceptance.
	if !v.cfg.RecognizedTypes[msg.Type] {
		if v.cfg.StrictMode {
			return nil, &model.ValidationError{
				ErrorType:    "unknown_type",
				Field:        "type",
				Message:      "Unknown message type: " + msg.Type,
				ReceivedData: msg.Type,
			}
		}
		fallback := model.NewUnknownTypeFallback(msg.Type, msg.Payload)
		return &Result{Fallback: &fallback}, nil
	}

	// Step 3: security scrubbing of payload.text.
	if text, ok := msg.Payload["text"].(string); ok {
		if verr := v.checkText(text); verr != nil {
			return nil, verr
		}
	}

	// Step 5: optional typed-schema hook.
	if v.cfg.SchemaHook != nil {
		if err := v.cfg.SchemaHook(msg.Type, msg.Payload); err != nil {
			return nil, &model.ValidationError{
				ErrorType: "schema_error",
				Field:     "payload",
				Message:   err.Error(),
			}
		}
	}

	return &Result{Message: &msg}, nil
}

func (v *Validator) checkText(text string) *model.ValidationError {
	lower := strings.ToLower(text)
	if strings.Contains(lower, "<script") || strings.Contains(lower, "javascript:") {
		return &model.ValidationError{
			ErrorType: "security_error",
			Field:     "payload.text",
			Message:   "payload contains a disallowed script construct",
		}
	}
	for _, token := range sentinelTokens {
		if strings.Contains(lower, token) {
			return &model.ValidationError{
				ErrorType: "security_error",
				Field:     "payload.text",
				Message:   "payload contains a disallowed XSS sentinel token",
			}
		}
	}
	maxChars := v.cfg.MaxTextChars
	if maxChars <= 0 {
		maxChars = 10000
	}
	if len([]rune(text)) > maxChars {
		return &model.ValidationError{
			ErrorType: "size_error",
			Field:     "payload.text",
			Message:   "payload.text exceeds the configured maximum length",
		}
	}
	return nil
}
