package validator

import "testing"

func TestValidateRejectsScriptTag(t *testing.T) {
	v := New(DefaultConfig())
	raw := []byte(`{"type":"message","payload":{"text":"<script>alert(1)</script>"}}`)

	_, verr := v.Validate(raw)
	if verr == nil {
		t.Fatalf("expected a security validation error")
	}
	if verr.ErrorType != "security_error" {
		t.Fatalf("expected security_error, got %s", verr.ErrorType)
	}
}

func TestValidateRejectsOversizedText(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxTextChars = 5
	v := New(cfg)
	raw := []byte(`{"type":"message","payload":{"text":"123456"}}`)

	_, verr := v.Validate(raw)
	if verr == nil || verr.ErrorType != "size_error" {
		t.Fatalf("expected size_error, got %+v", verr)
	}
}

func TestValidateLenientFallbackForUnknownType(t *testing.T) {
	v := New(DefaultConfig())
	raw := []byte(`{"type":"foo","payload":{"x":1}}`)

	result, verr := v.Validate(raw)
	if verr != nil {
		t.Fatalf("unexpected validation error in lenient mode: %v", verr)
	}
	if result.Fallback == nil {
		t.Fatalf("expected a fallback envelope")
	}
	if result.Fallback.Payload.OriginalType != "foo" {
		t.Fatalf("expected original_type 'foo', got %q", result.Fallback.Payload.OriginalType)
	}
	if !result.Fallback.Payload.FallbackApplied {
		t.Fatalf("expected fallback_applied=true")
	}
}

func TestValidateStrictRejectsUnknownType(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StrictMode = true
	v := New(cfg)
	raw := []byte(`{"type":"foo","payload":{}}`)

	_, verr := v.Validate(raw)
	if verr == nil {
		t.Fatalf("expected strict mode to reject unknown types")
	}
}

func TestValidateMissingTypeField(t *testing.T) {
	v := New(DefaultConfig())
	raw := []byte(`{"payload":{}}`)

	_, verr := v.Validate(raw)
	if verr == nil || verr.Field != "type" {
		t.Fatalf("expected structural error on missing type, got %+v", verr)
	}
}

func TestSanitizeIsIdempotent(t *testing.T) {
	input := `<script>"hi"</script>`
	once := Sanitize(input)
	twice := Sanitize(once)
	if once != twice {
		t.Fatalf("sanitize is not idempotent: once=%q twice=%q", once, twice)
	}
}

func TestSanitizeStripsControlChars(t *testing.T) {
	input := "hello\x00world\x08"
	out := Sanitize(input)
	if out != "helloworld" {
		t.Fatalf("expected control chars stripped, got %q", out)
	}
}
