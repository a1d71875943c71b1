package did

import (
	"errors"
	"testing"
)

func TestDecodeJSONControllerForms(t *testing.T) {
	doc, err := DecodeJSON([]byte(`{"id":"did:example:a","controller":["did:example:b","did:example:c"],"verificationMethod":[]}`))
	if err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}
	if len(doc.Controller) != 2 {
		t.Fatalf("expected two controllers, got %v", doc.Controller)
	}
	doc, err = DecodeJSON([]byte(`{"id":"did:example:a","controller":"did:example:b"}`))
	if err != nil || len(doc.Controller) != 1 || doc.Controller[0] != "did:example:b" {
		t.Fatalf("unexpected controller decode: %v %v", doc, err)
	}
}

func TestDecodeJSONRejects(t *testing.T) {
	if _, err := DecodeJSON([]byte(`{`)); !errors.Is(err, ErrInvalidFormat) {
		t.Fatalf("expected ErrInvalidFormat, got %v", err)
	}
	if _, err := DecodeJSON([]byte(`{"id":"did:example:a","authentication":[42]}`)); !errors.Is(err, ErrInvalidFormat) {
		t.Fatalf("expected ErrInvalidFormat for numeric relationship, got %v", err)
	}
	if _, err := DecodeJSON([]byte(`{"id":"did:example:a","deactivated":true}`)); !errors.Is(err, ErrDeactivated) {
		t.Fatalf("expected ErrDeactivated, got %v", err)
	}
}
