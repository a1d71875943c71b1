package did

import (
	"bytes"
	"fmt"

	"github.com/goccy/go-json"
)

type wireDocument struct {
	ID                  string               `json:"id"`
	Controller          json.RawMessage      `json:"controller"`
	VerificationMethods []VerificationMethod `json:"verificationMethod"`
	Authentication      []json.RawMessage    `json:"authentication"`
	AssertionMethod     []json.RawMessage    `json:"assertionMethod"`
	Deactivated         bool                 `json:"deactivated"`
}

// DecodeJSON parses a W3C DID document. The controller may be a string or an
// array; authentication and assertionMethod entries may be references or
// embedded methods, and embedded ones are appended to VerificationMethods.
func DecodeJSON(b []byte) (*Document, error) {
	var w wireDocument
	if err := json.Unmarshal(b, &w); err != nil {
		return nil, fmt.Errorf("%w: decode document: %v", ErrInvalidFormat, err)
	}
	if w.Deactivated {
		return nil, ErrDeactivated
	}
	doc := &Document{ID: w.ID, VerificationMethods: w.VerificationMethods}

	if c := bytes.TrimSpace(w.Controller); len(c) > 0 && !bytes.Equal(c, []byte("null")) {
		var one string
		if err := json.Unmarshal(c, &one); err == nil {
			doc.Controller = []string{one}
		} else if err := json.Unmarshal(c, &doc.Controller); err != nil {
			return nil, fmt.Errorf("%w: controller: %v", ErrInvalidFormat, err)
		}
	}

	var err error
	if doc.Authentication, err = doc.relationship(w.Authentication); err != nil {
		return nil, err
	}
	if doc.AssertionMethod, err = doc.relationship(w.AssertionMethod); err != nil {
		return nil, err
	}
	return doc, nil
}

func (d *Document) relationship(entries []json.RawMessage) ([]string, error) {
	var out []string
	for _, raw := range entries {
		var ref string
		if err := json.Unmarshal(raw, &ref); err == nil {
			out = append(out, ref)
			continue
		}
		var m VerificationMethod
		if err := json.Unmarshal(raw, &m); err != nil || m.ID == "" {
			return nil, fmt.Errorf("%w: verification relationship entry", ErrInvalidFormat)
		}
		if _, err := d.FindMethod(m.ID); err != nil {
			d.VerificationMethods = append(d.VerificationMethods, m)
		}
		out = append(out, m.ID)
	}
	return out, nil
}
