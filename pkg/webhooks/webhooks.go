// Package webhooks signs outbound webhook deliveries and verifies them on
// the receiving side. A delivery carries
//
//	X-Contractseal-Signature: t=<unix seconds>,v1=<hex hmac-sha256>
//
// where the MAC covers "<t>.<raw body>". Several v1 entries may be present
// while a secret is rotated.
package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	SignatureHeader = "X-Contractseal-Signature"
	EventIDHeader   = "X-Contractseal-Event-Id"
	EventTypeHeader = "X-Contractseal-Event-Type"
	Scheme          = "hmac-sha256/v1"

	DefaultTolerance = 5 * time.Minute
)

var ErrEmptySecret = errors.New("webhook secret is empty")

type VerificationResult struct {
	Valid     bool           `json:"valid"`
	Scheme    string         `json:"scheme"`
	Details   map[string]any `json:"details"`
	EventID   string         `json:"event_id,omitempty"`
	EventType string         `json:"event_type,omitempty"`
}

func mac(secret, timestamp string, body []byte) []byte {
	m := hmac.New(sha256.New, []byte(secret))
	_, _ = m.Write([]byte(timestamp))
	_, _ = m.Write([]byte{'.'})
	_, _ = m.Write(body)
	return m.Sum(nil)
}

// SignatureValue returns the signature header value for body sent at ts.
func SignatureValue(secret string, ts time.Time, body []byte) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", ErrEmptySecret
	}
	t := strconv.FormatInt(ts.UTC().Unix(), 10)
	return "t=" + t + ",v1=" + hex.EncodeToString(mac(secret, t, body)), nil
}

// Sign sets the signature header on h.
func Sign(h http.Header, secret string, ts time.Time, body []byte) error {
	v, err := SignatureValue(secret, ts, body)
	if err != nil {
		return err
	}
	h.Set(SignatureHeader, v)
	return nil
}

// Verify checks the signature header against rawBody. A tolerance of zero
// disables the timestamp check. An invalid signature is reported in the
// result, not as an error.
func Verify(headers http.Header, rawBody []byte, receivedAt time.Time, secret string, tolerance time.Duration) (VerificationResult, error) {
	if strings.TrimSpace(secret) == "" {
		return VerificationResult{}, ErrEmptySecret
	}

	timestamp, signatures := parseSignatureHeader(headers.Values(SignatureHeader))
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		ts = 0
	}
	var skew time.Duration
	if ts > 0 {
		skew = receivedAt.UTC().Sub(time.Unix(ts, 0))
		if skew < 0 {
			skew = -skew
		}
	}

	res := VerificationResult{
		Scheme: Scheme,
		Details: map[string]any{
			"signature_header_present": headers.Get(SignatureHeader) != "",
			"parsed_timestamp":         ts,
			"tolerance_seconds":        int(tolerance / time.Second),
			"skew_seconds":             int(skew / time.Second),
			"v1_present":               len(signatures) > 0,
		},
		EventID:   strings.TrimSpace(headers.Get(EventIDHeader)),
		EventType: strings.TrimSpace(headers.Get(EventTypeHeader)),
	}
	if ts <= 0 || len(signatures) == 0 {
		return res, nil
	}

	expected := mac(secret, timestamp, rawBody)
	for _, sigHex := range signatures {
		decoded, err := hex.DecodeString(sigHex)
		if err != nil {
			continue
		}
		if hmac.Equal(expected, decoded) {
			res.Valid = true
			break
		}
	}
	if res.Valid && tolerance > 0 && skew > tolerance {
		res.Valid = false
		res.Details["expired"] = true
	}
	return res, nil
}

func parseSignatureHeader(values []string) (string, []string) {
	joined := strings.TrimSpace(strings.Join(values, ","))
	if joined == "" {
		return "", nil
	}
	var t string
	v1 := make([]string, 0, 2)
	for _, part := range strings.Split(joined, ",") {
		k, val, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		k, val = strings.TrimSpace(k), strings.TrimSpace(val)
		switch {
		case k == "t" && t == "":
			t = val
		case k == "v1" && val != "":
			v1 = append(v1, val)
		}
	}
	return t, v1
}
