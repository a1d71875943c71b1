package rfc3161

import (
	"context"
	"encoding/asn1"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

var testHash = "sha256:" + strings.Repeat("ab", 32)

func TestBuildTimeStampRequestFromHashHex(t *testing.T) {
	req, err := BuildTimeStampRequestFromHashHex(testHash, "1.2.3.4")
	if err != nil {
		t.Fatalf("BuildTimeStampRequestFromHashHex error: %v", err)
	}
	var decoded timeStampReq
	if _, err := asn1.Unmarshal(req, &decoded); err != nil {
		t.Fatalf("request does not decode: %v", err)
	}
	if decoded.Version != 1 || len(decoded.MessageImprint.HashedMessage) != 32 {
		t.Fatalf("unexpected request %+v", decoded)
	}
	if !decoded.ReqPolicy.Equal(asn1.ObjectIdentifier{1, 2, 3, 4}) {
		t.Fatalf("policy not carried: %v", decoded.ReqPolicy)
	}
	if decoded.Nonce == nil || !decoded.CertReq {
		t.Fatalf("expected nonce and certReq")
	}

	for _, bad := range []string{"sha256:zz", "sha256:abcd"} {
		if _, err := BuildTimeStampRequestFromHashHex(bad, ""); err == nil {
			t.Fatalf("%s: expected error", bad)
		}
	}
	if _, err := BuildTimeStampRequestFromHashHex(testHash, "1..2"); err == nil {
		t.Fatalf("expected invalid policy error")
	}
}

func grantedResponse(t *testing.T, status int, token []byte) []byte {
	t.Helper()
	resp := timeStampResp{Status: pkiStatusInfo{Status: status}}
	if token != nil {
		resp.TimeStampToken = asn1.RawValue{FullBytes: token}
	}
	if status > 1 {
		resp.Status.StatusString = []string{"bad request"}
	}
	b, err := asn1.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}
	return b
}

func TestTimestamp(t *testing.T) {
	fixedToken := []byte{0x30, 0x03, 0x01, 0x01, 0xff}
	var gotBody []byte
	tsa := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST")
		}
		if got := r.Header.Get("Content-Type"); got != "application/timestamp-query" {
			t.Errorf("unexpected content type %q", got)
		}
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/timestamp-reply")
		_, _ = w.Write(grantedResponse(t, 0, fixedToken))
	}))
	defer tsa.Close()

	c := NewClient(tsa.URL, "", tsa.Client())
	token, err := c.Timestamp(context.Background(), testHash)
	if err != nil {
		t.Fatalf("Timestamp error: %v", err)
	}
	if token.ContentType != "application/timestamp-reply" || token.Authority != tsa.URL {
		t.Fatalf("unexpected token metadata %+v", token)
	}
	if string(token.DER) != string(fixedToken) {
		t.Fatalf("token mismatch: %x", token.DER)
	}
	if len(gotBody) == 0 {
		t.Fatalf("expected DER request body")
	}
}

func TestTimestampFailures(t *testing.T) {
	var reply func(w http.ResponseWriter)
	tsa := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reply(w)
	}))
	defer tsa.Close()
	c := NewClient(tsa.URL, "", tsa.Client())

	reply = func(w http.ResponseWriter) { _, _ = w.Write(grantedResponse(t, 2, nil)) }
	if _, err := c.Timestamp(context.Background(), testHash); !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}

	reply = func(w http.ResponseWriter) { _, _ = w.Write(grantedResponse(t, 0, nil)) }
	if _, err := c.Timestamp(context.Background(), testHash); !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse for missing token, got %v", err)
	}

	reply = func(w http.ResponseWriter) { w.WriteHeader(http.StatusServiceUnavailable) }
	if _, err := c.Timestamp(context.Background(), testHash); err == nil || !strings.Contains(err.Error(), "503") {
		t.Fatalf("expected http status error, got %v", err)
	}

	reply = func(w http.ResponseWriter) {}
	if _, err := c.Timestamp(context.Background(), testHash); !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse for empty body, got %v", err)
	}
}
