package signedauth

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/dhannusch/pincer/internal/apierr"
	"github.com/dhannusch/pincer/internal/cryptoutil"
	"github.com/dhannusch/pincer/internal/runtimekey"
)

type fakeKeys struct {
	rec runtimekey.Record
	err error
}

func (f fakeKeys) Get(ctx context.Context) (runtimekey.Record, error) { return f.rec, f.err }

type fakeVault struct {
	values map[string]string
}

func (f fakeVault) Resolve(ctx context.Context, binding string) (string, error) {
	return f.values[binding], nil
}

const testKeySecret = "keysecretvalue"
const testHMACSecret = "hmacsecretvalue"

func testRecord(t *testing.T) runtimekey.Record {
	t.Helper()
	return runtimekey.Record{
		ID:                "key_abc",
		KeyHash:           cryptoutil.SHA256Hex([]byte(testKeySecret)),
		HMACSecretBinding: "PINCER_HMAC_SECRET_ACTIVE",
		KeySecretBinding:  "PINCER_RUNTIME_KEY_SECRET_ACTIVE",
		SkewSeconds:       60,
	}
}

func sign(method, path string, ts int64, body []byte, hmacSecret string) (bodyHash, signature string) {
	bodyHash = cryptoutil.SHA256Hex(body)
	signing := cryptoutil.CanonicalSigningString(method, path, ts, bodyHash)
	signature = "v1=" + cryptoutil.HMACSHA256Hex([]byte(hmacSecret), []byte(signing))
	return bodyHash, signature
}

func newVerifier(rec runtimekey.Record, now time.Time) *Verifier {
	v := New(fakeKeys{rec: rec}, fakeVault{values: map[string]string{"PINCER_HMAC_SECRET_ACTIVE": testHMACSecret}})
	v.Now = func() time.Time { return now }
	return v
}

func TestVerifyValidSignature(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	rec := testRecord(t)
	body := []byte(`{"channelId":"abc"}`)
	ts := now.Unix()
	bodyHash, sig := sign("POST", "/v1/adapter/youtube/list_channel_videos", ts, body, testHMACSecret)

	v := newVerifier(rec, now)
	res, err := v.Verify(context.Background(), Input{
		Method:           "POST",
		Path:             "/v1/adapter/youtube/list_channel_videos",
		Body:             body,
		AuthorizationHdr: "Bearer key_abc." + testKeySecret,
		TimestampHdr:     "1700000000",
		BodySHA256Hdr:    bodyHash,
		SignatureHdr:     sig,
	})
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if !res.OK || res.KeyID != "key_abc" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestVerifyInvalidFormat(t *testing.T) {
	v := newVerifier(testRecord(t), time.Now())
	_, err := v.Verify(context.Background(), Input{AuthorizationHdr: "Basic foo"})
	if err != apierr.ErrInvalidRuntimeKeyFormat {
		t.Fatalf("expected ErrInvalidRuntimeKeyFormat, got %v", err)
	}
}

func TestVerifyUnknownRuntimeKey(t *testing.T) {
	rec := testRecord(t)
	now := time.Unix(1_700_000_000, 0)
	v := newVerifier(rec, now)
	body := []byte("{}")
	bodyHash, sig := sign("GET", "/p", now.Unix(), body, testHMACSecret)
	_, err := v.Verify(context.Background(), Input{
		Method:           "GET",
		Path:             "/p",
		Body:             body,
		AuthorizationHdr: "Bearer key_other." + testKeySecret,
		TimestampHdr:     "1700000000",
		BodySHA256Hdr:    bodyHash,
		SignatureHdr:     sig,
	})
	if err != apierr.ErrUnknownRuntimeKey {
		t.Fatalf("expected ErrUnknownRuntimeKey, got %v", err)
	}
}

func TestVerifyInvalidRuntimeKeySecret(t *testing.T) {
	rec := testRecord(t)
	now := time.Unix(1_700_000_000, 0)
	v := newVerifier(rec, now)
	body := []byte("{}")
	bodyHash, sig := sign("GET", "/p", now.Unix(), body, testHMACSecret)
	_, err := v.Verify(context.Background(), Input{
		Method:           "GET",
		Path:             "/p",
		Body:             body,
		AuthorizationHdr: "Bearer key_abc.wrong-secret",
		TimestampHdr:     "1700000000",
		BodySHA256Hdr:    bodyHash,
		SignatureHdr:     sig,
	})
	if err != apierr.ErrInvalidRuntimeKey {
		t.Fatalf("expected ErrInvalidRuntimeKey, got %v", err)
	}
}

func TestVerifyMissingHMACSecret(t *testing.T) {
	rec := testRecord(t)
	now := time.Unix(1_700_000_000, 0)
	v := New(fakeKeys{rec: rec}, fakeVault{values: map[string]string{}})
	v.Now = func() time.Time { return now }
	body := []byte("{}")
	bodyHash, sig := sign("GET", "/p", now.Unix(), body, testHMACSecret)
	_, err := v.Verify(context.Background(), Input{
		Method:           "GET",
		Path:             "/p",
		Body:             body,
		AuthorizationHdr: "Bearer key_abc." + testKeySecret,
		TimestampHdr:     "1700000000",
		BodySHA256Hdr:    bodyHash,
		SignatureHdr:     sig,
	})
	if err != apierr.ErrMissingHMACSecret {
		t.Fatalf("expected ErrMissingHMACSecret, got %v", err)
	}
}

func TestVerifyStaleTimestampBoundary(t *testing.T) {
	rec := testRecord(t) // skewSeconds = 60
	now := time.Unix(1_700_000_120, 0)
	body := []byte("{}")

	// Exactly at the 60s boundary: accepted.
	tsAtBoundary := now.Unix() - 60
	bodyHash, sig := sign("GET", "/p", tsAtBoundary, body, testHMACSecret)
	v := newVerifier(rec, now)
	res, err := v.Verify(context.Background(), Input{
		Method:           "GET",
		Path:             "/p",
		Body:             body,
		AuthorizationHdr: "Bearer key_abc." + testKeySecret,
		TimestampHdr:     strconv.FormatInt(tsAtBoundary, 10),
		BodySHA256Hdr:    bodyHash,
		SignatureHdr:     sig,
	})
	if err != nil || !res.OK {
		t.Fatalf("expected success at exact skew boundary, got res=%+v err=%v", res, err)
	}

	// One second past the boundary: rejected.
	tsPastBoundary := tsAtBoundary - 1
	bodyHash2, sig2 := sign("GET", "/p", tsPastBoundary, body, testHMACSecret)
	_, err = v.Verify(context.Background(), Input{
		Method:           "GET",
		Path:             "/p",
		Body:             body,
		AuthorizationHdr: "Bearer key_abc." + testKeySecret,
		TimestampHdr:     strconv.FormatInt(tsPastBoundary, 10),
		BodySHA256Hdr:    bodyHash2,
		SignatureHdr:     sig2,
	})
	if err != apierr.ErrStaleTimestamp {
		t.Fatalf("expected ErrStaleTimestamp past boundary, got %v", err)
	}
}

func TestVerifyInvalidBodyHash(t *testing.T) {
	rec := testRecord(t)
	now := time.Unix(1_700_000_000, 0)
	v := newVerifier(rec, now)
	body := []byte(`{"a":1}`)
	_, sig := sign("GET", "/p", now.Unix(), body, testHMACSecret)
	_, err := v.Verify(context.Background(), Input{
		Method:           "GET",
		Path:             "/p",
		Body:             body,
		AuthorizationHdr: "Bearer key_abc." + testKeySecret,
		TimestampHdr:     "1700000000",
		BodySHA256Hdr:    "0000000000000000000000000000000000000000000000000000000000000000",
		SignatureHdr:     sig,
	})
	if err != apierr.ErrInvalidBodyHash {
		t.Fatalf("expected ErrInvalidBodyHash, got %v", err)
	}
}

func TestVerifyInvalidSignature(t *testing.T) {
	rec := testRecord(t)
	now := time.Unix(1_700_000_000, 0)
	v := newVerifier(rec, now)
	body := []byte(`{"a":1}`)
	bodyHash, _ := sign("GET", "/p", now.Unix(), body, testHMACSecret)
	_, err := v.Verify(context.Background(), Input{
		Method:           "GET",
		Path:             "/p",
		Body:             body,
		AuthorizationHdr: "Bearer key_abc." + testKeySecret,
		TimestampHdr:     "1700000000",
		BodySHA256Hdr:    bodyHash,
		SignatureHdr:     "v1=deadbeef",
	})
	if err != apierr.ErrInvalidSignature {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}
