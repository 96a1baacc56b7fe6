package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/acme/pharmacy-outreach/internal/config"
	apperrors "github.com/acme/pharmacy-outreach/pkg/errors"
)

const testSecret = "s3cret"

var testBody = []byte(`{"event":"call-ended","data":{"callId":"prov-1"}}`)

func headers(kv map[string]string) func(string) string {
	return func(name string) string { return kv[name] }
}

func base64Signature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestVerifyAcceptsSignatureFormats(t *testing.T) {
	v := NewVerifier(config.WebhookConfig{Secret: testSecret}, true, nil)
	hexSig := Sign(testSecret, testBody)

	tests := map[string]map[string]string{
		"prefixed hex":           {"x-vapi-signature": hexSig},
		"bare hex":               {"x-vapi-signature": hexSig[len("sha256="):]},
		"base64 in later header": {"x-signature": base64Signature(testSecret, testBody)},
		"prefixed base64":        {"vapi-signature": "sha256=" + base64Signature(testSecret, testBody)},
	}
	for name, h := range tests {
		t.Run(name, func(t *testing.T) {
			ok, err := v.Verify(headers(h), testBody)
			if err != nil || !ok {
				t.Fatalf("Verify = %v, %v; want true, nil", ok, err)
			}
		})
	}
}

func TestVerifyRejectsBadSignature(t *testing.T) {
	v := NewVerifier(config.WebhookConfig{Secret: testSecret}, false, nil)

	ok, err := v.Verify(headers(map[string]string{"x-vapi-signature": Sign("other", testBody)}), testBody)
	if ok || !errors.Is(err, apperrors.ErrUnauthorized) {
		t.Fatalf("Verify = %v, %v; want unauthorized", ok, err)
	}

	tampered := append([]byte(nil), testBody...)
	tampered[len(tampered)-3] = 'X'
	ok, err = v.Verify(headers(map[string]string{"x-vapi-signature": Sign(testSecret, testBody)}), tampered)
	if ok || !errors.Is(err, apperrors.ErrUnauthorized) {
		t.Fatalf("tampered body: Verify = %v, %v; want unauthorized", ok, err)
	}

	ok, err = v.Verify(headers(nil), testBody)
	if ok || !errors.Is(err, apperrors.ErrUnauthorized) {
		t.Fatalf("missing header: Verify = %v, %v; want unauthorized", ok, err)
	}
}

func TestVerifyAllowUnverified(t *testing.T) {
	v := NewVerifier(config.WebhookConfig{Secret: testSecret, AllowUnverified: true}, true, nil)

	ok, err := v.Verify(headers(map[string]string{"x-vapi-signature": "sha256=deadbeef"}), testBody)
	if ok || err != nil {
		t.Fatalf("Verify = %v, %v; want false, nil", ok, err)
	}
}

func TestVerifyWithoutSecret(t *testing.T) {
	dev := NewVerifier(config.WebhookConfig{}, false, nil)
	if ok, err := dev.Verify(headers(nil), testBody); ok || err != nil {
		t.Fatalf("development: Verify = %v, %v; want false, nil", ok, err)
	}

	prod := NewVerifier(config.WebhookConfig{}, true, nil)
	if _, err := prod.Verify(headers(nil), testBody); !errors.Is(err, apperrors.ErrUnavailable) {
		t.Fatalf("production: err = %v, want unavailable", err)
	}
}

func TestVerifyCustomHeaders(t *testing.T) {
	v := NewVerifier(config.WebhookConfig{Secret: testSecret, SignatureHeaders: []string{"x-pharmacy-signature"}}, false, nil)

	ok, err := v.Verify(headers(map[string]string{"x-pharmacy-signature": Sign(testSecret, testBody)}), testBody)
	if err != nil || !ok {
		t.Fatalf("Verify = %v, %v; want true, nil", ok, err)
	}

	_, err = v.Verify(headers(map[string]string{"x-vapi-signature": Sign(testSecret, testBody)}), testBody)
	if !errors.Is(err, apperrors.ErrUnauthorized) {
		t.Fatalf("default header should be ignored, err = %v", err)
	}
}
