package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/acme/pharmacy-outreach/internal/config"
	apperrors "github.com/acme/pharmacy-outreach/pkg/errors"
)

// DefaultSignatureHeaders are tried in order when none are configured.
var DefaultSignatureHeaders = []string{
	"x-vapi-signature",
	"x-vapi-signature-v1",
	"vapi-signature",
	"x-signature",
}

// Verifier checks the shared-secret HMAC carried by provider webhooks.
type Verifier struct {
	secret          []byte
	headers         []string
	allowUnverified bool
	production      bool
	logger          *zap.Logger
}

// NewVerifier builds a verifier from webhook configuration.
func NewVerifier(cfg config.WebhookConfig, production bool, logger *zap.Logger) *Verifier {
	headers := cfg.SignatureHeaders
	if len(headers) == 0 {
		headers = DefaultSignatureHeaders
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Verifier{
		secret:          []byte(cfg.Secret),
		headers:         headers,
		allowUnverified: cfg.AllowUnverified,
		production:      production,
		logger:          logger,
	}
}

// Verify checks body against the first signature header present. header
// returns the request header value for a name. The boolean reports whether
// the signature was actually checked and matched; unverified deliveries
// that are let through report false with a nil error.
func (v *Verifier) Verify(header func(string) string, body []byte) (bool, error) {
	if len(v.secret) == 0 {
		if v.production {
			return false, fmt.Errorf("webhook: signing secret not configured: %w", apperrors.ErrUnavailable)
		}
		return false, nil
	}

	provided := ""
	for _, name := range v.headers {
		if val := strings.TrimSpace(header(name)); val != "" {
			provided = val
			break
		}
	}
	if provided == "" {
		return v.reject("missing signature header")
	}

	if v.matches(normalizeSignature(provided), body) {
		return true, nil
	}
	return v.reject("invalid signature")
}

func (v *Verifier) reject(reason string) (bool, error) {
	if v.allowUnverified {
		v.logger.Warn("webhook signature check failed, accepting unverified delivery", zap.String("reason", reason))
		return false, nil
	}
	return false, fmt.Errorf("webhook: %s: %w", reason, apperrors.ErrUnauthorized)
}

func (v *Verifier) matches(provided string, body []byte) bool {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)
	expected := mac.Sum(nil)

	if decoded, err := hex.DecodeString(provided); err == nil && hmac.Equal(decoded, expected) {
		return true
	}
	if decoded, err := base64.StdEncoding.DecodeString(provided); err == nil && hmac.Equal(decoded, expected) {
		return true
	}
	return false
}

// Sign returns the hex HMAC-SHA256 of body, in the form providers send it.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// normalizeSignature strips a scheme prefix such as "sha256=" while
// leaving base64 padding alone.
func normalizeSignature(sig string) string {
	scheme, rest, ok := strings.Cut(sig, "=")
	if !ok || rest == "" || len(scheme) > 10 {
		return sig
	}
	for _, r := range scheme {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return sig
		}
	}
	return rest
}
