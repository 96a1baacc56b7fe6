// Package common holds helpers shared by the service packages.
package common

import (
	"encoding/base64"
	"fmt"

	apperrors "github.com/acme/pharmacy-outreach/pkg/errors"
)

// EncodePageToken turns an opaque store paging state into a URL-safe token.
// An empty state yields an empty token, meaning no further pages.
func EncodePageToken(state []byte) string {
	if len(state) == 0 {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(state)
}

// DecodePageToken reverses EncodePageToken.
func DecodePageToken(token string) ([]byte, error) {
	if token == "" {
		return nil, nil
	}
	state, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed page token", apperrors.ErrValidation)
	}
	return state, nil
}
