package ingest

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const signatureTolerance = 5 * time.Minute

var ErrInvalidSignature = errors.New("invalid webhook signature")

// Verifier checks Svix-style webhook signatures.
type Verifier struct {
	key []byte
}

// NewVerifier decodes a "whsec_" prefixed base64 secret. An empty secret
// yields a nil verifier, which accepts every request.
func NewVerifier(secret string) (*Verifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, nil
	}
	key, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(secret, "whsec_"))
	if err != nil {
		return nil, fmt.Errorf("decode webhook secret: %w", err)
	}
	return &Verifier{key: key}, nil
}

// Verify checks the svix-id, svix-timestamp and svix-signature headers
// against body.
func (v *Verifier) Verify(header http.Header, body []byte, now time.Time) error {
	if v == nil {
		return nil
	}
	id := header.Get("svix-id")
	timestamp := header.Get("svix-timestamp")
	signatures := header.Get("svix-signature")
	if id == "" || timestamp == "" || signatures == "" {
		return fmt.Errorf("%w: missing signature headers", ErrInvalidSignature)
	}

	seconds, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp", ErrInvalidSignature)
	}
	if math.Abs(now.Sub(time.Unix(seconds, 0)).Seconds()) > signatureTolerance.Seconds() {
		return fmt.Errorf("%w: timestamp outside tolerance", ErrInvalidSignature)
	}

	expected := v.sign(id, timestamp, body)
	for _, candidate := range strings.Fields(signatures) {
		version, sig, ok := strings.Cut(candidate, ",")
		if !ok || version != "v1" {
			continue
		}
		decoded, err := base64.StdEncoding.DecodeString(sig)
		if err != nil {
			continue
		}
		if hmac.Equal(decoded, expected) {
			return nil
		}
	}
	return ErrInvalidSignature
}

func (v *Verifier) sign(id, timestamp string, body []byte) []byte {
	mac := hmac.New(sha256.New, v.key)
	mac.Write([]byte(id + "." + timestamp + "."))
	mac.Write(body)
	return mac.Sum(nil)
}
