package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	cookieName = "mailroom_session"
)

var errInvalidSession = errors.New("invalid session token")

// Identity is the public view of an account carried in the session.
type Identity struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	IsAdmin  bool   `json:"is_admin"`
}

// Manager issues and verifies HMAC-signed session tokens.
type Manager struct {
	secret []byte
	maxAge time.Duration
}

func NewManager(secret string, maxAge time.Duration) (*Manager, error) {
	if strings.TrimSpace(secret) == "" {
		generated := make([]byte, 32)
		if _, err := rand.Read(generated); err != nil {
			return nil, fmt.Errorf("generate auth secret: %w", err)
		}
		secret = base64.RawURLEncoding.EncodeToString(generated)
	}
	return &Manager{secret: []byte(secret), maxAge: maxAge}, nil
}

func (m *Manager) CookieName() string {
	return cookieName
}

func (m *Manager) MaxAge() time.Duration {
	return m.maxAge
}

func (m *Manager) Issue(identity Identity, now time.Time) (string, error) {
	data, err := json.Marshal(identity)
	if err != nil {
		return "", fmt.Errorf("encode session: %w", err)
	}
	timestamp := strconv.FormatInt(now.Unix(), 10)
	payload := base64.RawURLEncoding.EncodeToString(data) + "|" + timestamp
	token := payload + "|" + m.sign(payload)
	return base64.RawURLEncoding.EncodeToString([]byte(token)), nil
}

func (m *Manager) Parse(token string, now time.Time) (Identity, error) {
	if token == "" {
		return Identity{}, errors.New("missing session token")
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Identity{}, errInvalidSession
	}
	parts := strings.Split(string(raw), "|")
	if len(parts) != 3 {
		return Identity{}, errInvalidSession
	}
	payload := parts[0] + "|" + parts[1]
	if !m.verify(payload, parts[2]) {
		return Identity{}, errInvalidSession
	}
	timestamp, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return Identity{}, errInvalidSession
	}
	if now.Sub(time.Unix(timestamp, 0)) > m.maxAge {
		return Identity{}, errors.New("session expired")
	}
	data, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return Identity{}, errInvalidSession
	}
	var identity Identity
	if err := json.Unmarshal(data, &identity); err != nil || identity.Username == "" {
		return Identity{}, errInvalidSession
	}
	return identity, nil
}

func (m *Manager) sign(payload string) string {
	mac := hmac.New(sha256.New, m.secret)
	mac.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func (m *Manager) verify(payload, signature string) bool {
	expected := m.sign(payload)
	return hmac.Equal([]byte(expected), []byte(signature))
}
