package store

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
)

// Document-shaped fields are stored as JSON text columns.

type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	return marshalColumn(l)
}

func (l *StringList) Scan(src any) error {
	return scanColumn(src, l)
}

type Headers map[string]string

func (h Headers) Value() (driver.Value, error) {
	if h == nil {
		return "{}", nil
	}
	return marshalColumn(h)
}

func (h *Headers) Scan(src any) error {
	return scanColumn(src, h)
}

// Get looks a header up case-insensitively.
func (h Headers) Get(name string) string {
	if v, ok := h[name]; ok {
		return v
	}
	for k, v := range h {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

type Attachments []Attachment

func (a Attachments) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	return marshalColumn(a)
}

func (a *Attachments) Scan(src any) error {
	return scanColumn(src, a)
}

// Find returns the attachment with the given id.
func (a Attachments) Find(id string) (Attachment, bool) {
	for _, att := range a {
		if att.ID == id {
			return att, true
		}
	}
	return Attachment{}, false
}

type ReplyHistory []ReplyEntry

func (r ReplyHistory) Value() (driver.Value, error) {
	if r == nil {
		return "[]", nil
	}
	return marshalColumn(r)
}

func (r *ReplyHistory) Scan(src any) error {
	return scanColumn(src, r)
}

func marshalColumn(v any) (driver.Value, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal column: %w", err)
	}
	return string(data), nil
}

func scanColumn(src any, dest any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		return nil
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("scan column: unsupported type %T", src)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("scan column: %w", err)
	}
	return nil
}
