package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Attachment describes a stored object. Path is always a storage key, never a URL.
type Attachment struct {
	Bucket string `json:"bucket"`
	Path   string `json:"path"`
	Name   string `json:"name"`
	Mime   string `json:"mime"`
	Size   int64  `json:"size"`
}

// Attachments is persisted as a JSON array column.
type Attachments []Attachment

func (a Attachments) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (a *Attachments) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*a = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("attachments: unsupported column type %T", src)
	}
	if len(raw) == 0 || string(raw) == "null" {
		*a = nil
		return nil
	}
	var out Attachments
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("attachments: invalid json: %w", err)
	}
	*a = out
	return nil
}

// Without returns a copy without the attachment stored under path.
func (a Attachments) Without(path string) (Attachments, bool) {
	out := make(Attachments, 0, len(a))
	found := false
	for _, att := range a {
		if att.Path == path {
			found = true
			continue
		}
		out = append(out, att)
	}
	return out, found
}

// Find returns the attachment stored under path.
func (a Attachments) Find(path string) (Attachment, bool) {
	for _, att := range a {
		if att.Path == path {
			return att, true
		}
	}
	return Attachment{}, false
}
