// Package device defines the records the discovery engine works on: devices,
// the credentials used to reach them, and the raw output collected from them.
package device

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/anstrom/netman/internal/registry"
)

// Device is a network device as known to netman. An unsaved record has a nil ID.
type Device struct {
	ID           uuid.UUID       `json:"id"`
	IP           string          `json:"ip"`
	Name         string          `json:"name"`
	Serial       string          `json:"serial"`
	Model        string          `json:"model"`
	Type         registry.TypeID `json:"type"`
	Data         ScanData        `json:"data"`
	CredentialID *uuid.UUID      `json:"credential_id,omitempty"`

	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	LastDiscoveredAt *time.Time `json:"last_discovered_at,omitempty"`
	LastScannedAt    *time.Time `json:"last_scanned_at,omitempty"`
}

// IsNew reports whether the record has never been persisted.
func (d *Device) IsNew() bool {
	return d.ID == uuid.Nil
}

// ValidIP reports whether the device address parses as an IPv4 or IPv6 address.
func (d *Device) ValidIP() bool {
	return net.ParseIP(d.IP) != nil
}

// BindCredential records the credential that last opened a session.
func (d *Device) BindCredential(id uuid.UUID) {
	d.CredentialID = &id
}

// Credential is a username/passkey pair. An empty Scope applies to every type.
type Credential struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	Username  string          `json:"username" db:"username"`
	Passkey   string          `json:"-" db:"passkey"`
	Scope     registry.TypeID `json:"scope,omitempty" db:"scope"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// IsGlobal reports whether the credential is not bound to a type.
func (c *Credential) IsGlobal() bool {
	return c.Scope == ""
}

// Output is the raw output of one scan command.
type Output struct {
	Key    string
	Output string
}

// ScanData holds command outputs keyed by scan key, in the order they were collected.
type ScanData []Output

// Get returns the output stored under key.
func (s ScanData) Get(key string) (string, bool) {
	for _, o := range s {
		if o.Key == key {
			return o.Output, true
		}
	}
	return "", false
}

// Keys returns the scan keys in order.
func (s ScanData) Keys() []string {
	keys := make([]string, len(s))
	for i, o := range s {
		keys[i] = o.Key
	}
	return keys
}

// Set replaces the output for key, appending it when absent.
func (s *ScanData) Set(key, output string) {
	for i := range *s {
		if (*s)[i].Key == key {
			(*s)[i].Output = output
			return
		}
	}
	*s = append(*s, Output{Key: key, Output: output})
}

// MarshalJSON encodes the data as a JSON object, keeping key order.
func (s ScanData) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, o := range s {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(o.Key)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(o.Output)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object, keeping the key order of the document.
func (s *ScanData) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*s = nil
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("scan data: expected object, got %v", tok)
	}

	out := ScanData{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("scan data: expected key, got %v", tok)
		}
		var value string
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("scan data: value for %q: %w", key, err)
		}
		out.Set(key, value)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}

	*s = out
	return nil
}
