package secrets

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ErrSecretNotFound is returned when a credential reference resolves to nothing
var ErrSecretNotFound = errors.New("secret not found")

// CredentialStore keeps connector credentials outside the connection row.
// Connections only persist the opaque reference returned by BuildRef.
type CredentialStore interface {
	BuildRef(brandID, connectorSlug, connectionID string) string
	Put(ctx context.Context, ref string, secret *ConnectorSecret) error
	Get(ctx context.Context, ref string) (*ConnectorSecret, error)
	Delete(ctx context.Context, ref string) error
}

// ConnectorSecret is the payload stored for a connection
type ConnectorSecret struct {
	Connector   string            `json:"connector"`
	Credentials map[string]string `json:"credentials"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// String never prints credential values
func (s *ConnectorSecret) String() string {
	if s == nil {
		return "<nil>"
	}
	keys := make([]string, 0, len(s.Credentials))
	for k := range s.Credentials {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return fmt.Sprintf("ConnectorSecret{connector=%s keys=[%s] values=REDACTED}", s.Connector, strings.Join(keys, ","))
}

// GoString keeps %#v from printing credential values
func (s *ConnectorSecret) GoString() string {
	return s.String()
}

// MaskRef shortens a reference for logs
func MaskRef(ref string) string {
	if len(ref) < 8 {
		return "***"
	}
	return "***" + ref[len(ref)-8:]
}

func sanitizeSecretID(input string) string {
	var result strings.Builder
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			result.WriteRune(r)
		} else {
			result.WriteRune('-')
		}
	}
	return result.String()
}
