package reposecrets

import (
	"fmt"
	"regexp"
	"time"
	"unicode/utf8"

	"github.com/uptrace/bun"
)

const (
	// MaxKeysPerRepo is the keyspace cap: 1..50 entries per repo id.
	MaxKeysPerRepo = 50
	// MaxKeyLength bounds a normalized key name.
	MaxKeyLength = 256
	// MaxValueBytes bounds a single value.
	MaxValueBytes = 16 * 1024
	// MaxAggregateBytes bounds the sum of all plaintext values for one repo.
	MaxAggregateBytes = 64 * 1024
)

var keyPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// reservedKeys holds operational variables the sandbox pod sets directly
// (internal/provider/kubernetes.BuildPodSpec) plus common provider API-key
// names, neither of which a repo secret may shadow.
var reservedKeys = map[string]bool{
	"SESSION_ID":            true,
	"SANDBOX_ID":            true,
	"CONTROL_PLANE_URL":     true,
	"SANDBOX_AUTH_TOKEN":    true,
	"MODEL":                 true,
	"PATH":                  true,
	"HOME":                  true,
	"ANTHROPIC_API_KEY":     true,
	"OPENAI_API_KEY":        true,
	"GITHUB_TOKEN":          true,
	"GITHUB_APP_ID":         true,
	"GITHUB_PRIVATE_KEY":    true,
	"AWS_ACCESS_KEY_ID":     true,
	"AWS_SECRET_ACCESS_KEY": true,
	"AWS_SESSION_TOKEN":     true,
}

// normalizeKey upper-cases a key and validates it against spec.md §4.7's
// key rules: pattern, length, and the reserved set. Normalization happens
// before pattern matching so callers may pass lower- or mixed-case keys.
func normalizeKey(key string) (string, error) {
	normalized := toUpper(key)

	if len(normalized) == 0 || len(normalized) > MaxKeyLength {
		return "", fmt.Errorf("reposecrets: key %q: length must be 1..%d", key, MaxKeyLength)
	}
	if !keyPattern.MatchString(normalized) {
		return "", fmt.Errorf("reposecrets: key %q: must match [A-Za-z_][A-Za-z0-9_]*", key)
	}
	if reservedKeys[normalized] {
		return "", fmt.Errorf("reposecrets: key %q is reserved", key)
	}

	return normalized, nil
}

// toUpper upper-cases ASCII letters only; key names are restricted to
// [A-Za-z0-9_] by normalizeKey, so a full unicode case fold is unnecessary.
func toUpper(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - ('a' - 'A')
		}
	}
	return string(b)
}

func validateValue(key, value string) error {
	if !utf8.ValidString(value) {
		return fmt.Errorf("reposecrets: value for key %q is not valid UTF-8", key)
	}
	if len(value) > MaxValueBytes {
		return fmt.Errorf("reposecrets: value for key %q exceeds %d bytes", key, MaxValueBytes)
	}
	return nil
}

// KeyMeta describes a stored secret without its value, returned by ListKeys.
type KeyMeta struct {
	Key       string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// repoSecret is the bun model backing the repo_secrets table (spec.md §6).
type repoSecret struct {
	bun.BaseModel `bun:"table:repo_secrets"`

	RepoID         string    `bun:"repo_id,pk"`
	RepoOwner      string    `bun:"repo_owner,notnull"`
	RepoName       string    `bun:"repo_name,notnull"`
	Key            string    `bun:"key,pk"`
	EncryptedValue []byte    `bun:"encrypted_value,notnull"`
	CreatedAt      time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt      time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}
