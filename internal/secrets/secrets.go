// Package secrets holds the read-only secret mapping a run exposes to its
// execution step, and the configuration structs derived from it.
package secrets

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Declared secret names, in the order the deploy workflow lists them.
const (
	SpacesRegion   = "SPACES_REGION"
	SpacesEndpoint = "SPACES_ENDPOINT"
	AccessKey      = "ACCESS_KEY"
	SecretKey      = "SECRET_KEY"
	BucketName     = "BUCKET_NAME"
	DBUsername     = "DB_USERNAME"
	DBPassword     = "DB_PASSWORD"
	DBHost         = "DB_HOST"
	DBPort         = "DB_PORT"
	DBName         = "DB_NAME"
	DBSSLMode      = "DB_SSLMODE"
)

// Names returns the declared secret names.
func Names() []string {
	return []string{
		SpacesRegion,
		SpacesEndpoint,
		AccessKey,
		SecretKey,
		BucketName,
		DBUsername,
		DBPassword,
		DBHost,
		DBPort,
		DBName,
		DBSSLMode,
	}
}

// MissingError lists every declared name that had no usable value.
type MissingError struct {
	Names []string
}

func (e *MissingError) Error() string {
	return fmt.Sprintf("missing required secrets: %s", strings.Join(e.Names, ", "))
}

// Set is an immutable name to value mapping. The zero value is empty.
type Set struct {
	values map[string]string
}

// Load reads every name from src. All names must be present and non-empty;
// otherwise a *MissingError naming all of them is returned.
func Load(src Source, names []string) (Set, error) {
	if src == nil {
		return Set{}, errors.New("secret source is required")
	}

	values := make(map[string]string, len(names))
	var missing []string
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, dup := values[name]; dup {
			continue
		}
		v, ok := src.Lookup(name)
		if !ok || strings.TrimSpace(v) == "" {
			missing = append(missing, name)
			continue
		}
		values[name] = v
	}
	if len(missing) > 0 {
		return Set{}, &MissingError{Names: missing}
	}
	return Set{values: values}, nil
}

// Get returns the value stored for name.
func (s Set) Get(name string) (string, bool) {
	v, ok := s.values[name]
	return v, ok
}

// Value returns the value for name or "".
func (s Set) Value(name string) string {
	return s.values[name]
}

func (s Set) Len() int {
	return len(s.values)
}

// Names returns the names held by the set, sorted.
func (s Set) Names() []string {
	out := make([]string, 0, len(s.values))
	for k := range s.values {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Environ renders the set as sorted KEY=VALUE pairs.
func (s Set) Environ() []string {
	names := s.Names()
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, name+"="+s.values[name])
	}
	return out
}

// Redact replaces every secret value found in text with "***". Longer values
// are replaced first so overlapping secrets do not leave fragments behind.
func (s Set) Redact(text string) string {
	if len(s.values) == 0 || text == "" {
		return text
	}
	vals := make([]string, 0, len(s.values))
	for _, v := range s.values {
		vals = append(vals, v)
	}
	sort.Slice(vals, func(i, j int) bool { return len(vals[i]) > len(vals[j]) })
	for _, v := range vals {
		text = strings.ReplaceAll(text, v, "***")
	}
	return text
}
