package secrets

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// DefaultSSLMode is used when no TLS mode is supplied for the database.
const DefaultSSLMode = "prefer"

// Storage is the object storage configuration carried by the secret set.
type Storage struct {
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
}

// StorageFromSet extracts the object storage settings from s.
func StorageFromSet(s Set) (Storage, error) {
	cfg := Storage{
		Region:    s.Value(SpacesRegion),
		Endpoint:  s.Value(SpacesEndpoint),
		AccessKey: s.Value(AccessKey),
		SecretKey: s.Value(SecretKey),
		Bucket:    s.Value(BucketName),
	}
	if err := cfg.Validate(); err != nil {
		return Storage{}, err
	}
	return cfg, nil
}

func (c Storage) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("storage endpoint is required")
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		return errors.New("storage access key is required")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("storage secret key is required")
	}
	if strings.TrimSpace(c.Region) == "" {
		return errors.New("storage region is required")
	}
	if strings.TrimSpace(c.Bucket) == "" {
		return errors.New("storage bucket is required")
	}
	if _, _, err := c.HostAndTLS(); err != nil {
		return err
	}
	return nil
}

// HostAndTLS splits the endpoint into the host[:port] the S3 client dials and
// whether TLS is used. Endpoints without a scheme default to TLS.
func (c Storage) HostAndTLS() (string, bool, error) {
	endpoint := strings.TrimSpace(c.Endpoint)
	if !strings.Contains(endpoint, "://") {
		return strings.TrimSuffix(endpoint, "/"), true, nil
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", false, fmt.Errorf("parse storage endpoint: %w", err)
	}
	switch u.Scheme {
	case "https":
		return u.Host, true, nil
	case "http":
		return u.Host, false, nil
	default:
		return "", false, fmt.Errorf("storage endpoint scheme must be http or https: %q", u.Scheme)
	}
}

// Database is the Postgres configuration carried by the secret set.
type Database struct {
	Username string
	Password string
	Host     string
	Port     string
	Name     string
	SSLMode  string
}

// DatabaseFromSet extracts the database settings from s.
func DatabaseFromSet(s Set) (Database, error) {
	cfg := Database{
		Username: s.Value(DBUsername),
		Password: s.Value(DBPassword),
		Host:     s.Value(DBHost),
		Port:     s.Value(DBPort),
		Name:     s.Value(DBName),
		SSLMode:  s.Value(DBSSLMode),
	}
	if err := cfg.Validate(); err != nil {
		return Database{}, err
	}
	return cfg, nil
}

// Validate reports every missing field at once.
func (c Database) Validate() error {
	var missing []string
	for _, f := range []struct {
		name, val string
	}{
		{DBUsername, c.Username},
		{DBPassword, c.Password},
		{DBHost, c.Host},
		{DBPort, c.Port},
		{DBName, c.Name},
	} {
		if strings.TrimSpace(f.val) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return &MissingError{Names: missing}
	}
	port, err := strconv.Atoi(strings.TrimSpace(c.Port))
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("%s must be a port number: %q", DBPort, c.Port)
	}
	return nil
}

// DSN renders the connection URL in postgresql:// form.
func (c Database) DSN() string {
	mode := strings.TrimSpace(c.SSLMode)
	if mode == "" {
		mode = DefaultSSLMode
	}
	u := url.URL{
		Scheme:   "postgresql",
		User:     url.UserPassword(c.Username, c.Password),
		Host:     net.JoinHostPort(strings.TrimSpace(c.Host), strings.TrimSpace(c.Port)),
		Path:     "/" + strings.TrimSpace(c.Name),
		RawQuery: url.Values{"sslmode": []string{mode}}.Encode(),
	}
	return u.String()
}
