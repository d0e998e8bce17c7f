package config

import (
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"
	"time"
)

var bucketNameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]*[a-z0-9]$`)

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	app := c.App

	// Validate server configuration
	if app.Server.Addr == "" {
		return errors.New("server address cannot be empty")
	}
	if _, err := net.ResolveTCPAddr("tcp", app.Server.Addr); err != nil {
		return fmt.Errorf("invalid server address: %v", err)
	}
	for name, value := range map[string]string{
		"server read_timeout":  app.Server.ReadTimeout,
		"server write_timeout": app.Server.WriteTimeout,
		"analyzer timeout":     app.Analyzer.Timeout,
	} {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid %s: %v", name, err)
		}
	}

	// Validate auth configuration
	if app.Auth.DefaultUser == "" && len(app.Auth.Tokens) == 0 {
		return errors.New("auth needs tokens or a default user")
	}
	seen := make(map[string]bool, len(app.Auth.Tokens))
	for user, token := range app.Auth.Tokens {
		if token == "" || user == "" {
			return errors.New("auth tokens cannot contain empty tokens or users")
		}
		if seen[token] {
			return fmt.Errorf("auth token for %q is shared with another user", user)
		}
		seen[token] = true
	}

	// Validate database configuration
	switch app.Database.Driver {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("unsupported database driver: %q", app.Database.Driver)
	}
	if app.Database.DSN == "" {
		return errors.New("database dsn cannot be empty")
	}

	// Validate MinIO configuration
	if app.Storage.Enabled {
		if app.Storage.Endpoint == "" {
			return errors.New("storage endpoint cannot be empty when storage is enabled")
		}
		if app.Storage.AccessKey == "" {
			return errors.New("storage access key cannot be empty when storage is enabled")
		}
		if app.Storage.SecretKey == "" {
			return errors.New("storage secret key cannot be empty when storage is enabled")
		}
		if !isValidBucketName(app.Storage.Bucket) {
			return fmt.Errorf("invalid storage bucket name: %s", app.Storage.Bucket)
		}
	}

	// Validate analyzer configuration
	switch app.Analyzer.Provider {
	case "heuristic":
	case "remote":
		if app.Analyzer.Endpoint == "" {
			return errors.New("analyzer endpoint cannot be empty for the remote provider")
		}
	default:
		return fmt.Errorf("unsupported analyzer provider: %q", app.Analyzer.Provider)
	}
	if app.Analyzer.Workers <= 0 {
		return errors.New("analyzer workers must be positive")
	}
	if app.Analyzer.MaxRetries < 0 {
		return errors.New("analyzer max_retries cannot be negative")
	}

	if app.Search.Limit <= 0 {
		return errors.New("search limit must be positive")
	}
	if app.Search.SnippetRunes <= 0 {
		return errors.New("search snippet_runes must be positive")
	}

	if app.Metrics.Enabled && !strings.HasPrefix(app.Metrics.Path, "/") {
		return fmt.Errorf("metrics path must start with /: %q", app.Metrics.Path)
	}

	return nil
}

// isValidBucketName checks if a bucket name is valid according to MinIO/S3 rules
func isValidBucketName(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") {
		return false
	}
	return bucketNameRe.MatchString(name)
}
