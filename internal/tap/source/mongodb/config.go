// Package mongodb implements the source driver against MongoDB and
// Amazon DocumentDB using the official Go driver.
package mongodb

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"time"
)

// Config holds configuration for the MongoDB source driver.
type Config struct {
	// URI is the MongoDB connection string. Ignored when
	// CredentialJSON is set.
	URI string

	// CredentialJSON is a serialized JSON object with keys "username",
	// "password", "host" and "port", as stored by AWS Secrets Manager
	// for DocumentDB clusters. The password is url-escaped before the
	// connection string is built.
	CredentialJSON string

	// CredentialExtraOptions is a serialized JSON object of
	// string-string pairs appended to the connection string as query
	// options when CredentialJSON is used (e.g. tls settings).
	CredentialExtraOptions string

	// Database is the database records are extracted from.
	Database string

	// AppName is reported to the server for connection attribution.
	AppName string

	// ConnectTimeout bounds initial connection establishment.
	ConnectTimeout time.Duration

	// MaxAwaitTime bounds how long a single change stream poll blocks
	// waiting for the next event.
	MaxAwaitTime time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		AppName:        "hermes",
		ConnectTimeout: 10 * time.Second,
		MaxAwaitTime:   time.Second,
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Database == "" {
		return ErrMissingDatabase
	}
	if c.URI == "" && c.CredentialJSON == "" {
		return ErrMissingConnection
	}
	return nil
}

// ConnectionURI resolves the connection string, building it from the
// credential JSON when one is configured.
func (c *Config) ConnectionURI() (string, error) {
	if c.CredentialJSON == "" {
		return c.URI, nil
	}

	var cred struct {
		Username string `json:"username"`
		Password string `json:"password"`
		Host     string `json:"host"`
		Port     int    `json:"port"`
	}
	if err := json.Unmarshal([]byte(c.CredentialJSON), &cred); err != nil {
		return "", fmt.Errorf("parse credential json: %w", err)
	}

	uri := fmt.Sprintf("mongodb://%s:%s@%s:%d",
		url.QueryEscape(cred.Username),
		url.QueryEscape(cred.Password),
		cred.Host,
		cred.Port,
	)

	if c.CredentialExtraOptions != "" {
		opts := map[string]string{}
		if err := json.Unmarshal([]byte(c.CredentialExtraOptions), &opts); err != nil {
			return "", fmt.Errorf("parse credential extra options: %w", err)
		}
		keys := make([]string, 0, len(opts))
		for k := range opts {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		query := url.Values{}
		for _, k := range keys {
			query.Set(k, opts[k])
		}
		if encoded := query.Encode(); encoded != "" {
			uri += "/?" + encoded
		}
	}

	return uri, nil
}
