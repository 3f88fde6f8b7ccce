package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Credentials is the cookie/header bundle sent to the info endpoint.
//
//	cookies:
//	  session_id: abc
//	headers:
//	  User-Agent: Mozilla/5.0
type Credentials struct {
	Cookies map[string]string `yaml:"cookies"`
	Headers map[string]string `yaml:"headers"`
}

// LoadCredentials reads a YAML credentials file. An empty path yields an
// empty bundle.
func LoadCredentials(path string) (*Credentials, error) {
	creds := &Credentials{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading credentials: %w", err)
		}
		if err := yaml.Unmarshal(data, creds); err != nil {
			return nil, fmt.Errorf("parsing credentials %s: %w", path, err)
		}
	}
	if creds.Cookies == nil {
		creds.Cookies = make(map[string]string)
	}
	if creds.Headers == nil {
		creds.Headers = make(map[string]string)
	}
	return creds, nil
}

// AddCookieHeader merges a raw "a=1; b=2" Cookie header. Its values win
// over the ones from the file.
func (c *Credentials) AddCookieHeader(raw string) error {
	values, err := cookieValues(raw)
	if err != nil {
		return err
	}
	for name, value := range values {
		c.Cookies[name] = value
	}
	return nil
}
