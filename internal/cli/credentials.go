package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const defaultServer = "http://localhost:8080"

// Credentials are saved by "portalctl login".
type Credentials struct {
	Server      string `yaml:"server"`
	Email       string `yaml:"email"`
	AccessToken string `yaml:"access_token"`
}

// credentialsPath is overridable in tests.
var credentialsPath = func() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "portalctl", "credentials.yaml"), nil
}

func readCredentials() (*Credentials, error) {
	path, err := credentialsPath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Credentials
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &c, nil
}

func writeCredentials(c *Credentials) error {
	path, err := credentialsPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func removeCredentials() error {
	path, err := credentialsPath()
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// resolveSession merges flags with saved credentials; flags win.
func resolveSession() (server, accessToken string) {
	server, accessToken = serverURL, token
	if saved, err := readCredentials(); err == nil {
		if server == "" {
			server = saved.Server
		}
		if accessToken == "" {
			accessToken = saved.AccessToken
		}
	}
	if server == "" {
		server = defaultServer
	}
	return server, accessToken
}
