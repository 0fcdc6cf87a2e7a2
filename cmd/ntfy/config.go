package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/rmacdonaldsmith/ntfy-go/pkg/ntfy"
)

// fileConfig is the client config file.
type fileConfig struct {
	DefaultHost     string `yaml:"default-host"`
	DefaultToken    string `yaml:"default-token"`
	DefaultUser     string `yaml:"default-user"`
	DefaultPassword string `yaml:"default-password"`
}

// flagValues are the connection flags given on the command line.
type flagValues struct {
	server string
	token  string
	user   string
}

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(".config", "ntfy", "client.yml")
	}
	return filepath.Join(dir, "ntfy", "client.yml")
}

// loadFileConfig reads the config file at path. With an empty path the
// default location is used, and a missing default file is not an error.
func loadFileConfig(path string) (*fileConfig, error) {
	explicit := path != ""
	if !explicit {
		path = defaultConfigPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return &fileConfig{}, nil
		}
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return &cfg, nil
}

// loadDotEnv loads environment variables from path if it exists. Variables
// already set in the environment win.
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// resolveConfig merges flags, environment and config file, in that order
// of precedence.
func resolveConfig(flags flagValues, file *fileConfig) (ntfy.Config, error) {
	config := ntfy.Config{
		ServerURL: firstNonEmpty(flags.server, os.Getenv("NTFY_HOST"), file.DefaultHost, ntfy.DefaultServerURL),
	}

	tokenValue := firstNonEmpty(flags.token, os.Getenv("NTFY_TOKEN"))
	username, password, err := resolveUser(flags.user)
	if err != nil {
		return ntfy.Config{}, err
	}

	switch {
	case tokenValue != "" && username != "":
		return ntfy.Config{}, errors.New("cannot set both a token and a user")
	case tokenValue != "":
		config.Credential = ntfy.Token(tokenValue)
	case username != "":
		config.SetAuthentication(password, username)
	case file.DefaultToken != "":
		config.Credential = ntfy.Token(file.DefaultToken)
	case file.DefaultUser != "":
		config.SetAuthentication(file.DefaultPassword, file.DefaultUser)
	}

	return config, nil
}

// resolveUser splits a USER:PASS flag value, falling back to NTFY_USER and
// NTFY_PASSWORD.
func resolveUser(value string) (string, string, error) {
	if value == "" {
		value = os.Getenv("NTFY_USER")
		if value == "" {
			return "", "", nil
		}
		if password := os.Getenv("NTFY_PASSWORD"); password != "" && !strings.Contains(value, ":") {
			return value, password, nil
		}
	}

	username, password, found := strings.Cut(value, ":")
	if !found {
		return "", "", fmt.Errorf("user %q has no password, use USER:PASS", value)
	}
	if username == "" {
		return "", "", errors.New("user name cannot be empty")
	}
	return username, password, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
