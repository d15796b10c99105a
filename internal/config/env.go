// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// LegacyKeyEnv is the variable name older .env files used for the Groq key.
const LegacyKeyEnv = "VITE_GROQ_API_KEY"

// DotEnvFiles returns the .env files consulted for credentials, in priority
// order: the working directory first, then the config directory.
func DotEnvFiles() []string {
	var files []string
	if wd, err := os.Getwd(); err == nil {
		files = append(files, filepath.Join(wd, ".env"))
	}
	if dir, err := ConfigDir(); err == nil {
		files = append(files, filepath.Join(dir, ".env"))
	}
	return files
}

// LoadDotEnv loads the given .env files into the process environment.
// Missing files are skipped. Variables already set in the environment are
// never overridden, and earlier files win over later ones.
func LoadDotEnv(files ...string) ([]string, error) {
	var loaded []string
	var errs []error
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			errs = append(errs, err)
			continue
		}
		loaded = append(loaded, f)
	}
	return loaded, errors.Join(errs...)
}

// APIKey returns the provider credential from the environment and the name
// of the variable it came from. The configured variable is read first, then
// the legacy name. The key is only ever held in memory.
func (c *Config) APIKey() (key, source string) {
	names := []string{c.Provider.APIKeyEnv}
	if c.Provider.APIKeyEnv != LegacyKeyEnv {
		names = append(names, LegacyKeyEnv)
	}
	for _, name := range names {
		if name == "" {
			continue
		}
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			return v, name
		}
	}
	return "", ""
}
