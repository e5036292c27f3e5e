// Package config resolves the agent's runtime configuration from
// environment variables, the keylime.conf INI file, and built-in
// defaults, and assembles the immutable snapshot the rest of the agent
// runs on. Resolution precedence for a single setting is environment
// variable, then file, then (for optional settings only) the default.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/ini.v1"
)

// EnvConfigFile is the environment variable naming the configuration
// file, overriding Defaults.ConfigPath when set to a non-empty value.
const EnvConfigFile = "KEYLIME_CONFIG"

// ErrNotFound marks a lookup that failed because the configuration file,
// section, or key does not exist. Optional settings substitute their
// default on this condition; required settings propagate it.
var ErrNotFound = errors.New("configuration entry not found")

// MissingEntryError identifies the entry a failed lookup was for.
type MissingEntryError struct {
	Section string
	Key     string
	File    string
}

func (e *MissingEntryError) Error() string {
	return fmt.Sprintf("cannot find key %s in section [%s] of file %s", e.Key, e.Section, e.File)
}

func (e *MissingEntryError) Unwrap() error {
	return ErrNotFound
}

// ParseError identifies a configuration value that is present but does
// not parse as its expected type. Unlike a missing entry, this always
// aborts the configuration build.
type ParseError struct {
	Section string
	Key     string
	Value   string
	Want    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("configuration value %s in section [%s] is %q, expected %s", e.Key, e.Section, e.Value, e.Want)
}

// ConfigFilePath returns the configuration file location: the
// KEYLIME_CONFIG environment variable when set to a non-empty value,
// else the default path.
func ConfigFilePath(defaults Defaults) string {
	if path := os.Getenv(EnvConfigFile); path != "" {
		return path
	}
	return defaults.ConfigPath
}

// Resolver looks up individual settings by section and key, optionally
// behind an environment variable override. The INI file is parsed once,
// lazily, on the first file-backed lookup.
type Resolver struct {
	path   string
	loaded bool
	file   *ini.File
	err    error
}

// NewResolver creates a resolver for the configuration file at path.
func NewResolver(path string) *Resolver {
	return &Resolver{path: path}
}

// File returns the configuration file location this resolver reads.
func (r *Resolver) File() string {
	return r.path
}

func (r *Resolver) load() (*ini.File, error) {
	if r.loaded {
		return r.file, r.err
	}
	r.loaded = true

	file, err := ini.Load(r.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// A missing file behaves like every entry being absent, so
			// optional settings still fall back to their defaults.
			r.err = ErrNotFound
		} else {
			r.err = fmt.Errorf("failed to load configuration file %s: %w", r.path, err)
		}
		return nil, r.err
	}

	r.file = file
	return file, nil
}

// Resolve looks up section/key in the configuration file. Missing file,
// section, or key yield a *MissingEntryError wrapping ErrNotFound; a
// file that exists but cannot be parsed is a hard error.
func (r *Resolver) Resolve(section, key string) (string, error) {
	file, err := r.load()
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", &MissingEntryError{Section: section, Key: key, File: r.path}
		}
		return "", err
	}

	sec, err := file.GetSection(section)
	if err != nil {
		return "", &MissingEntryError{Section: section, Key: key, File: r.path}
	}

	value, err := sec.GetKey(key)
	if err != nil {
		return "", &MissingEntryError{Section: section, Key: key, File: r.path}
	}

	return value.String(), nil
}

// ResolveEnv looks up the named environment variable first and falls
// back to the file when it is unset or empty. An empty variable counts
// as unset: deployment tooling may export empty placeholders, and those
// must not shadow the file.
func (r *Resolver) ResolveEnv(section, key, envName string) (string, error) {
	if value := os.Getenv(envName); value != "" {
		return value, nil
	}
	return r.Resolve(section, key)
}
