package config

import (
	"fmt"
	"os"
)

// KeyInfo describes a config key for display purposes.
type KeyInfo struct {
	Key     string
	Type    string
	EnvVar  string
	Value   string
	FromEnv bool // the environment variable overrides the file
}

// ShowAll lists every non-secret key with its effective value.
func ShowAll(cfg Config) []KeyInfo {
	var result []KeyInfo
	for _, s := range specs {
		if s.secret {
			continue
		}
		result = append(result, KeyInfo{
			Key:     s.key,
			Type:    s.typ.String(),
			EnvVar:  s.env,
			Value:   fmt.Sprintf("%v", s.extract(cfg)),
			FromEnv: os.Getenv(s.env) != "",
		})
	}
	return result
}

// SetKey validates value against the key's type and writes it to the
// config file.
func SetKey(key, value string) error {
	return setKey(newPlatformBackend(), key, value)
}

// UnsetKey removes a key from the config file so its default applies again.
func UnsetKey(key string) error {
	return unsetKey(newPlatformBackend(), key)
}

func lookupSpec(key string) (keySpec, error) {
	for _, s := range specs {
		if s.key != key {
			continue
		}
		if s.secret {
			return keySpec{}, fmt.Errorf("cannot set secret %q via config; use environment variable %s", key, s.env)
		}
		return s, nil
	}
	return keySpec{}, fmt.Errorf("unknown config key: %q", key)
}

func setKey(b ConfigBackend, key, value string) error {
	s, err := lookupSpec(key)
	if err != nil {
		return err
	}
	v, err := parseValue(s.typ, value)
	if err != nil {
		return fmt.Errorf("invalid %s value for %s: %w", s.typ, key, err)
	}
	if s.typ == kInt {
		return b.SetInt(key, v.(int))
	}
	return b.SetString(key, value)
}

func unsetKey(b ConfigBackend, key string) error {
	if _, err := lookupSpec(key); err != nil {
		return err
	}
	return b.Delete(key)
}

// ValidKeys returns the list of valid non-secret config key names.
func ValidKeys() []string {
	var keys []string
	for _, s := range specs {
		if !s.secret {
			keys = append(keys, s.key)
		}
	}
	return keys
}
