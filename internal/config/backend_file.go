package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

func dataHome() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return dir
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share")
	}
	return "."
}

func configHome() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return dir
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config")
	}
	return "."
}

func defaultDataDir() string {
	return filepath.Join(dataHome(), appDirName)
}

func configFilePath() string {
	return filepath.Join(configHome(), appDirName, configFileName)
}

func newPlatformBackend() ConfigBackend {
	return openFileBackend(configFilePath())
}

// fileBackend keeps config in a JSON document grouped by key section:
//
//	{"server": {"port": 4100}, "chat": {"typing_delay": "300ms"}}
type fileBackend struct {
	path     string
	sections map[string]map[string]any
}

func openFileBackend(p string) *fileBackend {
	b := &fileBackend{path: p, sections: make(map[string]map[string]any)}
	data, err := os.ReadFile(p)
	if err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "[WARN] could not read config file %s: %v. Using default values.\n", p, err)
		}
		return b
	}
	if err := json.Unmarshal(data, &b.sections); err != nil {
		fmt.Fprintf(os.Stderr, "[WARN] could not parse config file %s: %v. Using default values.\n", p, err)
		b.sections = make(map[string]map[string]any)
	}
	return b
}

// splitKey turns "monitor.max_attempts" into ("monitor", "max_attempts").
func splitKey(key string) (section, name string) {
	section, name, ok := strings.Cut(key, ".")
	if !ok {
		return "", key
	}
	return section, name
}

func (b *fileBackend) lookup(key string) (any, bool) {
	section, name := splitKey(key)
	v, ok := b.sections[section][name]
	return v, ok
}

func (b *fileBackend) put(key string, v any) error {
	section, name := splitKey(key)
	if b.sections[section] == nil {
		b.sections[section] = make(map[string]any)
	}
	b.sections[section][name] = v
	return b.save()
}

func (b *fileBackend) save() error {
	data, err := json.MarshalIndent(b.sections, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(b.path, append(data, '\n'))
}

// writeFileAtomic replaces path through a temp file in the same directory.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// GetString renders JSON booleans and numbers as text so hand-edited files
// can use native types for bool, float and int keys.
func (b *fileBackend) GetString(key string) (string, bool, error) {
	v, ok := b.lookup(key)
	if !ok {
		return "", false, nil
	}
	switch val := v.(type) {
	case string:
		return val, true, nil
	case bool:
		return strconv.FormatBool(val), true, nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true, nil
	default:
		return "", true, fmt.Errorf("invalid type %T for %s", v, key)
	}
}

func (b *fileBackend) GetInt(key string) (int, bool, error) {
	v, ok := b.lookup(key)
	if !ok {
		return 0, false, nil
	}
	switch val := v.(type) {
	case float64:
		if val < math.MinInt || val > math.MaxInt || val != math.Trunc(val) {
			return 0, true, fmt.Errorf("value %v for %s is not a valid integer or is out of range", val, key)
		}
		return int(val), true, nil
	case string:
		i, err := strconv.Atoi(val)
		if err != nil {
			return 0, true, fmt.Errorf("invalid integer for %s: %w", key, err)
		}
		return i, true, nil
	default:
		return 0, true, fmt.Errorf("invalid type %T for %s", v, key)
	}
}

func (b *fileBackend) SetString(key, val string) error { return b.put(key, val) }

func (b *fileBackend) SetInt(key string, val int) error { return b.put(key, val) }

func (b *fileBackend) Delete(key string) error {
	section, name := splitKey(key)
	if _, ok := b.sections[section][name]; !ok {
		return nil
	}
	delete(b.sections[section], name)
	if len(b.sections[section]) == 0 {
		delete(b.sections, section)
	}
	return b.save()
}
