package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// secretsFile is a JSON object of "service/account" -> value, readable by
// the owner only.
type secretsFile struct {
	path string
}

func defaultSecrets() secretsFile {
	return secretsFile{path: filepath.Join(dataHome(), appDirName, "secrets.json")}
}

func secretKey(service, account string) string {
	return service + "/" + account
}

func (f secretsFile) read() (map[string]string, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading secrets: %w", err)
	}
	secrets := map[string]string{}
	if err := json.Unmarshal(data, &secrets); err != nil {
		return nil, fmt.Errorf("parsing secrets file %s: %w", f.path, err)
	}
	return secrets, nil
}

// Get returns an empty string without error when the secret is not set.
func (f secretsFile) Get(service, account string) (string, error) {
	secrets, err := f.read()
	if err != nil {
		return "", err
	}
	return secrets[secretKey(service, account)], nil
}

func (f secretsFile) Set(service, account, value string) error {
	secrets, err := f.read()
	if err != nil {
		return err
	}
	secrets[secretKey(service, account)] = value
	data, err := json.MarshalIndent(secrets, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(f.path, data)
}
