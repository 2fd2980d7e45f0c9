package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const (
	resultSuffix = ".result"
	hashSuffix   = ".hash"
)

// diskStore keeps one result file and one hash file per signature. Both are
// written through a temporary file and renamed into place, so a reader never
// observes a partial entry. The result file is written last and marks the
// entry as present.
type diskStore struct {
	dir     string
	version string
}

// name derives the file stem from the signature key and the build version.
func (d *diskStore) name(key string) string {
	data, _ := json.Marshal([]any{json.RawMessage(key), d.version})
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func (d *diskStore) paths(key string) (result, hash string) {
	stem := filepath.Join(d.dir, d.name(key))
	return stem + resultSuffix, stem + hashSuffix
}

func (d *diskStore) exists(key string) bool {
	result, _ := d.paths(key)
	_, err := os.Stat(result)
	return err == nil
}

// load decodes the stored result into out and returns the stored hash.
func (d *diskStore) load(key string, out any) (string, error) {
	resultPath, hashPath := d.paths(key)

	hash, err := os.ReadFile(hashPath)
	if err != nil {
		return "", fmt.Errorf("reading cache hash: %w", err)
	}

	data, err := os.ReadFile(resultPath)
	if err != nil {
		return "", fmt.Errorf("reading cache result: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return "", fmt.Errorf("decoding cache result %s: %w", filepath.Base(resultPath), err)
	}

	return string(hash), nil
}

func (d *diskStore) store(key string, value any, hash string) error {
	resultPath, hashPath := d.paths(key)

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding cache result: %w", err)
	}

	if err := writeAtomic(hashPath, []byte(hash)); err != nil {
		return err
	}
	return writeAtomic(resultPath, data)
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("renaming into %s: %w", filepath.Base(path), err)
	}
	return nil
}
