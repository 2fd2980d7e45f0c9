package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
)

// ReadFileFunc reads a whole file, possibly from a remote host.
type ReadFileFunc func(ctx context.Context, path string) ([]byte, error)

// ReadLocalFile reads a file from the local filesystem.
func ReadLocalFile(_ context.Context, path string) ([]byte, error) {
	return os.ReadFile(path)
}

// FileHash returns a HashFunc bound to path: the sha256 of the file's
// current contents.
func FileHash(read ReadFileFunc, path string) HashFunc {
	return func(ctx context.Context) (string, error) {
		data, err := read(ctx, path)
		if err != nil {
			return "", fmt.Errorf("hashing %s: %w", path, err)
		}
		sum := sha256.Sum256(data)
		return hex.EncodeToString(sum[:]), nil
	}
}

// ConstantHash returns a HashFunc that always yields value.
func ConstantHash(value string) HashFunc {
	return func(context.Context) (string, error) {
		return value, nil
	}
}
