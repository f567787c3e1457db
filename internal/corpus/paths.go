package corpus

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	defaultCacheDirName  = "bytebpe"
	defaultCorpusDirName = "corpora"
)

// ResolveCacheDir returns the cache directory for downloaded corpora.
func ResolveCacheDir(cacheDir string) (string, error) {
	if strings.TrimSpace(cacheDir) != "" {
		return expandUser(cacheDir)
	}
	base, err := os.UserCacheDir()
	if err != nil {
		home, homeErr := os.UserHomeDir()
		if homeErr != nil {
			return "", fmt.Errorf("failed to resolve cache dir: %w", err)
		}
		base = filepath.Join(home, ".cache")
	}
	return filepath.Join(base, defaultCacheDirName), nil
}

// RemotePath returns where a remote corpus with the given checksum is cached.
func RemotePath(cacheDir, sha256Hex string) string {
	return filepath.Join(cacheDir, defaultCorpusDirName, strings.ToLower(strings.TrimSpace(sha256Hex))+".txt")
}

func expandUser(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" || trimmed[0] != '~' {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home dir: %w", err)
	}
	if trimmed == "~" {
		return home, nil
	}
	if strings.HasPrefix(trimmed, "~/") {
		return filepath.Join(home, trimmed[2:]), nil
	}
	return filepath.Join(home, trimmed[1:]), nil
}
