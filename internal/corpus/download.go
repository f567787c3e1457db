package corpus

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fractalmind-ai/bytebpe/internal/config"
)

// DefaultMaxDownloadBytes caps a remote corpus when no limit is configured.
const DefaultMaxDownloadBytes int64 = 1 << 30

// EnsureRemote downloads and verifies a remote corpus into the cache dir and
// returns its local path. A cached file with a matching checksum is reused.
func EnsureRemote(ctx context.Context, client *http.Client, cacheDir string, remote config.RemoteCorpus) (string, error) {
	if strings.TrimSpace(remote.URL) == "" || strings.TrimSpace(remote.SHA256) == "" {
		return "", fmt.Errorf("corpus URL and SHA256 are required")
	}
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Minute}
	}
	maxBytes := remote.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxDownloadBytes
	}

	path := RemotePath(cacheDir, remote.SHA256)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create corpus cache dir: %w", err)
	}
	if err := ensureFileWithSHA(ctx, client, path, remote.URL, remote.SHA256, maxBytes); err != nil {
		return "", err
	}
	return path, nil
}

func ensureFileWithSHA(ctx context.Context, client *http.Client, path, rawURL, expectedSHA string, maxBytes int64) error {
	if ok, err := fileMatchesSHA256(path, expectedSHA); err != nil {
		return err
	} else if ok {
		return nil
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	err = downloadToFile(ctx, client, rawURL, tmp, maxBytes)
	if closeErr := tmp.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("failed to close temp file: %w", closeErr)
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return err
	}

	ok, err := fileMatchesSHA256(tmpPath, expectedSHA)
	if err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if !ok {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("checksum mismatch for %s", redactURL(rawURL))
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to finalize download: %w", err)
	}
	return nil
}

func downloadToFile(ctx context.Context, client *http.Client, rawURL string, out *os.File, maxBytes int64) error {
	safe := redactURL(rawURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build request for %s", safe)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", safe, unwrapURLError(err))
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("failed to download %s: unexpected status %d", safe, resp.StatusCode)
	}
	if resp.ContentLength > maxBytes {
		return fmt.Errorf("failed to download %s: content length %d exceeds limit %d", safe, resp.ContentLength, maxBytes)
	}

	n, err := io.Copy(out, io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", safe, unwrapURLError(err))
	}
	if n > maxBytes {
		return fmt.Errorf("failed to download %s: body exceeds limit %d", safe, maxBytes)
	}
	return nil
}

func fileMatchesSHA256(path, expected string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return false, fmt.Errorf("%s is a directory", path)
	}

	file, err := os.Open(path)
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", path, err)
	}
	defer file.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return false, fmt.Errorf("failed to hash %s: %w", path, err)
	}
	sum := hex.EncodeToString(hash.Sum(nil))
	return strings.EqualFold(sum, strings.TrimSpace(expected)), nil
}

// redactURL drops credentials, query and fragment so errors never leak tokens.
func redactURL(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return "<invalid url>"
	}
	return parsed.Scheme + "://" + parsed.Host + parsed.Path
}

// unwrapURLError strips the *url.Error wrapper, whose message repeats the full URL.
func unwrapURLError(err error) error {
	if urlErr, ok := err.(*url.Error); ok {
		return urlErr.Err
	}
	return err
}
