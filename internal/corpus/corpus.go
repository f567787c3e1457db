package corpus

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/fractalmind-ai/bytebpe/internal/config"
)

// Corpus is training text assembled from one or more files.
type Corpus struct {
	Files []string
	Text  string
}

// Size returns the corpus size in bytes.
func (c *Corpus) Size() int {
	if c == nil {
		return 0
	}
	return len(c.Text)
}

// Loader assembles a corpus from local paths and pinned remote downloads.
type Loader struct {
	Extensions []string
	CacheDir   string
	Remote     []config.RemoteCorpus
	Client     *http.Client
}

// NewLoader builds a loader from the corpus section of the config.
func NewLoader(cfg *config.CorpusConfig) *Loader {
	if cfg == nil {
		return &Loader{}
	}
	return &Loader{
		Extensions: cfg.Extensions,
		CacheDir:   cfg.CacheDir,
		Remote:     cfg.Remote,
	}
}

// Load reads every matching file under paths plus the configured remote
// corpora. Paths are read in the given order with the files under each one
// sorted, followed by the remote corpora in configured order. Files are
// joined with a newline.
func (l *Loader) Load(ctx context.Context, paths []string) (*Corpus, error) {
	var files []string
	for _, root := range paths {
		found, err := FindFiles(root, l.Extensions)
		if err != nil {
			return nil, err
		}
		files = append(files, found...)
	}

	if len(l.Remote) > 0 {
		cacheDir, err := ResolveCacheDir(l.CacheDir)
		if err != nil {
			return nil, err
		}
		for _, remote := range l.Remote {
			path, err := EnsureRemote(ctx, l.Client, cacheDir, remote)
			if err != nil {
				return nil, err
			}
			files = append(files, path)
		}
	}

	if len(files) == 0 {
		return nil, fmt.Errorf("no corpus files found")
	}

	var sb strings.Builder
	for i, path := range files {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.Write(content)
	}

	c := &Corpus{Files: files, Text: sb.String()}
	log.Printf("📚 Loaded corpus: %d files, %s", len(files), humanize.Bytes(uint64(c.Size())))
	return c, nil
}

// FindFiles returns root itself when it is a file, or every file below it
// whose extension is in exts (case-insensitive), sorted. An empty exts
// matches every file.
func FindFiles(root string, exts []string) ([]string, error) {
	root, err := expandUser(root)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("failed to stat corpus path: %w", err)
	}
	if !info.IsDir() {
		return []string{root}, nil
	}

	allowed := make(map[string]struct{}, len(exts))
	for _, ext := range exts {
		allowed[strings.ToLower(strings.TrimSpace(ext))] = struct{}{}
	}

	var files []string
	err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if len(allowed) == 0 {
			files = append(files, path)
			return nil
		}
		if _, ok := allowed[strings.ToLower(filepath.Ext(d.Name()))]; ok {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan corpus dir: %w", err)
	}

	sort.Strings(files)
	return files, nil
}
