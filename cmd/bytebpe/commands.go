package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fractalmind-ai/bytebpe/internal/bpe"
	"github.com/fractalmind-ai/bytebpe/internal/config"
	"github.com/fractalmind-ai/bytebpe/internal/corpus"
	"github.com/fractalmind-ai/bytebpe/internal/gateway"
	"github.com/fractalmind-ai/bytebpe/internal/registry"
	"github.com/fractalmind-ai/bytebpe/internal/store"
	"github.com/fractalmind-ai/bytebpe/internal/tokenizer"
)

func openStore(cfg *config.Config) (*store.Store, error) {
	path := cfg.Store.Path
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}
	return store.OpenStore(path)
}

func loadModel(ctx context.Context, cfg *config.Config, name string) (*bpe.Model, error) {
	if err := config.ValidateModelName(name); err != nil {
		return nil, fmt.Errorf("%w: %v", errUsage, err)
	}
	st, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	defer st.Close()
	return st.LoadModel(ctx, name)
}

func runTrain(ctx context.Context, e *env, args []string) error {
	fs := newCommandFlags("train", e.out)
	vocabSize := fs.Int("vocab-size", e.cfg.Tokenizer.VocabSize, "target vocabulary size (>= 256)")
	name := fs.String("model", e.cfg.Tokenizer.Model, "model name in the store")
	verbose := fs.Bool("verbose", e.verbose, "log every merge")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if err := config.ValidateModelName(*name); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	paths := fs.Args()
	if len(paths) == 0 {
		paths = e.cfg.Corpus.Paths
	}
	c, err := corpus.NewLoader(e.cfg.Corpus).Load(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load corpus: %w", err)
	}

	trainer := bpe.Trainer{VocabSize: *vocabSize, Verbose: *verbose}
	var progress *trainProgress
	if !*verbose && *vocabSize > bpe.NumBytes {
		progress = newTrainProgress(*vocabSize-bpe.NumBytes, os.Stderr)
		if progress != nil {
			trainer.OnMerge = progress.onMerge
		}
	}

	started := time.Now()
	model, err := trainer.Train(ctx, c.Text)
	if progress != nil {
		progress.finish()
	}
	if err != nil {
		return fmt.Errorf("failed to train: %w", err)
	}

	st, err := openStore(e.cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.SaveModel(ctx, *name, model); err != nil {
		return err
	}

	tokens := len(model.Encode(c.Text))
	log.Printf("✅ Trained %s: %s merges, vocab %s, %s → %s tokens (%.2fx) in %s",
		*name,
		humanize.Comma(int64(model.NumMerges())),
		humanize.Comma(int64(model.VocabSize())),
		humanize.Bytes(uint64(c.Size())),
		humanize.Comma(int64(tokens)),
		compressionRatio(c.Size(), tokens),
		time.Since(started).Round(time.Millisecond))
	return nil
}

func runEncode(ctx context.Context, e *env, args []string) error {
	fs := newCommandFlags("encode", e.out)
	name := fs.String("model", e.cfg.Tokenizer.Model, "model name in the store")
	text := fs.String("text", "", "text to encode (default: read stdin)")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	input := *text
	if input == "" {
		data, err := io.ReadAll(e.in)
		if err != nil {
			return fmt.Errorf("failed to read stdin: %w", err)
		}
		input = string(data)
	}

	model, err := loadModel(ctx, e.cfg, *name)
	if err != nil {
		return err
	}
	ids := model.Encode(input)
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	fmt.Fprintln(e.out, strings.Join(parts, " "))
	return nil
}

func runDecode(ctx context.Context, e *env, args []string) error {
	fs := newCommandFlags("decode", e.out)
	name := fs.String("model", e.cfg.Tokenizer.Model, "model name in the store")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	var ids []int
	for _, arg := range fs.Args() {
		for _, field := range strings.FieldsFunc(arg, func(r rune) bool { return r == ',' || r == ' ' }) {
			id, err := strconv.Atoi(field)
			if err != nil {
				return fmt.Errorf("%w: invalid id %q", errUsage, field)
			}
			ids = append(ids, id)
		}
	}

	model, err := loadModel(ctx, e.cfg, *name)
	if err != nil {
		return err
	}
	text, err := model.Decode(ids)
	if err != nil {
		return err
	}
	fmt.Fprintln(e.out, text)
	return nil
}

func runInspect(ctx context.Context, e *env, args []string) error {
	fs := newCommandFlags("inspect", e.out)
	name := fs.String("model", e.cfg.Tokenizer.Model, "model name in the store")
	limit := fs.Int("limit", 0, "list at most N entries (0 = all)")
	mergesOnly := fs.Bool("merges", true, "skip the 256 base bytes")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	model, err := loadModel(ctx, e.cfg, *name)
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "# %s: vocab %s, %s merges\n", *name,
		humanize.Comma(int64(model.VocabSize())), humanize.Comma(int64(model.NumMerges())))
	first := 0
	if *mergesOnly {
		first = bpe.NumBytes
	}
	return bpe.WriteVocab(e.out, model, first, *limit)
}

func runExport(ctx context.Context, e *env, args []string) error {
	fs := newCommandFlags("export", e.out)
	name := fs.String("model", e.cfg.Tokenizer.Model, "model name in the store")
	outPath := fs.String("out", "", "merges file to write")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if strings.TrimSpace(*outPath) == "" {
		return fmt.Errorf("%w: --out is required", errUsage)
	}

	model, err := loadModel(ctx, e.cfg, *name)
	if err != nil {
		return err
	}
	f, err := os.Create(*outPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", *outPath, err)
	}
	if err := bpe.WriteMerges(f, model); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", *outPath, err)
	}
	log.Printf("💾 Exported %s (%s merges) to %s", *name, humanize.Comma(int64(model.NumMerges())), *outPath)
	return nil
}

func runImport(ctx context.Context, e *env, args []string) error {
	fs := newCommandFlags("import", e.out)
	name := fs.String("model", e.cfg.Tokenizer.Model, "model name in the store")
	inPath := fs.String("in", "", "merges file to read")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if strings.TrimSpace(*inPath) == "" {
		return fmt.Errorf("%w: --in is required", errUsage)
	}
	if err := config.ValidateModelName(*name); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	f, err := os.Open(*inPath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", *inPath, err)
	}
	defer f.Close()
	model, err := bpe.ReadMerges(bufio.NewReader(f))
	if err != nil {
		return err
	}

	st, err := openStore(e.cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.SaveModel(ctx, *name, model); err != nil {
		return err
	}
	log.Printf("📥 Imported %s (%s merges) from %s", *name, humanize.Comma(int64(model.NumMerges())), *inPath)
	return nil
}

func runCompare(ctx context.Context, e *env, args []string) error {
	fs := newCommandFlags("compare", e.out)
	name := fs.String("model", e.cfg.Tokenizer.Model, "model name in the store")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	paths := fs.Args()
	if len(paths) == 0 {
		paths = e.cfg.Corpus.Paths
	}
	c, err := corpus.NewLoader(e.cfg.Corpus).Load(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load corpus: %w", err)
	}

	model, err := loadModel(ctx, e.cfg, *name)
	if err != nil {
		return err
	}
	svc, err := tokenizer.NewService(*name, model, 0)
	if err != nil {
		return err
	}
	refs, err := tokenizer.LoadReferences(e.cfg.Reference)
	if err != nil {
		return err
	}

	candidates := append([]tokenizer.Reference{{Name: "bytebpe:" + *name, Tokenizer: svc}}, refs...)
	fmt.Fprintf(e.out, "corpus: %d files, %s\n", len(c.Files), humanize.Bytes(uint64(c.Size())))
	for _, ref := range candidates {
		count, err := tokenizer.TokenizerCounter{Tokenizer: ref.Tokenizer}.CountTokens(c.Text)
		if err != nil {
			return fmt.Errorf("failed to count with %s: %w", ref.Name, err)
		}
		fmt.Fprintf(e.out, "%-32s %12s tokens  %.2f bytes/token\n",
			ref.Name, humanize.Comma(int64(count)), compressionRatio(c.Size(), count))
	}
	return nil
}

func runServe(ctx context.Context, e *env, args []string) error {
	fs := newCommandFlags("serve", e.out)
	port := fs.Int("port", 0, "override gateway port")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if *port > 0 {
		e.cfg.Gateway.Port = *port
	}

	st, err := openStore(e.cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	models := registry.NewManager(st, e.cfg.Tokenizer.Model, e.cfg.Cache.Size)
	if names, err := models.Names(ctx); err == nil {
		log.Printf("🧠 %d stored models, default %s", len(names), models.DefaultModel())
	}

	server, err := gateway.NewServer(e.cfg, models)
	if err != nil {
		return fmt.Errorf("failed to initialize gateway: %w", err)
	}

	if err := server.Start(ctx); err != nil {
		if stopErr := server.Stop(); stopErr != nil {
			log.Printf("gateway shutdown error: %v", stopErr)
		}
		return err
	}
	if err := server.Stop(); err != nil {
		return fmt.Errorf("gateway shutdown error: %w", err)
	}
	return nil
}

func compressionRatio(size, tokens int) float64 {
	if tokens == 0 {
		return 0
	}
	return float64(size) / float64(tokens)
}
