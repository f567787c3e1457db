package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const testCorpus = `The quick brown fox jumps over the lazy dog. Pack my box with five dozen
liquor jugs. How vexingly quick daft zebras jump! Sphinx of black quartz,
judge my vow. The five boxing wizards jump quickly, and the dog sleeps on.`

func writeTestConfig(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	corpusDir := filepath.Join(dir, "corpus")
	if err := os.MkdirAll(corpusDir, 0755); err != nil {
		t.Fatalf("mkdir corpus: %v", err)
	}
	if err := os.WriteFile(filepath.Join(corpusDir, "pangrams.txt"), []byte(testCorpus), 0644); err != nil {
		t.Fatalf("write corpus: %v", err)
	}

	configPath := filepath.Join(dir, "config.yaml")
	contents := fmt.Sprintf(`tokenizer:
  model: demo
  vocabSize: 290
corpus:
  paths: [%q]
store:
  path: %q
gateway:
  bind: 127.0.0.1
  port: 0
`, corpusDir, filepath.Join(dir, "data", "models.db"))
	if err := os.WriteFile(configPath, []byte(contents), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return dir, configPath
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	var buf bytes.Buffer
	if code := runWithContext(context.Background(), args, &buf); code != exitOK {
		t.Fatalf("%v: expected exit code 0, got %d output=%q", args, code, buf.String())
	}
	return buf.String()
}

func TestRunMissingConfig(t *testing.T) {
	var buf bytes.Buffer
	code := runWithContext(context.Background(), []string{"--config", "/nope/config.yaml", "encode"}, &buf)
	if code != exitError {
		t.Fatalf("expected exit code 1, got %d", code)
	}
	out := buf.String()
	if !strings.Contains(out, "failed to load config") && !strings.Contains(out, "failed to read config") {
		t.Fatalf("unexpected error output: %q", out)
	}
}

func TestRunUsageErrors(t *testing.T) {
	_, configPath := writeTestConfig(t)

	cases := [][]string{
		{"--config", configPath},
		{"--config", configPath, "frobnicate"},
		{"--config", configPath, "export"},
		{"--config", configPath, "decode", "12x"},
		{"--no-such-flag"},
	}
	for _, args := range cases {
		var buf bytes.Buffer
		if code := runWithContext(context.Background(), args, &buf); code != exitUsage {
			t.Fatalf("%v: expected exit code 2, got %d output=%q", args, code, buf.String())
		}
	}
}

func TestRunTrainEncodeDecode(t *testing.T) {
	_, configPath := writeTestConfig(t)

	out := mustRun(t, "--config", configPath, "train")
	if !strings.Contains(out, "Trained demo") {
		t.Fatalf("unexpected train output: %q", out)
	}

	text := "the quick dog jumps"
	out = mustRun(t, "--config", configPath, "encode", "--text", text)
	fields := strings.Fields(out)
	if len(fields) == 0 || len(fields) >= len(text) {
		t.Fatalf("expected a compressed encoding, got %q", out)
	}

	decodeArgs := append([]string{"--config", configPath, "decode"}, fields...)
	out = mustRun(t, decodeArgs...)
	if strings.TrimSuffix(out, "\n") != text {
		t.Fatalf("round trip mismatch: %q", out)
	}

	var buf bytes.Buffer
	code := runWithContext(context.Background(), []string{"--config", configPath, "decode", "99999"}, &buf)
	if code != exitError || !strings.Contains(buf.String(), "unknown symbol") {
		t.Fatalf("expected unknown symbol failure, got %d %q", code, buf.String())
	}
}

func TestRunExportImportInspect(t *testing.T) {
	dir, configPath := writeTestConfig(t)
	mustRun(t, "--config", configPath, "train", "--vocab-size", "270")

	mergesPath := filepath.Join(dir, "demo.merges")
	mustRun(t, "--config", configPath, "export", "--out", mergesPath)
	data, err := os.ReadFile(mergesPath)
	if err != nil {
		t.Fatalf("read merges: %v", err)
	}
	if !strings.HasPrefix(string(data), "bytebpe v1\n14\n") {
		t.Fatalf("unexpected merges file: %q", data)
	}

	mustRun(t, "--config", configPath, "import", "--model", "copy", "--in", mergesPath)

	original := mustRun(t, "--config", configPath, "encode", "--text", "quick brown fox")
	copied := mustRun(t, "--config", configPath, "encode", "--model", "copy", "--text", "quick brown fox")
	if original != copied {
		t.Fatalf("imported model encodes differently: %q vs %q", original, copied)
	}

	out := mustRun(t, "--config", configPath, "inspect", "--model", "copy", "--limit", "3")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 4 || !strings.HasPrefix(lines[0], "# copy: vocab 270, 14 merges") {
		t.Fatalf("unexpected inspect output: %q", out)
	}
	if !strings.HasSuffix(lines[1], " 256") || !strings.Contains(lines[1], " -> ") {
		t.Fatalf("unexpected first merge line: %q", lines[1])
	}
}

func TestRunEncodeMissingModel(t *testing.T) {
	_, configPath := writeTestConfig(t)
	var buf bytes.Buffer
	code := runWithContext(context.Background(), []string{"--config", configPath, "encode", "--text", "hi"}, &buf)
	if code != exitError || !strings.Contains(buf.String(), "model not found") {
		t.Fatalf("expected model not found failure, got %d %q", code, buf.String())
	}
}

func TestRunCompareWithoutReferences(t *testing.T) {
	_, configPath := writeTestConfig(t)
	mustRun(t, "--config", configPath, "train")

	out := mustRun(t, "--config", configPath, "compare")
	if !strings.Contains(out, "bytebpe:demo") || !strings.Contains(out, "bytes/token") {
		t.Fatalf("unexpected compare output: %q", out)
	}
}

func TestRunServeExitsOnCancel(t *testing.T) {
	_, configPath := writeTestConfig(t)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	var buf bytes.Buffer
	code := runWithContext(ctx, []string{"--config", configPath, "serve"}, &buf)
	if code != exitOK {
		t.Fatalf("expected exit code 0, got %d output=%q", code, buf.String())
	}
}
