package main

import (
	"os"
	"time"

	"github.com/fractalmind-ai/bytebpe/internal/bpe"
	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v2"
)

type trainProgress struct {
	bar *progressbar.ProgressBar
}

// newTrainProgress returns nil unless w is a terminal.
func newTrainProgress(total int, w *os.File) *trainProgress {
	fd := w.Fd()
	if !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd) {
		return nil
	}
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription("training"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionThrottle(50*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
	return &trainProgress{bar: bar}
}

func (p *trainProgress) onMerge(bpe.MergeRecord) {
	_ = p.bar.Add(1)
}

func (p *trainProgress) finish() {
	_ = p.bar.Finish()
}
