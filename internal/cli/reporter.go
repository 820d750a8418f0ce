package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"alexhalogen/rsraid/internal/stage"
)

const refreshInterval = 200 * time.Millisecond

// Reporter renders the status board on a single, rewritten terminal line.
type Reporter struct {
	out      io.Writer
	quiet    bool
	lastLine int
	wg       sync.WaitGroup
	cancel   context.CancelFunc
}

// NewReporter creates a progress reporter. If quiet is true nothing is
// printed.
func NewReporter(out io.Writer, quiet bool) *Reporter {
	return &Reporter{out: out, quiet: quiet}
}

// Follow polls the board until Stop is called.
func (r *Reporter) Follow(board *stage.Board) {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(refreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				r.drain(board)
				return
			case <-ticker.C:
				r.drain(board)
			}
		}
	}()
}

// Stop renders the last snapshot and ends the progress line.
func (r *Reporter) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	r.wg.Wait()
	r.cancel = nil
	if !r.quiet && r.lastLine > 0 {
		fmt.Fprintln(r.out)
	}
}

func (r *Reporter) drain(board *stage.Board) {
	snap, err := board.Take(context.Background())
	if err != nil || r.quiet {
		return
	}
	for _, l := range snap.Lines {
		r.printLine(fmt.Sprintf("%s...", l))
		fmt.Fprintln(r.out)
		r.lastLine = 0
	}
	r.printLine(renderBar(snap.Phase, snap.Percent))
}

func (r *Reporter) printLine(line string) {
	line = "\r" + line
	if len(line) < r.lastLine {
		line += strings.Repeat(" ", r.lastLine-len(line))
	}
	r.lastLine = len(line)
	fmt.Fprint(r.out, line)
}

func renderBar(phase stage.Phase, percent float64) string {
	const barWidth = 30
	percent = min(max(percent, 0), 100)
	filled := min(int(percent*barWidth/100), barWidth)
	bar := strings.Repeat("#", filled) + strings.Repeat("-", barWidth-filled)
	return fmt.Sprintf("[%s] %6s%% %s", bar, humanize.FtoaWithDigits(percent, 2), phase)
}

// PrintError prints an error message.
func (r *Reporter) PrintError(format string, args ...any) {
	fmt.Fprintf(r.out, "Error: "+format+"\n", args...)
}

// PrintSuccess prints a success message.
func (r *Reporter) PrintSuccess(format string, args ...any) {
	if r.quiet {
		return
	}
	fmt.Fprintf(r.out, format+"\n", args...)
}
