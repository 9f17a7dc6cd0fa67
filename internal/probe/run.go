package probe

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
)

// Config controls a probe run.
type Config struct {
	BaseURL string
	Payload string
	Timeout time.Duration // per request; 0 means none
	Verbose bool          // print step lines to the log writer
}

// Expected page text for each step.
const (
	WantWaiting = "Waiting"
	WantJoined  = "Joined"
)

var (
	stepColor = color.New(color.FgCyan)
	passColor = color.New(color.FgGreen, color.Bold)
	failColor = color.New(color.FgRed, color.Bold)
)

// Run executes the four steps in order and writes A's final page to out.
// Step lines go to log when cfg.Verbose is set. The first failure stops the
// run.
func Run(ctx context.Context, cfg Config, out, log io.Writer) error {
	a, err := NewSession("A", cfg.BaseURL, cfg.Timeout)
	if err != nil {
		return err
	}
	b, err := NewSession("B", cfg.BaseURL, cfg.Timeout)
	if err != nil {
		return err
	}

	steps := []struct {
		name string
		run  func() error
	}{
		{fmt.Sprintf("A expects %q", WantWaiting), func() error {
			_, err := a.Expect(ctx, WantWaiting)
			return err
		}},
		{fmt.Sprintf("B expects %q", WantJoined), func() error {
			_, err := b.Expect(ctx, WantJoined)
			return err
		}},
		{fmt.Sprintf("A posts %q", cfg.Payload), func() error {
			return a.Post(ctx, cfg.Payload)
		}},
		{"A reads the page", func() error {
			body, err := a.Get(ctx)
			if err != nil {
				return err
			}
			_, err = io.WriteString(out, body+"\n")
			return err
		}},
	}

	for i, step := range steps {
		if cfg.Verbose {
			stepColor.Fprintf(log, "[%d/%d] ", i+1, len(steps))
			fmt.Fprint(log, step.name)
		}
		if err := step.run(); err != nil {
			if cfg.Verbose {
				failColor.Fprintln(log, " FAIL")
			}
			return err
		}
		if cfg.Verbose {
			passColor.Fprintln(log, " ok")
		}
	}
	return nil
}
