// Command probe checks a running chat server end to end: session A must see
// "Waiting", session B must see "Joined", then A posts a payload and A's
// page is printed to stdout.
//
// Usage:
//
//	probe [-url http://localhost:3000] [-payload hola] [-timeout 0] [-v]
//
// Exit code 0 when every step passes, 1 otherwise.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/fatih/color"

	"github.com/whisper/pairchat/internal/config"
	"github.com/whisper/pairchat/internal/probe"
)

func main() {
	cfg, err := config.LoadProbe()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	run := probe.Config{BaseURL: cfg.BaseURL, Payload: cfg.Payload, Timeout: cfg.Timeout}
	flag.StringVar(&run.BaseURL, "url", run.BaseURL, "chat server base URL")
	flag.StringVar(&run.Payload, "payload", run.Payload, "raw body posted by session A")
	flag.DurationVar(&run.Timeout, "timeout", run.Timeout, "per-request timeout (0 = none)")
	flag.BoolVar(&run.Verbose, "v", false, "print each step to stderr")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := probe.Run(ctx, run, os.Stdout, os.Stderr); err != nil {
		red := color.New(color.FgRed, color.Bold).SprintFunc()
		var ae *probe.AssertionError
		if errors.As(err, &ae) {
			fmt.Fprintf(os.Stderr, "%s session %s did not see %q at %s\n", red("FAIL"), ae.Session, ae.Want, ae.URL)
			fmt.Fprintln(os.Stderr, ae.Body)
		} else {
			fmt.Fprintf(os.Stderr, "%s %v\n", red("ERROR"), err)
		}
		stop()
		os.Exit(1)
	}
}
