package main

import (
	"flag"
	"fmt"
	"strconv"
	"time"

	"github.com/whisper/pairchat/internal/config"
)

// unitDuration is a duration flag that also accepts a bare integer counted
// in unit, so "-cleanup-poll-frequency 5000" means 5s when unit is a
// millisecond.
type unitDuration struct {
	d    *time.Duration
	unit time.Duration
}

func (u unitDuration) String() string {
	if u.d == nil {
		return ""
	}
	return u.d.String()
}

func (u unitDuration) Set(s string) error {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		*u.d = time.Duration(n) * u.unit
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("want an integer in %s or a duration such as 1m30s", unitName(u.unit))
	}
	*u.d = d
	return nil
}

func unitName(unit time.Duration) string {
	switch unit {
	case time.Millisecond:
		return "milliseconds"
	case time.Second:
		return "seconds"
	default:
		return unit.String() + " units"
	}
}

// parseFlags applies command line overrides to cfg.
func parseFlags(fs *flag.FlagSet, args []string, cfg *config.Server) error {
	fs.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "listen address")
	fs.Var(unitDuration{&cfg.Lobby.CleanupInterval, time.Millisecond}, "cleanup-poll-frequency", "how often idle users are swept (milliseconds or a duration)")
	fs.IntVar(&cfg.Lobby.MaxMessages, "max-messages", cfg.Lobby.MaxMessages, "messages kept per room")
	fs.Var(unitDuration{&cfg.Lobby.MaxIdleOutside, time.Second}, "max-idle-outside", "idle limit outside a joined room (seconds or a duration)")
	fs.Var(unitDuration{&cfg.Lobby.MaxIdleInside, time.Second}, "max-idle-inside", "idle limit inside a joined room (seconds or a duration)")
	return fs.Parse(args)
}
