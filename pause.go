package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/emirbensusan/lotastro-sync/internal/config"
	"github.com/emirbensusan/lotastro-sync/internal/remote"
)

// daemonRequestTimeout bounds calls to the local control API.
const daemonRequestTimeout = 5 * time.Second

func newPauseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pause [duration]",
		Short: "Pause background sync in the running daemon",
		Long: `Stop automatic sync passes in the running daemon. Mutations keep queueing
and 'lotasync sync' still works. An optional duration ("30m", "2h", "1d")
resumes automatically after the interval.

Examples:
  lotasync pause
  lotasync pause 2h`,
		Args: cobra.MaximumNArgs(1),
		RunE: runPause,
	}
}

// enabledBody mirrors the control API's PUT /sync/enabled request.
type enabledBody struct {
	Enabled     bool   `json:"enabled"`
	ResumeAfter string `json:"resumeAfter,omitempty"`
}

type enabledReply struct {
	Enabled     bool       `json:"enabled"`
	PausedUntil *time.Time `json:"pausedUntil,omitempty"`
}

func runPause(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())

	body := enabledBody{Enabled: false}

	if len(args) > 0 {
		d, err := parseDuration(args[0])
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", args[0], err)
		}

		body.ResumeAfter = d.String()
	}

	reply, err := setDaemonEnabled(cmd.Context(), cc, body)
	if err != nil {
		return err
	}

	if reply.PausedUntil != nil {
		cc.Statusf("Background sync paused until %s\n", reply.PausedUntil.Local().Format(time.RFC3339))
	} else {
		cc.Statusf("Background sync paused\n")
	}

	return nil
}

func newResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Resume background sync in the running daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			if _, err := setDaemonEnabled(cmd.Context(), cc, enabledBody{Enabled: true}); err != nil {
				return err
			}

			cc.Statusf("Background sync resumed\n")

			return nil
		},
	}
}

// setDaemonEnabled calls the control API of the daemon owning this store.
func setDaemonEnabled(ctx context.Context, cc *CLIContext, body enabledBody) (enabledReply, error) {
	var reply enabledReply

	if _, err := findDaemon(pidFilePath(cc.Cfg.Store.Path)); err != nil {
		return reply, err
	}

	client, err := daemonClient(&cc.Cfg.API, cc)
	if err != nil {
		return reply, err
	}

	if err := client.Do(ctx, http.MethodPut, "/sync/enabled", body, &reply); err != nil {
		return reply, fmt.Errorf("contacting daemon at %s: %w", cc.Cfg.API.Listen, err)
	}

	return reply, nil
}

// daemonClient returns a client for the local control API. The daemon is
// local, so one attempt is enough.
func daemonClient(cfg *config.APIConfig, cc *CLIContext) (*remote.Client, error) {
	if !cfg.Enabled {
		return nil, errors.New("the daemon control API is disabled (api.enabled = false)")
	}

	client := remote.NewClient("http://"+cfg.Listen, &http.Client{Timeout: daemonRequestTimeout}, nil, cc.Logger)
	client.SetMaxRetries(0)

	return client, nil
}

// hoursPerDay is used to convert day durations to hours.
const hoursPerDay = 24

// durationPattern matches durations like "30m", "2h", "1d", "1h30m".
var durationPattern = regexp.MustCompile(`^(\d+d)?(\d+h)?(\d+m)?(\d+s)?$`)

// durationPart splits durationPattern matches into number and unit.
var durationPart = regexp.MustCompile(`(\d+)([dhms])`)

// parseDuration parses a human-friendly duration string. Supports Go duration
// syntax (e.g., "2h30m") plus a "d" suffix for days (converted to 24h).
func parseDuration(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		if d <= 0 {
			return 0, fmt.Errorf("duration must be positive")
		}

		return d, nil
	}

	if s == "" || !durationPattern.MatchString(s) {
		return 0, fmt.Errorf("expected format like 30m, 2h, 1d, or 1h30m")
	}

	var total time.Duration

	for _, match := range durationPart.FindAllStringSubmatch(s, -1) {
		n, err := strconv.Atoi(match[1])
		if err != nil {
			return 0, fmt.Errorf("invalid number %q: %w", match[1], err)
		}

		switch match[2] {
		case "d":
			total += time.Duration(n) * hoursPerDay * time.Hour
		case "h":
			total += time.Duration(n) * time.Hour
		case "m":
			total += time.Duration(n) * time.Minute
		case "s":
			total += time.Duration(n) * time.Second
		}
	}

	if total <= 0 {
		return 0, fmt.Errorf("duration must be positive")
	}

	return total, nil
}
