package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/Sternrassler/contrib-harvester/internal/config"
	"github.com/Sternrassler/contrib-harvester/pkg/ratelimit"
)

func newQuotaCmd(root *rootOptions) *cobra.Command {
	var live bool

	cmd := &cobra.Command{
		Use:   "quota",
		Short: "Show the remaining quota of every configured token",
		Long: `quota lists every configured token by its fingerprint together with
the remaining calls and the reset time.

Without --live the last snapshot stored in Redis is shown. With --live
the API is asked directly; the answers are stored as new snapshots when
Redis is configured.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := root.load()
			if err != nil {
				return err
			}
			if !live && cfg.Redis.Addr == "" {
				return fmt.Errorf("stored snapshots need redis.addr; use --live to ask the API")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			var tracker *ratelimit.Tracker
			if cfg.Redis.Addr != "" {
				rdb := newRedisClient(cfg.Redis)
				defer rdb.Close()
				if err := rdb.Ping(ctx).Err(); err != nil {
					return fmt.Errorf("connect to redis %s: %w", cfg.Redis.Addr, err)
				}
				tracker = ratelimit.NewTracker(rdb, logger)
				defer tracker.Close()
			}

			pool, err := ratelimit.NewPool(cfg.Tokens, ratelimit.DefaultPoolOptions())
			if err != nil {
				return err
			}

			var rows []quotaRow
			if live {
				rows, err = liveQuota(ctx, cfg, pool.Snapshot(), tracker)
			} else {
				rows, err = storedQuota(ctx, pool.Snapshot(), tracker)
			}
			if err != nil {
				return err
			}
			renderQuota(os.Stdout, rows, time.Now())
			return nil
		},
	}

	cmd.Flags().BoolVar(&live, "live", false, "ask the API instead of reading stored snapshots")
	return cmd
}

// staleAfter marks snapshots older than one quota window.
const staleAfter = time.Hour

// quotaRow is one line of the quota table. A nil state means unknown.
type quotaRow struct {
	id    string
	state *ratelimit.QuotaState
	err   error
}

func liveQuota(ctx context.Context, cfg *config.Config, creds []ratelimit.Credential, tracker *ratelimit.Tracker) ([]quotaRow, error) {
	gh, err := newGitHubClient(cfg.GitHub)
	if err != nil {
		return nil, err
	}

	rows := make([]quotaRow, 0, len(creds))
	for _, cred := range creds {
		st, err := gh.Quota(ctx, cred)
		if err != nil {
			rows = append(rows, quotaRow{id: cred.ID, err: err})
			continue
		}
		if tracker != nil {
			if err := tracker.Store(ctx, st); err != nil {
				return nil, err
			}
		}
		rows = append(rows, quotaRow{id: cred.ID, state: &st})
	}
	return rows, nil
}

func storedQuota(ctx context.Context, creds []ratelimit.Credential, tracker *ratelimit.Tracker) ([]quotaRow, error) {
	rows := make([]quotaRow, 0, len(creds))
	for _, cred := range creds {
		st, err := tracker.GetState(ctx, cred.ID)
		if err != nil {
			return nil, err
		}
		rows = append(rows, quotaRow{id: cred.ID, state: st})
	}
	return rows, nil
}

func renderQuota(w io.Writer, rows []quotaRow, now time.Time) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.Style().Format.Footer = text.FormatDefault
	t.AppendHeader(table.Row{"Credential", "Remaining", "Reset", "Updated"})

	total := 0
	for _, r := range rows {
		switch {
		case r.err != nil:
			t.AppendRow(table.Row{r.id, "error", r.err.Error(), ""})
		case r.state == nil:
			t.AppendRow(table.Row{r.id, "unknown", "", ""})
		default:
			var remaining any = r.state.Remaining
			reset := "passed"
			if d := r.state.TimeUntilReset(now); d > 0 {
				reset = "in " + d.Round(time.Second).String()
				if r.state.Exhausted() {
					remaining = "exhausted"
				}
			}
			updated := r.state.LastUpdate.UTC().Format(time.RFC3339)
			if r.state.IsStale(now, staleAfter) {
				updated += " (stale)"
			}
			total += r.state.Remaining
			t.AppendRow(table.Row{r.id, remaining, reset, updated})
		}
	}

	t.AppendFooter(table.Row{fmt.Sprintf("%d tokens", len(rows)), total, "", ""})
	t.Render()
}
