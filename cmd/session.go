package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/hydroindex/internal/config"
	"github.com/sells-group/hydroindex/internal/raster"
	"github.com/sells-group/hydroindex/internal/session"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage analysis session workspaces",
	Long:  "Creates, inspects, extends and removes the expiring workspaces analysis runs write into.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := rootCmd.PersistentPreRunE(cmd, args); err != nil {
			return err
		}
		return cfg.Validate("session")
	},
}

var (
	sessionUser    string
	sessionContext string
	sessionTTL     time.Duration
	sessionExtend  time.Duration
	sweepEvery     time.Duration
	getArtifact    string
	getArea        string
)

var sessionCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a session workspace",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		reg, err := openRegistry(ctx, cfg)
		if err != nil {
			return err
		}
		defer reg.Close() //nolint:errcheck

		var opts []session.CreateOption
		if cmd.Flags().Changed("ttl") {
			opts = append(opts, session.WithTTL(sessionTTL))
		}
		s, err := reg.Create(ctx, sessionUser, sessionContext, opts...)
		if err != nil {
			return err
		}
		return printJSON(os.Stdout, newSessionView(s, time.Now()))
	},
}

var sessionGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show a session and refresh its access time",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		reg, err := openRegistry(ctx, cfg)
		if err != nil {
			return err
		}
		defer reg.Close() //nolint:errcheck

		if getArtifact != "" {
			data, err := reg.ReadArtifact(ctx, args[0], session.Area(getArea), getArtifact)
			if err != nil {
				return err
			}
			return printArtifact(os.Stdout, getArtifact, data)
		}

		s, err := reg.Get(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(os.Stdout, newSessionView(s, time.Now()))
	},
}

var sessionExtendCmd = &cobra.Command{
	Use:   "extend <id>",
	Short: "Extend a live session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		reg, err := openRegistry(ctx, cfg)
		if err != nil {
			return err
		}
		defer reg.Close() //nolint:errcheck

		s, err := reg.Extend(ctx, args[0], sessionExtend)
		if err != nil {
			return err
		}
		return printJSON(os.Stdout, newSessionView(s, time.Now()))
	},
}

var sessionCleanupCmd = &cobra.Command{
	Use:   "cleanup <id>",
	Short: "Remove a session workspace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		reg, err := openRegistry(ctx, cfg)
		if err != nil {
			return err
		}
		defer reg.Close() //nolint:errcheck

		if err := reg.Cleanup(ctx, args[0]); err != nil {
			return err
		}
		zap.L().Info("session removed", zap.String("session_id", args[0]))
		return nil
	},
}

var sessionSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Remove expired sessions",
	Long:  "Removes every expired session once, or on every --every interval until interrupted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		reg, err := openRegistry(ctx, cfg)
		if err != nil {
			return err
		}
		defer reg.Close() //nolint:errcheck

		if sweepEvery > 0 {
			zap.L().Info("sweeping sessions periodically", zap.Duration("interval", sweepEvery))
			return reg.SweepEvery(ctx, sweepEvery)
		}
		n, err := reg.Sweep(ctx)
		if err != nil {
			return eris.Wrap(err, "session sweep")
		}
		_, _ = fmt.Fprintf(os.Stdout, "removed %d expired sessions\n", n)
		return nil
	},
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		reg, err := openRegistry(ctx, cfg)
		if err != nil {
			return err
		}
		defer reg.Close() //nolint:errcheck

		list, err := reg.List(ctx)
		if err != nil {
			return err
		}
		if len(list) == 0 {
			zap.L().Info("no sessions found, run 'session create' or 'analyze' to start one")
			return nil
		}
		formatSessions(os.Stdout, list, time.Now())
		return nil
	},
}

func init() {
	sessionCreateCmd.Flags().StringVar(&sessionUser, "user", "", "session owner")
	sessionCreateCmd.Flags().StringVar(&sessionContext, "context", "", "output partition key (for example a survey year)")
	sessionCreateCmd.Flags().DurationVar(&sessionTTL, "ttl", session.DefaultTTL, "session lifetime")
	sessionGetCmd.Flags().StringVar(&getArtifact, "artifact", "", "print this artifact instead of the session (.asc grids are summarized)")
	sessionGetCmd.Flags().StringVar(&getArea, "area", string(session.AreaOutput), "artifact area: output or temp")
	sessionExtendCmd.Flags().DurationVar(&sessionExtend, "by", session.DefaultTTL, "duration to add")
	sessionSweepCmd.Flags().DurationVar(&sweepEvery, "every", 0, "sweep on this interval until interrupted")

	sessionCmd.AddCommand(sessionCreateCmd, sessionGetCmd, sessionExtendCmd, sessionCleanupCmd, sessionSweepCmd, sessionListCmd)
	rootCmd.AddCommand(sessionCmd)
}

// openRegistry opens the session registry with the configured index. Each
// command is its own process, so only durable indexes are offered.
func openRegistry(ctx context.Context, c *config.Config) (*session.Registry, error) {
	opts := []session.Option{
		session.WithDefaultTTL(time.Duration(c.Session.TTLMinutes) * time.Minute),
	}
	switch c.Session.Index {
	case "sqlite":
		idx, err := session.NewSQLiteIndex(ctx, c.Session.SQLitePath)
		if err != nil {
			return nil, err
		}
		opts = append(opts, session.WithIndex(idx))
	case "json", "":
	default:
		return nil, eris.Errorf("unsupported session index %q", c.Session.Index)
	}
	reg, err := session.Open(ctx, c.Session.Root, opts...)
	if err != nil {
		return nil, eris.Wrap(err, "open session registry")
	}
	return reg, nil
}

// sessionView is the printed form of a session.
type sessionView struct {
	session.Session
	Status    session.Status `json:"status"`
	Remaining string         `json:"remaining"`
}

func newSessionView(s session.Session, now time.Time) sessionView {
	return sessionView{
		Session:   s,
		Status:    s.Status(now),
		Remaining: s.Remaining(now).Round(time.Second).String(),
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(v), "encode json")
}

// rasterView summarizes an ASCII grid artifact.
type rasterView struct {
	Name       string          `json:"name"`
	Rows       int             `json:"rows"`
	Cols       int             `json:"cols"`
	CellWidth  float64         `json:"cell_width"`
	CellHeight float64         `json:"cell_height"`
	ValidCells int             `json:"valid_cells"`
	Summary    *raster.Summary `json:"summary"`
}

// printArtifact writes a summary of .asc grids and the raw bytes of
// anything else.
func printArtifact(w io.Writer, name string, data []byte) error {
	if !strings.EqualFold(filepath.Ext(name), ".asc") {
		_, err := w.Write(data)
		return eris.Wrap(err, "write artifact")
	}
	s, err := raster.DecodeASCII(bytes.NewReader(data))
	if err != nil {
		return eris.Wrapf(err, "decode %s", name)
	}
	v := rasterView{
		Name:       name,
		Rows:       s.Grid.Rows,
		Cols:       s.Grid.Cols,
		CellWidth:  s.Grid.CellWidth,
		CellHeight: s.Grid.CellHeight,
		ValidCells: s.ValidCount(),
	}
	if sum, ok := s.Summarize(); ok {
		v.Summary = &sum
	}
	return printJSON(w, v)
}

// formatSessions writes a tabular listing of sessions to out.
func formatSessions(out io.Writer, list []session.Session, now time.Time) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tUSER\tCONTEXT\tSTATUS\tCREATED\tREMAINING")
	_, _ = fmt.Fprintln(w, "--\t----\t-------\t------\t-------\t---------")
	for _, s := range list {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			s.ID,
			s.User,
			s.Context,
			s.Status(now),
			s.CreatedAt.Format("2006-01-02 15:04"),
			s.Remaining(now).Round(time.Second),
		)
	}
	_ = w.Flush()
}
