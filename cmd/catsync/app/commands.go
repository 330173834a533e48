package app

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentstation/catsync"
	"github.com/agentstation/catsync/internal/cmd/output"
	"github.com/agentstation/catsync/pkg/constants"
	"github.com/agentstation/catsync/pkg/errors"
	"github.com/agentstation/catsync/pkg/reconcile"
)

// bindingFlags are shared by every command that targets one binding.
type bindingFlags struct {
	kind    string
	catalog string
}

func (f *bindingFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.kind, "kind", "k", "", "entity kind (default: first configured binding)")
	cmd.Flags().StringVarP(&f.catalog, "catalog", "c", "", "remote catalog ID (default: the configured catalog for the kind)")
}

// runFunc is one engine operation against a binding.
type runFunc func(ctx context.Context, c catsync.Client, b catsync.Binding) (any, error)

// runBinding resolves the binding, runs fn, renders the result and turns
// per-record errors into a failing exit status.
func (a *App) runBinding(cmd *cobra.Command, flags *bindingFlags, fn runFunc) error {
	ctx := cmd.Context()
	b, err := a.Binding(flags.kind, flags.catalog)
	if err != nil {
		return err
	}
	client, err := a.Client(ctx)
	if err != nil {
		return err
	}

	result, runErr := fn(ctx, client, b)
	if result != nil && !isNil(result) {
		if err := a.render(cmd, result); err != nil {
			return err
		}
	}
	if runErr != nil {
		return runErr
	}
	return failOnRecordErrors(result)
}

func (a *App) render(cmd *cobra.Command, v any) error {
	format, err := parseFormat(a.config.Format)
	if err != nil {
		return err
	}
	return output.Render(cmd.OutOrStdout(), format, v)
}

func parseFormat(s string) (output.Format, error) {
	if _, err := output.ParseFormat(s); err != nil {
		return "", err
	}
	return output.DetectFormat(s), nil
}

// NewPreviewCommand creates the preview command.
func (a *App) NewPreviewCommand() *cobra.Command {
	flags := &bindingFlags{}
	cmd := &cobra.Command{
		Use:     "preview",
		GroupID: "sync",
		Short:   "Show what a sync would change without writing",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runBinding(cmd, flags, func(ctx context.Context, c catsync.Client, b catsync.Binding) (any, error) {
				return c.Preview(ctx, b.Kind, b.CatalogID)
			})
		},
	}
	flags.register(cmd)
	return cmd
}

// NewPullCommand creates the pull command.
func (a *App) NewPullCommand() *cobra.Command {
	flags := &bindingFlags{}
	cmd := &cobra.Command{
		Use:     "pull",
		GroupID: "sync",
		Short:   "Apply remote changes to local records",
		Long: `Pull links matching records, renames local records whose remote row
changed since the last sync, and creates local records for remote rows
that have no counterpart. Nothing is written to the remote catalog.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runBinding(cmd, flags, func(ctx context.Context, c catsync.Client, b catsync.Binding) (any, error) {
				return c.Pull(ctx, b.Kind, b.CatalogID)
			})
		},
	}
	flags.register(cmd)
	return cmd
}

// NewPushCommand creates the push command.
func (a *App) NewPushCommand() *cobra.Command {
	flags := &bindingFlags{}
	cmd := &cobra.Command{
		Use:     "push",
		GroupID: "sync",
		Short:   "Create remote rows for unlinked local records",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runBinding(cmd, flags, func(ctx context.Context, c catsync.Client, b catsync.Binding) (any, error) {
				return c.Push(ctx, b.Kind, b.CatalogID)
			})
		},
	}
	flags.register(cmd)
	return cmd
}

// NewSyncCommand creates the sync command.
func (a *App) NewSyncCommand() *cobra.Command {
	flags := &bindingFlags{}
	var all bool
	cmd := &cobra.Command{
		Use:     "sync",
		GroupID: "sync",
		Short:   "Push then pull",
		Example: `  catsync sync --kind room
  catsync sync --all -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !all {
				return a.runBinding(cmd, flags, func(ctx context.Context, c catsync.Client, b catsync.Binding) (any, error) {
					return c.Sync(ctx, b.Kind, b.CatalogID)
				})
			}

			client, err := a.Client(cmd.Context())
			if err != nil {
				return err
			}
			outcomes, runErr := client.SyncAll(cmd.Context())
			for _, o := range outcomes {
				if err := a.render(cmd, o); err != nil {
					return err
				}
			}
			if runErr != nil {
				return runErr
			}
			for _, o := range outcomes {
				if err := failOnRecordErrors(o); err != nil {
					return err
				}
			}
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&all, "all", false, "sync every configured binding")
	cmd.MarkFlagsMutuallyExclusive("all", "kind")
	cmd.MarkFlagsMutuallyExclusive("all", "catalog")
	return cmd
}

// NewWatchCommand creates the watch command.
func (a *App) NewWatchCommand() *cobra.Command {
	var interval string
	cmd := &cobra.Command{
		Use:     "watch",
		GroupID: "sync",
		Short:   "Sync every configured binding on a schedule until interrupted",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			settings, err := a.Settings()
			if err != nil {
				return err
			}
			if interval != "" {
				d, err := parseInterval(interval)
				if err != nil {
					return err
				}
				settings.Interval = d
			}
			client, err := a.Client(ctx)
			if err != nil {
				return err
			}

			// Run once up front so the first results do not wait a full interval.
			if _, err := client.SyncAll(ctx); err != nil {
				a.logger.Warn().Err(err).Msg("initial sync failed")
			}
			if err := client.AutoSyncOn(); err != nil {
				return err
			}
			a.logger.Info().Dur("interval", settings.Interval).Msg("watching; press Ctrl-C to stop")

			<-ctx.Done()
			return client.AutoSyncOff()
		},
	}
	cmd.Flags().StringVar(&interval, "interval", "", "sync interval (default: schedule.interval)")
	return cmd
}

// NewConflictsCommand creates the conflicts command.
func (a *App) NewConflictsCommand() *cobra.Command {
	flags := &bindingFlags{}
	var outFile string
	cmd := &cobra.Command{
		Use:     "conflicts",
		GroupID: "conflicts",
		Short:   "List conflicts and potential duplicates as decisions",
		Long: `Conflicts lists every pair that needs a human decision. With --out the
decisions are written to a YAML file; fill in each resolution
(use_local, use_remote or skip) and, for duplicates, manual_override_id,
then apply the file with "catsync resolve --file".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runBinding(cmd, flags, func(ctx context.Context, c catsync.Client, b catsync.Binding) (any, error) {
				decisions, err := c.DetectConflicts(ctx, b.Kind, b.CatalogID)
				if err != nil || outFile == "" {
					return decisions, err
				}
				if err := WriteDecisions(outFile, b, decisions); err != nil {
					return nil, err
				}
				cmd.PrintErrf("wrote %d decisions to %s\n", len(decisions), outFile)
				return nil, nil
			})
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&outFile, "out", "", "write decisions to a YAML file")
	return cmd
}

// NewResolveCommand creates the resolve command.
func (a *App) NewResolveCommand() *cobra.Command {
	flags := &bindingFlags{}
	var file string
	cmd := &cobra.Command{
		Use:     "resolve",
		GroupID: "conflicts",
		Short:   "Apply decisions from a YAML file",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			doc, err := ReadDecisions(file)
			if err != nil {
				return err
			}
			if flags.kind == "" {
				flags.kind = string(doc.Kind)
			}
			if flags.catalog == "" {
				flags.catalog = doc.Catalog
			}
			return a.runBinding(cmd, flags, func(ctx context.Context, c catsync.Client, b catsync.Binding) (any, error) {
				return c.Resolve(ctx, b.Kind, b.CatalogID, doc.Decisions)
			})
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVarP(&file, "file", "f", "", "decisions file written by conflicts --out")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

// NewVersionCommand creates the version command.
func (a *App) NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("catsync %s\n", a.version)
			if a.config.Verbose {
				cmd.Printf("  commit:   %s\n", a.commit)
				cmd.Printf("  built:    %s\n", a.date)
				cmd.Printf("  built by: %s\n", a.builtBy)
			}
		},
	}
}

func failOnRecordErrors(result any) error {
	var n int
	switch r := result.(type) {
	case *reconcile.SyncOutcome:
		if r != nil {
			n = len(r.Errors)
		}
	case *reconcile.ResolveResult:
		if r != nil {
			n = len(r.Errors)
		}
	}
	if n > 0 {
		return fmt.Errorf("%d records failed", n)
	}
	return nil
}

func isNil(v any) bool {
	switch r := v.(type) {
	case *reconcile.SyncOutcome:
		return r == nil
	case *reconcile.Preview:
		return r == nil
	case *reconcile.ResolveResult:
		return r == nil
	}
	return false
}

func parseInterval(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, errors.NewValidationError("interval", s, "invalid duration")
	}
	if d < constants.MinSyncInterval {
		return 0, errors.NewValidationError("interval", s, "must be at least "+constants.MinSyncInterval.String())
	}
	return d, nil
}
