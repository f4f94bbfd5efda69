package cli

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/goliatone/go-application-cache/cache"
	"github.com/goliatone/go-application-cache/internal/cacheinfra"
	"github.com/goliatone/go-application-cache/pkg/di"
)

func newMigrateCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the cache table and its indexes",
		Args:  cobra.NoArgs,
		RunE: a.withContainer(func(cmd *cobra.Command, _ []string, c *di.Container) error {
			if err := cacheinfra.Migrate(cmd.Context(), c.DB()); err != nil {
				return err
			}
			a.logger.Info("cache table migrated", "driver", c.Config().Driver)
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "cache table %s ready\n", cacheinfra.TableName)
			return err
		}),
	}
}

func newSweepCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete every expired entry",
		Args:  cobra.NoArgs,
		RunE: a.withContainer(func(cmd *cobra.Command, _ []string, c *di.Container) error {
			n, err := c.Service().Sweep(cmd.Context())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "removed %d expired entries\n", n)
			return err
		}),
	}
}

type expireFlags struct {
	id           string
	discriminant string
	user         string
}

func (f expireFlags) target() (cache.ExpireTarget, error) {
	switch {
	case f.id != "":
		if f.discriminant != "" || f.user != "" {
			return nil, errors.New("--id cannot be combined with --discriminant or --user")
		}
		id, err := uuid.Parse(f.id)
		if err != nil {
			return nil, fmt.Errorf("invalid --id: %w", err)
		}
		return cache.ByID(id), nil
	case f.discriminant != "":
		d, err := cache.ParseDiscriminant(f.discriminant)
		if err != nil {
			return nil, err
		}
		return cache.BySanitizedKey(d, f.user), nil
	case f.user != "":
		return cache.ByUser(f.user), nil
	default:
		return nil, errors.New("one of --id, --discriminant or --user is required")
	}
}

func newExpireCommand(a *app) *cobra.Command {
	var f expireFlags
	cmd := &cobra.Command{
		Use:   "expire",
		Short: "Remove entries by id, by variant, or by user",
		Example: `  cachectl expire --id 6f1c...
  cachectl expire --discriminant user_metadata_list --user 42
  cachectl expire --user 42`,
		Args: cobra.NoArgs,
		RunE: a.withContainer(func(cmd *cobra.Command, _ []string, c *di.Container) error {
			target, err := f.target()
			if err != nil {
				return err
			}
			n, err := c.Service().ExpireKey(cmd.Context(), target)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "removed %d entries (%s)\n", n, target)
			return err
		}),
	}
	cmd.Flags().StringVar(&f.id, "id", "", "Entry id")
	cmd.Flags().StringVar(&f.discriminant, "discriminant", "", "Cache variant, e.g. user_metadata_list")
	cmd.Flags().StringVar(&f.user, "user", "", "User id")
	return cmd
}

func newInspectCommand(a *app) *cobra.Command {
	var (
		match          string
		includeExpired bool
		limit          int
	)
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "List entries whose sanitized key contains --match",
		Args:  cobra.NoArgs,
		RunE: a.withContainer(func(cmd *cobra.Command, _ []string, c *di.Container) error {
			now := time.Now().UTC()
			rows, err := c.Store().Find(cmd.Context(), cacheinfra.Filter{
				Match:          match,
				IncludeExpired: includeExpired,
				Limit:          limit,
				Now:            now,
			})
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSANITIZED KEY\tVERSION\tBYTES\tEXPIRES AT\tSTATE")
			for _, e := range rows {
				state := "live"
				if !e.ExpiresAt.After(now) {
					state = "expired"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
					e.ID, e.SanitizedKey, e.Version, len(e.Value), e.ExpiresAt.Format(time.RFC3339), state)
			}
			return w.Flush()
		}),
	}
	cmd.Flags().StringVar(&match, "match", "", "Substring of the sanitized key")
	cmd.Flags().BoolVar(&includeExpired, "include-expired", false, "Also list expired entries")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum rows to list")
	return cmd
}

func newStatsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Count live and expired entries per variant",
		Args:  cobra.NoArgs,
		RunE: a.withContainer(func(cmd *cobra.Command, _ []string, c *di.Container) error {
			ctx := cmd.Context()
			now := time.Now().UTC()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "DISCRIMINANT\tTTL\tLIVE\tEXPIRED")
			var total cacheinfra.Counts
			for _, d := range cache.Discriminants() {
				counts, err := c.Store().Count(ctx, cacheinfra.SanitizedPattern{Discriminant: string(d)}, now)
				if err != nil {
					return err
				}
				total.Live += counts.Live
				total.Expired += counts.Expired
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\n", d, c.Service().Policy(d).TTL, counts.Live, counts.Expired)
			}
			fmt.Fprintf(w, "total\t\t%d\t%d\n", total.Live, total.Expired)
			return w.Flush()
		}),
	}
}
