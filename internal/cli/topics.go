package cli

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/drfirst/go-rxreview/internal/infrastructure/redpanda"
)

func newTopicsCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "topics",
		Short: "Manage the audit topics",
	}

	var replication int16
	ensure := &cobra.Command{
		Use:   "ensure",
		Short: "Create the audit and dead letter topics when missing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withAdmin(cmd.Context(), app, func(ctx context.Context, admin *redpanda.Admin) error {
				results, err := admin.EnsureTopics(ctx, replication)
				if err != nil {
					return err
				}
				return app.render(results, func(w io.Writer) error {
					for _, r := range results {
						state := "exists"
						if r.Created {
							state = "created"
						}
						fmt.Fprintf(w, "%s\t%s\n", r.Topic, state)
					}
					return nil
				})
			})
		},
	}
	ensure.Flags().Int16Var(&replication, "replication", 1, "replication factor")

	list := &cobra.Command{
		Use:   "list",
		Short: "List topics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withAdmin(cmd.Context(), app, func(ctx context.Context, admin *redpanda.Admin) error {
				names, err := admin.ListTopics(ctx)
				if err != nil {
					return err
				}
				return app.render(names, func(w io.Writer) error {
					for _, n := range names {
						fmt.Fprintln(w, n)
					}
					return nil
				})
			})
		},
	}

	lag := &cobra.Command{
		Use:   "lag <group>",
		Short: "Show consumer group lag per partition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAdmin(cmd.Context(), app, func(ctx context.Context, admin *redpanda.Admin) error {
				lags, err := admin.GetConsumerGroupLag(ctx, args[0])
				if err != nil {
					return err
				}
				return app.render(lags, func(w io.Writer) error {
					return writeLag(w, lags)
				})
			})
		},
	}

	cmd.AddCommand(ensure, list, lag)
	return cmd
}

func withAdmin(ctx context.Context, app *App, fn func(context.Context, *redpanda.Admin) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	admin, err := redpanda.NewAdmin(app.brokers, app.Logger)
	if err != nil {
		return err
	}
	defer admin.Close()
	return fn(ctx, admin)
}

func writeLag(w io.Writer, lags map[string]map[int32]int64) error {
	topics := make([]string, 0, len(lags))
	for t := range lags {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	for _, t := range topics {
		parts := make([]int32, 0, len(lags[t]))
		for p := range lags[t] {
			parts = append(parts, p)
		}
		sort.Slice(parts, func(i, j int) bool { return parts[i] < parts[j] })
		for _, p := range parts {
			if _, err := fmt.Fprintf(w, "%s\t%d\t%d\n", t, p, lags[t][p]); err != nil {
				return err
			}
		}
	}
	return nil
}
