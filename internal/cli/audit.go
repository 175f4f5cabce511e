package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/drfirst/go-rxreview/internal/domain/review"
	"github.com/drfirst/go-rxreview/internal/infrastructure/postgres"
	"github.com/drfirst/go-rxreview/internal/infrastructure/redpanda"
)

var errNoDatabase = errors.New("no audit database configured; set DATABASE_URL or --database-url")

func newAuditCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the review audit trail",
	}

	history := &cobra.Command{
		Use:   "history <session>",
		Short: "Print the stored events of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAuditStore(cmd.Context(), app, func(ctx context.Context, store *postgres.AuditStore) error {
				events, err := store.History(ctx, args[0])
				if err != nil {
					return err
				}
				if len(events) == 0 {
					return fmt.Errorf("%w: %s", review.ErrSessionNotFound, args[0])
				}
				return app.renderEvents(events)
			})
		},
	}

	replay := &cobra.Command{
		Use:   "replay <session>",
		Short: "Rebuild a session from its events and print the final items",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAuditStore(cmd.Context(), app, func(ctx context.Context, store *postgres.AuditStore) error {
				sess, err := store.Replay(ctx, args[0])
				if err != nil {
					return err
				}
				return app.renderSession(sess)
			})
		},
	}

	var (
		eventType string
		limit     int
	)
	recent := &cobra.Command{
		Use:   "recent",
		Short: "Print the most recent events of one type",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withAuditStore(cmd.Context(), app, func(ctx context.Context, store *postgres.AuditStore) error {
				events, err := store.EventsByType(ctx, review.EventType(eventType), limit)
				if err != nil {
					return err
				}
				return app.renderEvents(events)
			})
		},
	}
	recent.Flags().StringVar(&eventType, "type", string(review.EventDocumentComposed), "event type")
	recent.Flags().IntVar(&limit, "limit", 20, "maximum number of events")

	var group string
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Follow events published to the audit topic",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTail(cmd.Context(), app, group)
		},
	}
	tail.Flags().StringVar(&group, "group", "", "consumer group; empty reads without committing")

	cmd.AddCommand(history, replay, recent, tail)
	return cmd
}

func withAuditStore(ctx context.Context, app *App, fn func(context.Context, *postgres.AuditStore) error) error {
	if app.databaseURL == "" {
		return errNoDatabase
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	pool, err := postgres.Connect(ctx, app.databaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(ctx, postgres.NewAuditStore(pool, "", app.Logger))
}

func runTail(ctx context.Context, app *App, group string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := redpanda.DefaultConsumerConfig()
	cfg.Brokers = app.brokers
	cfg.GroupID = group
	if group == "" {
		cfg.StartOffset = "latest"
	}

	consumer, err := redpanda.NewConsumer(cfg, func(_ context.Context, msg *redpanda.ConsumedMessage) error {
		event, err := redpanda.DecodeAuditEvent(msg)
		if err != nil {
			return err
		}
		return app.renderEvents([]*review.Event{event})
	}, app.Logger)
	if err != nil {
		return err
	}

	app.Logger.Info("tailing audit topic", zap.Strings("brokers", cfg.Brokers), zap.Strings("topics", cfg.Topics))
	consumer.Start()
	<-ctx.Done()
	return consumer.Stop()
}

func (a *App) renderEvents(events []*review.Event) error {
	if a.output == FormatYAML {
		return a.render(eventDocs(events), nil)
	}
	return a.render(events, func(w io.Writer) error {
		for _, e := range events {
			fmt.Fprintf(w, "%s  v%-3d %-18s %s  %s\n",
				e.Timestamp.UTC().Format(time.RFC3339), e.Version, e.EventType, e.SessionID, e.EventData)
		}
		return nil
	})
}

type eventDoc struct {
	ID            string    `yaml:"id"`
	SessionID     string    `yaml:"session_id"`
	EventType     string    `yaml:"event_type"`
	Version       int       `yaml:"version"`
	Timestamp     time.Time `yaml:"timestamp"`
	CorrelationID string    `yaml:"correlation_id,omitempty"`
	Data          string    `yaml:"data"`
}

// eventDocs keeps event data readable in YAML instead of a byte list
func eventDocs(events []*review.Event) []eventDoc {
	docs := make([]eventDoc, len(events))
	for i, e := range events {
		docs[i] = eventDoc{
			ID:            e.ID,
			SessionID:     e.SessionID,
			EventType:     string(e.EventType),
			Version:       e.Version,
			Timestamp:     e.Timestamp,
			CorrelationID: e.CorrelationID,
			Data:          string(e.EventData),
		}
	}
	return docs
}

type sessionDoc struct {
	SessionID     string              `json:"session_id" yaml:"session_id"`
	Version       int                 `json:"version" yaml:"version"`
	Diagnosis     string              `json:"diagnosis,omitempty" yaml:"diagnosis,omitempty"`
	ApprovedCount int                 `json:"approved_count" yaml:"approved_count"`
	Items         []review.ReviewItem `json:"items" yaml:"items"`
}

func (a *App) renderSession(s *review.Session) error {
	doc := sessionDoc{
		SessionID:     s.ID(),
		Version:       s.Version(),
		Diagnosis:     s.Diagnosis(),
		ApprovedCount: s.ApprovedCount(),
		Items:         s.Items(),
	}
	return a.render(doc, func(w io.Writer) error {
		fmt.Fprintf(w, "session %s (version %d), %d of %d approved\n", doc.SessionID, doc.Version, doc.ApprovedCount, len(doc.Items))
		if doc.Diagnosis != "" {
			fmt.Fprintf(w, "diagnosis: %s\n", doc.Diagnosis)
		}
		for i, item := range doc.Items {
			mark := " "
			if item.Approved {
				mark = "x"
			}
			fmt.Fprintf(w, "[%s] %d. %s  %s  %s\n", mark, i+1, item.Suggestion.Name, item.Suggestion.DosageLabel, item.Suggestion.Quantity)
		}
		return nil
	})
}
