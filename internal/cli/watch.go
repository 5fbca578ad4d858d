package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/shaiso/neuroflow/internal/domain"
	"github.com/shaiso/neuroflow/internal/mq"
)

// NewWatchCmd создаёт команду watch: печать событий run из RabbitMQ.
func NewWatchCmd(outputFn func() *Output, loggerFn func() *slog.Logger) *cobra.Command {
	var amqpURL string
	var pattern string
	var runsOnly bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream node and run events",
		Long: `Stream node and run events published by running executions.

The routing key of node events is node.<modality>.<status>, of run events
run.<status>; --pattern accepts any RabbitMQ topic pattern over them,
e.g. "node.pet.*" or "*.*.failed".`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()
			logger := loggerFn()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			conn, err := mq.NewConnection(amqpURL, logger)
			if err != nil {
				return err
			}
			defer conn.Close()

			key := mq.RoutingKey(pattern)
			if runsOnly {
				key = mq.RoutingKeyRunEvents
			}
			consumer := mq.NewConsumer(conn, logger, mq.ConsumerConfig{
				Queue:    "watch",
				Declare:  mq.WatchQueue(key),
				Prefetch: 50,
				Handler: func(_ context.Context, d *mq.Delivery) error {
					if out.IsJSON() {
						out.JSON(d.Message)
						return nil
					}
					line, err := FormatEvent(&d.Message)
					if err != nil {
						return mq.Permanent(err)
					}
					out.Println(line)
					return nil
				},
			})

			out.Notice("Watching %s (pattern %q), Ctrl+C to stop", mq.ExchangeEvents, key)
			if err := consumer.Start(ctx); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&amqpURL, "amqp", mq.DefaultURL(), "RabbitMQ URL")
	cmd.Flags().StringVar(&pattern, "pattern", string(mq.RoutingKeyAllEvents), "Routing key pattern")
	cmd.Flags().BoolVar(&runsOnly, "runs-only", false, "Only run start/finish events")

	return cmd
}

// FormatEvent форматирует событие в одну строку.
func FormatEvent(msg *mq.Message) (string, error) {
	ts := msg.Timestamp.Local().Format(time.TimeOnly)

	switch msg.Type {
	case mq.MessageTypeNodeEvent:
		e, err := mq.ParsePayload[domain.NodeEvent](msg)
		if err != nil {
			return "", err
		}
		line := fmt.Sprintf("%s %-9s %s", ts, e.Status, e.NodeID)
		var notes []string
		if e.Cached {
			notes = append(notes, "cached")
		}
		if e.Attempts > 1 {
			notes = append(notes, fmt.Sprintf("attempts=%d", e.Attempts))
		}
		if e.Error != "" {
			notes = append(notes, e.Error)
		}
		if len(notes) > 0 {
			line += " (" + strings.Join(notes, ", ") + ")"
		}
		return line, nil

	case mq.MessageTypeRunEvent:
		e, err := mq.ParsePayload[domain.RunEvent](msg)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s run %s %s study=%s nodes=%d", ts, e.RunID, e.Status, e.Study, e.Nodes), nil

	default:
		return "", fmt.Errorf("unexpected message type %q", msg.Type)
	}
}
