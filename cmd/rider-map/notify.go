package main

import (
	"fmt"

	"github.com/spf13/cobra"

	adapterrabbit "rider-map/internal/ridermap/adapter/rabbitmq"
	"rider-map/pkg/logger"
	"rider-map/pkg/rabbitmq"
)

var notifyOpts struct {
	channel string
	event   string
	data    string
}

var notifyCmd = &cobra.Command{
	Use:   "notify",
	Short: "Publish a change event on the RabbitMQ rider exchange",
	Long: `notify publishes one event to the rider fanout exchange. Every running
map session listening over RabbitMQ re-reads the snapshot when it sees the
location event. Defaults come from PUSH_LOCATION_CHANNEL and
PUSH_LOCATION_EVENT.`,
	Args: cobra.NoArgs,
	RunE: runNotify,
}

func init() {
	f := notifyCmd.Flags()
	f.StringVar(&notifyOpts.channel, "channel", "", "channel name (default PUSH_LOCATION_CHANNEL)")
	f.StringVar(&notifyOpts.event, "event", "", "event name (default PUSH_LOCATION_EVENT)")
	f.StringVar(&notifyOpts.data, "data", "", "JSON payload")
}

func runNotify(cmd *cobra.Command, _ []string) error {
	log := newLogger()
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	channel, event := notifyOpts.channel, notifyOpts.event
	if channel == "" {
		channel = cfg.Push.LocationChannel
	}
	if event == "" {
		event = cfg.Push.LocationEvent
	}

	ctx := cmd.Context()
	conn, err := rabbitmq.NewConnection(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}
	defer conn.Close()

	notifier := adapterrabbit.NewNotifier(conn, cfg.RabbitMQ.RiderExchange)
	if err := notifier.Notify(ctx, channel, event, []byte(notifyOpts.data)); err != nil {
		log.Error("notify_failed", err)
		return err
	}

	log.WithFields(logger.LogFields{"channel": channel, "event": event}).
		Info("notify_published", "Change event published")
	return nil
}
