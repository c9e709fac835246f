package feeds

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/rriggio/energino/pkg/telemetry"
)

const (
	mqttConnectTimeout = 10 * time.Second
	mqttDisconnectMs   = 250
	mqttQoS            = 1
)

var _ Feed = (*MQTT)(nil)

// MQTT publishes status lines to a broker topic with the newline framing
// intact, so a collector parsing the serial feed parses the broker feed
// unchanged.
type MQTT struct {
	client mqtt.Client
	topic  string
	log    zerolog.Logger
}

// NewMQTT connects to the broker and returns a feed publishing on topic.
// An empty topic selects DefaultTopic for the feed id.
func NewMQTT(broker, topic string, feedID uint32, log zerolog.Logger) (*MQTT, error) {
	if topic == "" {
		topic = DefaultTopic(feedID)
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(fmt.Sprintf("energino-%d", feedID))
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(mqttConnectTimeout)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to broker %s: %w", broker, token.Error())
	}
	return &MQTT{
		client: client,
		topic:  topic,
		log:    log.With().Str("component", "feeds").Str("kind", "mqtt").Logger(),
	}, nil
}

func (f *MQTT) Publish(ctx context.Context, r telemetry.Report) error {
	token := f.client.Publish(f.topic, mqttQoS, false, telemetry.Format(r))
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("failed to publish to %s: %w", f.topic, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *MQTT) Close() error {
	f.client.Disconnect(mqttDisconnectMs)
	return nil
}
