package report

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/ahmadhassan44/prime-sieve/pkg/protocol"
)

const (
	mqttConnectTimeout = 5 * time.Second
	mqttPublishTimeout = 2 * time.Second
)

// MQTTReporter publishes the run summary as JSON to a broker topic.
// Primes are not published; the summary carries their count and maximum.
type MQTTReporter struct {
	client mqtt.Client
	topic  string
}

// NewMQTTReporter connects to broker (host:port or a full URL)
func NewMQTTReporter(broker, topic, clientID string) (*MQTTReporter, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL(broker))
	opts.SetClientID(clientID)
	opts.SetConnectTimeout(mqttConnectTimeout)
	opts.SetAutoReconnect(false)

	client := mqtt.NewClient(opts)
	log.Printf("[Report] Connecting to MQTT broker %s", broker)

	token := client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		return nil, fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connection failed: %w", err)
	}
	return &MQTTReporter{client: client, topic: topic}, nil
}

func (m *MQTTReporter) Report(_ context.Context, summary protocol.Summary, _ []int) error {
	payload, err := Payload(summary)
	if err != nil {
		return err
	}

	token := m.client.Publish(m.topic, 1, false, payload)
	if !token.WaitTimeout(mqttPublishTimeout) {
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish failed: %w", err)
	}
	log.Printf("[Report] Published summary of run %s to %s", summary.RunID, m.topic)
	return nil
}

func (m *MQTTReporter) Close() {
	m.client.Disconnect(250)
}

// Payload is the JSON document published for a run
func Payload(summary protocol.Summary) ([]byte, error) {
	payload, err := json.Marshal(summary)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal summary: %w", err)
	}
	return payload, nil
}

func brokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	return "tcp://" + broker
}
