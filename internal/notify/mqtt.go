package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"posturewatch/internal/config"
)

type cueMessage struct {
	Event     string  `json:"event"`
	SessionID string  `json:"session_id"`
	Volume    float64 `json:"volume"`
	Timestamp string  `json:"timestamp"`
}

// MQTTNotifier publishes each cue to a broker so a networked speaker or desk
// light can act on it.
type MQTTNotifier struct {
	client    mqtt.Client
	topic     string
	qos       byte
	sessionID string
	logger    *slog.Logger
}

func NewMQTTNotifier(ctx context.Context, cfg config.MQTTConfig, sessionID string, logger *slog.Logger) (*MQTTNotifier, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL(cfg.Broker))
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "posturewatch"
	}
	opts.SetClientID(clientID + "-" + shortID(sessionID))
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		if logger != nil {
			logger.Info("mqtt connection established", "broker", cfg.Broker, "topic", cfg.Topic)
		}
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		if logger != nil {
			logger.Warn("mqtt connection lost, will auto-reconnect", "broker", cfg.Broker, "err", err)
		}
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return nil, fmt.Errorf("mqtt connect %s: %w", cfg.Broker, err)
		}
	case <-time.After(5 * time.Second):
		// The client keeps retrying; cues fail until it connects.
		if logger != nil {
			logger.Warn("mqtt broker not reachable yet, retrying in background", "broker", cfg.Broker)
		}
	case <-ctx.Done():
		client.Disconnect(0)
		return nil, ctx.Err()
	}
	return &MQTTNotifier{
		client:    client,
		topic:     cfg.Topic,
		qos:       cfg.QoS,
		sessionID: sessionID,
		logger:    logger,
	}, nil
}

func (n *MQTTNotifier) Play(_ context.Context, volume float64) error {
	payload, err := EncodeCue(n.sessionID, volume, time.Now().UTC())
	if err != nil {
		return err
	}
	if !n.client.IsConnectionOpen() {
		return fmt.Errorf("mqtt publish %s: not connected", n.topic)
	}
	token := n.client.Publish(n.topic, n.qos, false, payload)
	go func() {
		if !token.WaitTimeout(5*time.Second) || token.Error() == nil {
			return
		}
		if n.logger != nil {
			n.logger.Warn("mqtt cue publish failed", "topic", n.topic, "err", token.Error())
		}
	}()
	return nil
}

func (n *MQTTNotifier) Close() error {
	n.client.Disconnect(250)
	return nil
}

func EncodeCue(sessionID string, volume float64, ts time.Time) ([]byte, error) {
	return json.Marshal(cueMessage{
		Event:     "cue",
		SessionID: sessionID,
		Volume:    volume,
		Timestamp: ts.Format(time.RFC3339Nano),
	})
}

func brokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	return "tcp://" + broker
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
