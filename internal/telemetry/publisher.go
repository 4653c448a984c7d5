// Package telemetry implements SPEC_FULL.md §4.11's optional republish
// path: when an MQTT broker is configured, Publisher.Publish sends one
// Reading fire-and-forget. cmd/fleetd connects and disconnects the
// Publisher, but no component calls Publish, so persisted Readings are not
// republished. Grounded on the ingestion service's
// adapter/mqtt subscriber (same paho.mqtt.golang client construction,
// inverted from subscribe to publish).
package telemetry

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/nexus-edge/plc-fleet/internal/domain"
)

// Config configures the optional telemetry publisher. An empty BrokerURL
// disables the publisher entirely — Publisher.Publish becomes a no-op.
type Config struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
	TopicRoot string
	QoS       byte
	KeepAlive time.Duration
}

// Publisher republishes Readings to MQTT without affecting the core
// write-to-Postgres data path: Publish never blocks the caller on broker
// availability and never returns an error the poller's retry policy would
// act on.
type Publisher struct {
	cfg       Config
	client    paho.Client
	logger    zerolog.Logger
	enabled   bool
	connected atomic.Bool

	published atomic.Uint64
	dropped   atomic.Uint64
}

// NewPublisher builds a Publisher. If cfg.BrokerURL is empty, the returned
// Publisher is disabled and every Publish call is a cheap no-op.
func NewPublisher(cfg Config, logger zerolog.Logger) *Publisher {
	p := &Publisher{cfg: cfg, logger: logger.With().Str("component", "telemetry-publisher").Logger()}
	if cfg.BrokerURL == "" {
		return p
	}
	p.enabled = true

	opts := paho.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetKeepAlive(cfg.KeepAlive).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectionLostHandler(func(c paho.Client, err error) {
			p.connected.Store(false)
			p.logger.Warn().Err(err).Msg("telemetry broker connection lost")
		}).
		SetOnConnectHandler(func(c paho.Client) {
			p.connected.Store(true)
			p.logger.Info().Msg("telemetry broker connected")
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	p.client = paho.NewClient(opts)
	return p
}

// Connect dials the broker; a failure here is logged and leaves the
// publisher disabled for the remainder of the process — telemetry is
// enrichment, never a startup-blocking dependency.
func (p *Publisher) Connect(ctx context.Context) {
	if !p.enabled {
		return
	}
	token := p.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		p.logger.Warn().Msg("telemetry broker connect timed out, disabling publisher")
		p.enabled = false
		return
	}
	if err := token.Error(); err != nil {
		p.logger.Warn().Err(err).Msg("telemetry broker connect failed, disabling publisher")
		p.enabled = false
	}
}

// Disconnect closes the broker connection if one was established.
func (p *Publisher) Disconnect() {
	if p.enabled && p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
	}
}

// readingPayload is the wire shape published to MQTT, named by what a
// subscriber would want, not by the Reading struct's internal fields.
type readingPayload struct {
	DeviceID    int64   `json:"device_id"`
	RegisterID  int64   `json:"register_id"`
	RegisterName string `json:"register_name"`
	Timestamp   string  `json:"timestamp"`
	Value       float64 `json:"value"`
	Quality     string  `json:"quality"`
}

// Publish republishes one Reading under <topic_root>/<device_id>/<register_name>.
// It never blocks on broker round-trips and silently drops the message if
// the publisher is disabled or disconnected.
func (p *Publisher) Publish(deviceID int64, registerName string, r *domain.Reading) {
	if !p.enabled || !p.connected.Load() {
		p.dropped.Add(1)
		return
	}

	payload := readingPayload{
		DeviceID:     deviceID,
		RegisterID:   r.RegisterID,
		RegisterName: registerName,
		Timestamp:    r.Timestamp.UTC().Format(time.RFC3339Nano),
		Value:        r.ScaledValue,
		Quality:      string(r.Quality),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		p.dropped.Add(1)
		return
	}

	topic := fmt.Sprintf("%s/%d/%s", p.cfg.TopicRoot, deviceID, registerName)
	token := p.client.Publish(topic, p.cfg.QoS, false, body)
	go func() {
		if token.WaitTimeout(1*time.Second) && token.Error() == nil {
			p.published.Add(1)
		} else {
			p.dropped.Add(1)
		}
	}()
}

// Stats returns published/dropped counters for diagnostics.
func (p *Publisher) Stats() (published, dropped uint64) {
	return p.published.Load(), p.dropped.Load()
}
