package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/kilianp07/fluxplan/core/job"
	"github.com/kilianp07/fluxplan/core/logger"
	"github.com/kilianp07/fluxplan/internal/eventbus"
)

// Config defines the connection parameters for the MQTT notifier.
type Config struct {
	// Enabled wires the notifier into the service.
	Enabled  bool   `json:"enabled"`
	Broker   string `json:"broker"`
	ClientID string `json:"client_id"`
	Username string `json:"username"`
	Password string `json:"password"`
	// TopicPrefix prefixes every published topic.
	TopicPrefix string `json:"topic_prefix"`
	QoS         byte   `json:"qos"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.ClientID == "" {
		c.ClientID = "fluxplan-notifier"
	}
	if c.TopicPrefix == "" {
		c.TopicPrefix = "fluxplan"
	}
}

// Validate checks mandatory fields.
func (c Config) Validate() error {
	if c.Enabled && c.Broker == "" {
		return fmt.Errorf("broker is required when the notifier is enabled")
	}
	return nil
}

// statusMessage is the published payload for one lifecycle event.
type statusMessage struct {
	JobID      string       `json:"job_id"`
	NaturalKey string       `json:"natural_key"`
	Model      string       `json:"model"`
	Event      string       `json:"event"`
	Failure    *job.Failure `json:"failure,omitempty"`
	Time       time.Time    `json:"time"`
}

// Notifier publishes job lifecycle events over MQTT so dashboards can follow
// fallback chains without polling the status endpoint.
type Notifier struct {
	cli    paho.Client
	prefix string
	qos    byte
	log    logger.Logger
}

// NewNotifier connects to the broker.
func NewNotifier(cfg Config, log logger.Logger) (*Notifier, error) {
	if log == nil {
		log = logger.Nop{}
	}
	opts := paho.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	opts.AutoReconnect = true
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.OnConnect = func(paho.Client) {
		log.Infof("MQTT connected")
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Errorf("connection lost: %v", err)
	}
	opts.OnReconnecting = func(paho.Client, *paho.ClientOptions) {
		log.Warnf("reconnecting to MQTT broker")
	}
	cli := paho.NewClient(opts)
	if token := cli.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	return &Notifier{cli: cli, prefix: cfg.TopicPrefix, qos: cfg.QoS, log: log}, nil
}

// Publish sends one event to <prefix>/jobs/<id>/status.
func (n *Notifier) Publish(ev job.Event) error {
	msg := statusMessage{
		JobID:      ev.JobID,
		NaturalKey: ev.NaturalKey,
		Model:      ev.ModelID,
		Event:      ev.Type.String(),
		Failure:    ev.Failure,
		Time:       ev.Time,
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	topic := fmt.Sprintf("%s/jobs/%s/status", n.prefix, ev.JobID)
	token := n.cli.Publish(topic, n.qos, false, payload)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("publish %s: %w", topic, token.Error())
	}
	return nil
}

// Run forwards bus events until the context is canceled.
func (n *Notifier) Run(ctx context.Context, bus *eventbus.Bus[job.Event]) {
	events := bus.Subscribe()
	defer bus.Unsubscribe(events)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := n.Publish(ev); err != nil {
				n.log.Errorf("notify job %s: %v", ev.JobID, err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Close disconnects from the broker.
func (n *Notifier) Close() {
	n.cli.Disconnect(250)
}
