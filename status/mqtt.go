package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

// ErrNotConnected is returned by Publish before Connect succeeds or while the
// client is reconnecting.
var ErrNotConnected = errors.New("status: mqtt not connected")

// MQTTOptions configures the broker connection.
type MQTTOptions struct {
	// Broker is host:port; a scheme may be included.
	Broker   string
	ClientID string
	// Topic prefix; updates go to <Topic>/<session id>.
	Topic          string
	QoS            byte
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
}

// MQTTPublisher sends status updates to an MQTT broker so a companion display
// can mirror the indicator.
type MQTTPublisher struct {
	opts   MQTTOptions
	log    logrus.FieldLogger
	client mqtt.Client

	mu        sync.RWMutex
	connected bool
	published uint64
	failures  uint64
}

func NewMQTTPublisher(opts MQTTOptions, log logrus.FieldLogger) *MQTTPublisher {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 2 * time.Second
	}
	if opts.Topic == "" {
		opts.Topic = "rowlytics/status"
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &MQTTPublisher{opts: opts, log: log}
}

func brokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	return "tcp://" + broker
}

// Connect dials the broker. The client reconnects on its own afterwards.
func (p *MQTTPublisher) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL(p.opts.Broker))
	opts.SetClientID(p.opts.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(mqtt.Client) {
		p.setConnected(true)
		p.log.WithField("broker", p.opts.Broker).Info("mqtt connection established")
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		p.setConnected(false)
		p.log.WithError(err).WithField("broker", p.opts.Broker).Warn("mqtt connection lost, will auto-reconnect")
	}

	p.client = mqtt.NewClient(opts)
	token := p.client.Connect()

	timeout := time.NewTimer(p.opts.ConnectTimeout)
	defer timeout.Stop()
	select {
	case <-token.Done():
	case <-timeout.C:
		return fmt.Errorf("mqtt connect %s: timeout", p.opts.Broker)
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect %s: %w", p.opts.Broker, err)
	}
	p.setConnected(true)
	return nil
}

func (p *MQTTPublisher) Publish(u Update) error {
	if !p.isConnected() {
		p.fail()
		return ErrNotConnected
	}
	payload, err := json.Marshal(u)
	if err != nil {
		p.fail()
		return fmt.Errorf("marshal status: %w", err)
	}
	topic := p.topic(u)
	token := p.client.Publish(topic, p.opts.QoS, true, payload)
	if !token.WaitTimeout(p.opts.PublishTimeout) {
		p.fail()
		return fmt.Errorf("publish %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		p.fail()
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	p.mu.Lock()
	p.published++
	p.mu.Unlock()
	return nil
}

func (p *MQTTPublisher) topic(u Update) string {
	if u.SessionID == "" {
		return p.opts.Topic
	}
	return p.opts.Topic + "/" + u.SessionID
}

// Close disconnects with a short grace period.
func (p *MQTTPublisher) Close() error {
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
	}
	p.setConnected(false)
	return nil
}

// Stats returns the published and failed counts.
func (p *MQTTPublisher) Stats() (published, failures uint64) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.published, p.failures
}

func (p *MQTTPublisher) setConnected(v bool) {
	p.mu.Lock()
	p.connected = v
	p.mu.Unlock()
}

func (p *MQTTPublisher) isConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connected
}

func (p *MQTTPublisher) fail() {
	p.mu.Lock()
	p.failures++
	p.mu.Unlock()
}
