package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"metronome/internal/core"
)

// TopicHeader carries the topic a reply arrived on.
const TopicHeader = "mqtt-topic"

// MQTTConfig describes the broker and topics of the MQTT transport.
type MQTTConfig struct {
	Broker         string
	ClientID       string
	RequestTopic   string
	ResponseTopic  string
	QoS            byte
	Retained       bool
	ConnectTimeout time.Duration
}

// MQTT publishes each message to a request topic. When a response topic is
// set, replies arriving on it are handed to the OnReply handler.
type MQTT struct {
	cfg     MQTTConfig
	client  mqtt.Client
	replies *replyBus
}

// NewMQTTFactory returns a factory that connects one publishing client per
// instance. Every instance shares a single response-topic subscription.
func NewMQTTFactory(cfg MQTTConfig) (Factory, error) {
	if cfg.Broker == "" || cfg.RequestTopic == "" {
		return nil, fmt.Errorf("%w: mqtt transport needs a broker and a request topic", core.ErrConfig)
	}
	if cfg.QoS > 2 {
		return nil, fmt.Errorf("%w: mqtt qos must be 0, 1 or 2, got %d", core.ErrConfig, cfg.QoS)
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "metronome"
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	var replies *replyBus
	if cfg.ResponseTopic != "" {
		replies = &replyBus{cfg: cfg}
	}
	return func(ctx context.Context) (core.Transport, error) {
		return dialMQTT(ctx, cfg, replies)
	}, nil
}

func dialMQTT(ctx context.Context, cfg MQTTConfig, replies *replyBus) (*MQTT, error) {
	client, err := connectMQTT(ctx, cfg, cfg.ClientID)
	if err != nil {
		return nil, err
	}
	if replies != nil {
		if err := replies.acquire(ctx); err != nil {
			client.Disconnect(250)
			return nil, err
		}
	}
	log.WithFields(log.Fields{"broker": cfg.Broker, "topic": cfg.RequestTopic}).Debug("MQTT transport connected")
	return &MQTT{cfg: cfg, client: client, replies: replies}, nil
}

func connectMQTT(ctx context.Context, cfg MQTTConfig, clientID string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(fmt.Sprintf("%s-%s", clientID, uuid.NewString()[:8]))
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false)
	opts.SetKeepAlive(30 * time.Second)
	client := mqtt.NewClient(opts)

	if err := wait(ctx, client.Connect(), cfg.ConnectTimeout); err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", cfg.Broker, err)
	}
	return client, nil
}

// replyBus owns the one client subscribed to the response topic. It is
// connected by the first instance and disconnected with the last, so each
// reply reaches the handler exactly once however large the pool is.
type replyBus struct {
	cfg MQTTConfig

	mu     sync.Mutex
	client mqtt.Client
	refs   int

	handlerMu sync.RWMutex
	handler   func(*core.Response)
}

func (b *replyBus) acquire(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.refs == 0 {
		client, err := connectMQTT(ctx, b.cfg, b.cfg.ClientID+"-replies")
		if err != nil {
			return err
		}
		if err := wait(ctx, client.Subscribe(b.cfg.ResponseTopic, b.cfg.QoS, b.onMessage), b.cfg.ConnectTimeout); err != nil {
			client.Disconnect(250)
			return fmt.Errorf("subscribing to %s: %w", b.cfg.ResponseTopic, err)
		}
		b.client = client
		log.WithField("topic", b.cfg.ResponseTopic).Debug("MQTT reply subscription open")
	}
	b.refs++
	return nil
}

func (b *replyBus) release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.refs == 0 {
		return
	}
	b.refs--
	if b.refs == 0 && b.client != nil {
		b.client.Disconnect(250)
		b.client = nil
	}
}

func (b *replyBus) setHandler(handler func(*core.Response)) {
	b.handlerMu.Lock()
	b.handler = handler
	b.handlerMu.Unlock()
}

func (b *replyBus) onMessage(_ mqtt.Client, msg mqtt.Message) {
	b.deliver(msg.Topic(), msg.Payload())
}

func (b *replyBus) deliver(topic string, payload []byte) {
	b.handlerMu.RLock()
	handler := b.handler
	b.handlerMu.RUnlock()
	if handler == nil {
		return
	}
	handler(&core.Response{
		Payload: append([]byte(nil), payload...),
		Headers: map[string]string{TopicHeader: topic},
	})
}

func wait(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-token.Done():
		return token.Error()
	case <-t.C:
		return fmt.Errorf("timed out after %v", timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnReply sets the handler of the shared reply subscription. Every instance
// of a factory delivers to the handler set last. It is a no-op without a
// response topic.
func (m *MQTT) OnReply(handler func(*core.Response)) {
	if m.replies != nil {
		m.replies.setHandler(handler)
	}
}

func (m *MQTT) PreSend(context.Context, *core.Message) error {
	if !m.client.IsConnectionOpen() {
		return fmt.Errorf("mqtt connection to %s is not open", m.cfg.Broker)
	}
	return nil
}

// Send waits for the publish to be acknowledged according to the QoS.
func (m *MQTT) Send(ctx context.Context, msg *core.Message, _ *core.MeasurementUnit) (*core.Response, error) {
	token := m.client.Publish(m.cfg.RequestTopic, m.cfg.QoS, m.cfg.Retained, msg.Payload)
	select {
	case <-token.Done():
		return nil, token.Error()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *MQTT) PostSend(context.Context, *core.Message) error {
	return nil
}

func (m *MQTT) Close() error {
	m.client.Disconnect(250)
	if m.replies != nil {
		m.replies.release()
	}
	return nil
}
