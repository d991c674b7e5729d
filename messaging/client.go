// Package messaging publishes lifecycle events to an MQTT or Kafka broker
// and accepts scanner commands from it.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	kafkago "github.com/segmentio/kafka-go"

	"rolltrack/config"
	"rolltrack/logger"
)

// MessageHandler receives the raw payload of one inbound message.
type MessageHandler func(topic string, payload []byte)

// ErrConnectPending is returned by Connect when the broker could not be
// reached yet. The client keeps retrying in the background and IsConnected
// turns true once it succeeds.
var ErrConnectPending = errors.New("broker not reachable yet, retrying")

// mqttSubscriber is the part of the paho client used to restore
// subscriptions.
type mqttSubscriber interface {
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
}

// Client is the unified messaging client (MQTT or Kafka).
type Client struct {
	mu       sync.RWMutex
	cfg      *config.MessagingConfig
	log      *logger.Logger
	mqttConn mqtt.Client
	kafkaW   *kafkago.Writer
	kafkaUp  atomic.Bool
	readers  map[string]*kafkago.Reader
	handlers map[string]MessageHandler

	connectWait   time.Duration
	retryInterval time.Duration
	stop          chan struct{}
	stopOnce      sync.Once
	wg            sync.WaitGroup
}

func NewClient(cfg *config.MessagingConfig, log *logger.Logger) *Client {
	if log == nil {
		log = logger.Nop()
	}
	return &Client{
		cfg:           cfg,
		log:           log.With("component", "messaging"),
		readers:       make(map[string]*kafkago.Reader),
		handlers:      make(map[string]MessageHandler),
		connectWait:   10 * time.Second,
		retryInterval: 5 * time.Second,
		stop:          make(chan struct{}),
	}
}

func (c *Client) Backend() string { return c.cfg.Backend }

// Connect establishes the broker connection. ErrConnectPending means the
// client is set up and still retrying; any other error is a configuration
// problem.
func (c *Client) Connect() error {
	switch c.cfg.Backend {
	case "mqtt":
		return c.connectMQTT()
	case "kafka":
		return c.connectKafka()
	default:
		return fmt.Errorf("unknown messaging backend: %s", c.cfg.Backend)
	}
}

func (c *Client) connectMQTT() error {
	broker := fmt.Sprintf("tcp://%s:%d", c.cfg.MQTT.Broker, c.cfg.MQTT.Port)
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(c.cfg.MQTT.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(c.retryInterval).
		SetOnConnectHandler(func(client mqtt.Client) {
			c.log.Info("mqtt connected", "broker", broker)
			c.resubscribe(client)
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) { c.log.Warn("mqtt connection lost", "err", err) })

	client := mqtt.NewClient(opts)
	c.mu.Lock()
	c.mqttConn = client
	c.mu.Unlock()

	token := client.Connect()
	if !token.WaitTimeout(c.connectWait) {
		return fmt.Errorf("mqtt %s: %w", broker, ErrConnectPending)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	return nil
}

// resubscribe registers every known handler again. Sessions are clean, so
// the broker forgets subscriptions on each reconnect.
func (c *Client) resubscribe(sub mqttSubscriber) {
	c.mu.RLock()
	handlers := make(map[string]MessageHandler, len(c.handlers))
	for topic, h := range c.handlers {
		handlers[topic] = h
	}
	c.mu.RUnlock()

	for topic, h := range handlers {
		if err := c.subscribeMQTT(sub, topic, h); err != nil {
			c.log.Warn("mqtt resubscribe failed", "topic", topic, "err", err)
		}
	}
}

func (c *Client) subscribeMQTT(sub mqttSubscriber, topic string, handler MessageHandler) error {
	token := sub.Subscribe(topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(c.connectWait) {
		return fmt.Errorf("mqtt subscribe %s: timed out", topic)
	}
	return token.Error()
}

func (c *Client) connectKafka() error {
	if len(c.cfg.Kafka.Brokers) == 0 {
		return fmt.Errorf("no kafka brokers configured")
	}

	// the writer dials lazily, so it can exist before the cluster is up
	c.mu.Lock()
	c.kafkaW = &kafkago.Writer{
		Addr:         kafkago.TCP(c.cfg.Kafka.Brokers...),
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireOne,
	}
	c.mu.Unlock()

	err := c.dialKafka()
	c.wg.Add(1)
	go c.watchKafka()
	if err != nil {
		return fmt.Errorf("kafka: %w (%v)", ErrConnectPending, err)
	}
	return nil
}

// dialKafka checks that a broker answers and creates missing topics.
func (c *Client) dialKafka() error {
	var conn *kafkago.Conn
	var connErr error
	for _, broker := range c.cfg.Kafka.Brokers {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		conn, connErr = kafkago.DialContext(ctx, "tcp", broker)
		cancel()
		if connErr == nil {
			c.log.Info("kafka connected", "broker", broker)
			break
		}
	}
	if connErr != nil {
		return fmt.Errorf("kafka connect: %w", connErr)
	}
	c.ensureTopics(conn, c.cfg.EventsTopic, c.cfg.CommandsTopic)
	conn.Close()
	c.kafkaUp.Store(true)
	return nil
}

// watchKafka re-dials while the cluster is marked down. A failed publish
// marks it down.
func (c *Client) watchKafka() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.retryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			if c.kafkaUp.Load() {
				continue
			}
			if err := c.dialKafka(); err != nil {
				c.log.Debug("kafka still unreachable", "err", err)
			}
		}
	}
}

// ensureTopics creates missing Kafka topics through the cluster controller.
// Failures are logged only; brokers with auto-create enabled do not need it.
func (c *Client) ensureTopics(conn *kafkago.Conn, topics ...string) {
	var configs []kafkago.TopicConfig
	for _, t := range topics {
		if t != "" {
			configs = append(configs, kafkago.TopicConfig{Topic: t, NumPartitions: 1, ReplicationFactor: 1})
		}
	}
	if len(configs) == 0 {
		return
	}

	controller, err := conn.Controller()
	if err != nil {
		c.log.Warn("kafka controller lookup failed", "err", err)
		return
	}
	controllerConn, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		c.log.Warn("kafka controller connect failed", "err", err)
		return
	}
	defer controllerConn.Close()

	if err := controllerConn.CreateTopics(configs...); err != nil {
		c.log.Warn("kafka topic auto-create failed", "err", err)
	}
}

// Publish sends payload to topic. MQTT publishes use QoS 1.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	switch c.cfg.Backend {
	case "mqtt":
		if c.mqttConn == nil || !c.mqttConn.IsConnected() {
			return fmt.Errorf("mqtt not connected")
		}
		token := c.mqttConn.Publish(topic, 1, false, payload)
		select {
		case <-token.Done():
			return token.Error()
		case <-ctx.Done():
			return ctx.Err()
		}
	case "kafka":
		if c.kafkaW == nil {
			return fmt.Errorf("kafka writer not initialized")
		}
		if err := c.kafkaW.WriteMessages(ctx, kafkago.Message{Topic: topic, Value: payload}); err != nil {
			c.kafkaUp.Store(false)
			return err
		}
		c.kafkaUp.Store(true)
		return nil
	default:
		return fmt.Errorf("unknown backend: %s", c.cfg.Backend)
	}
}

// Subscribe registers handler for messages on topic. On MQTT a subscription
// made while disconnected is applied when the connection comes up, and
// every subscription is restored after a reconnect. Kafka readers retry on
// their own.
func (c *Client) Subscribe(topic string, handler MessageHandler) error {
	switch c.cfg.Backend {
	case "mqtt":
		c.mu.Lock()
		c.handlers[topic] = handler
		conn := c.mqttConn
		c.mu.Unlock()
		if conn == nil || !conn.IsConnected() {
			c.log.Info("mqtt subscription deferred until connected", "topic", topic)
			return nil
		}
		return c.subscribeMQTT(conn, topic, handler)
	case "kafka":
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.kafkaW == nil {
			return fmt.Errorf("kafka not connected")
		}
		c.handlers[topic] = handler
		reader := kafkago.NewReader(kafkago.ReaderConfig{
			Brokers: c.cfg.Kafka.Brokers,
			Topic:   topic,
			GroupID: c.cfg.Kafka.GroupID,
		})
		c.readers[topic] = reader
		go func() {
			for {
				msg, err := reader.ReadMessage(context.Background())
				if err != nil {
					c.log.Debug("kafka reader stopped", "topic", topic, "err", err)
					return
				}
				handler(msg.Topic, msg.Value)
			}
		}()
		return nil
	default:
		return fmt.Errorf("unknown backend: %s", c.cfg.Backend)
	}
}

func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	switch c.cfg.Backend {
	case "mqtt":
		return c.mqttConn != nil && c.mqttConn.IsConnected()
	case "kafka":
		return c.kafkaW != nil && c.kafkaUp.Load()
	default:
		return false
	}
}

func (c *Client) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
	c.wg.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mqttConn != nil {
		c.mqttConn.Disconnect(1000)
		c.mqttConn = nil
	}
	for topic, r := range c.readers {
		r.Close()
		delete(c.readers, topic)
	}
	if c.kafkaW != nil {
		c.kafkaW.Close()
		c.kafkaW = nil
	}
	c.kafkaUp.Store(false)
}
