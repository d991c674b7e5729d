package messaging

import (
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"rolltrack/config"
)

type doneToken struct{ err error }

func (doneToken) Wait() bool                     { return true }
func (doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Error() error                 { return t.err }

func (doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type recordingSubscriber struct {
	mu     sync.Mutex
	topics []string
	fail   map[string]bool
}

func (s *recordingSubscriber) Subscribe(topic string, qos byte, _ mqtt.MessageHandler) mqtt.Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.topics = append(s.topics, topic)
	if s.fail[topic] {
		return doneToken{err: errors.New("not authorized")}
	}
	return doneToken{}
}

func unreachableMQTT() *config.MessagingConfig {
	return &config.MessagingConfig{
		Backend: "mqtt",
		MQTT:    config.MQTTConfig{Broker: "127.0.0.1", Port: 1, ClientID: "rolltrack-test"},
	}
}

func TestClient_ResubscribeRestoresHandlers(t *testing.T) {
	c := NewClient(unreachableMQTT(), nil)
	noop := func(string, []byte) {}
	c.handlers["rolltrack/commands"] = noop
	c.handlers["rolltrack/replies"] = noop

	sub := &recordingSubscriber{fail: map[string]bool{"rolltrack/replies": true}}
	c.resubscribe(sub)

	sort.Strings(sub.topics)
	if len(sub.topics) != 2 || sub.topics[0] != "rolltrack/commands" || sub.topics[1] != "rolltrack/replies" {
		t.Fatalf("resubscribed %v, want both topics", sub.topics)
	}

	// a second reconnect subscribes again
	c.resubscribe(sub)
	if len(sub.topics) != 4 {
		t.Fatalf("subscriptions after second connect = %d, want 4", len(sub.topics))
	}
}

func TestClient_MQTTConnectPending(t *testing.T) {
	c := NewClient(unreachableMQTT(), nil)
	c.connectWait = 50 * time.Millisecond
	c.retryInterval = 20 * time.Millisecond
	defer c.Close()

	err := c.Connect()
	if !errors.Is(err, ErrConnectPending) {
		t.Fatalf("Connect = %v, want ErrConnectPending", err)
	}
	c.mu.RLock()
	conn := c.mqttConn
	c.mu.RUnlock()
	if conn == nil {
		t.Fatal("paho client dropped after connect timeout")
	}
	if c.IsConnected() {
		t.Fatal("IsConnected true without a broker")
	}

	if err := c.Subscribe("rolltrack/commands", func(string, []byte) {}); err != nil {
		t.Fatalf("Subscribe while disconnected: %v", err)
	}
	c.mu.RLock()
	_, kept := c.handlers["rolltrack/commands"]
	c.mu.RUnlock()
	if !kept {
		t.Fatal("deferred subscription not recorded")
	}
}

func TestClient_KafkaConnectPending(t *testing.T) {
	cfg := &config.MessagingConfig{
		Backend: "kafka",
		Kafka:   config.KafkaConfig{Brokers: []string{"127.0.0.1:1"}},
	}
	c := NewClient(cfg, nil)
	c.retryInterval = 10 * time.Millisecond

	err := c.Connect()
	if !errors.Is(err, ErrConnectPending) {
		t.Fatalf("Connect = %v, want ErrConnectPending", err)
	}
	c.mu.RLock()
	w := c.kafkaW
	c.mu.RUnlock()
	if w == nil {
		t.Fatal("kafka writer not created")
	}
	if c.IsConnected() {
		t.Fatal("IsConnected true without a broker")
	}

	// let the retry loop run a few times, then make sure Close stops it
	time.Sleep(50 * time.Millisecond)
	done := make(chan struct{})
	go func() {
		c.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("Close did not stop the kafka retry loop")
	}
}

func TestClient_ConnectUnknownBackend(t *testing.T) {
	c := NewClient(&config.MessagingConfig{Backend: "amqp"}, nil)
	err := c.Connect()
	if err == nil || errors.Is(err, ErrConnectPending) {
		t.Fatalf("Connect = %v, want a configuration error", err)
	}
}
