// Package mqttsink adapts telemetry.Sink onto an MQTT broker, the
// reference push-sink implementation referenced by spec.md 6.5,
// grounded on the teacher's own setupMqtt/publisher-goroutine pattern.
package mqttsink

import (
	"encoding/json"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/jibrilsharafi/energyme-core/internal/telemetry"
)

// Options configures the broker connection (spec.md 6.5 is broker-
// agnostic; this mirrors the teacher's MQTT config block).
type Options struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string
	QoS      byte
	Retain   bool
}

// Sink publishes every pushed PayloadMeter as retained/QoS-configured
// JSON on Options.Topic. It wraps a telemetry.BoundedChanSink so the
// acquisition engine's Push never blocks on the network.
type Sink struct {
	client mqtt.Client
	opts   Options
	queue  *telemetry.BoundedChanSink
}

// Connect dials the broker and starts the background publisher
// goroutine; queueDepth bounds the handoff channel (spec.md 5
// "Telemetry sink queue: bounded; overflow drops the oldest").
func Connect(opts Options, queueDepth int) (*Sink, error) {
	mopts := mqtt.NewClientOptions().AddBroker(opts.Broker).SetClientID(opts.ClientID)
	if opts.Username != "" {
		mopts.SetUsername(opts.Username)
		mopts.SetPassword(opts.Password)
	}
	mopts.SetAutoReconnect(true).SetConnectRetry(true).SetConnectTimeout(5 * time.Second)

	client := mqtt.NewClient(mopts)
	token := client.Connect()
	if !token.WaitTimeout(10*time.Second) || token.Error() != nil {
		return nil, token.Error()
	}

	s := &Sink{
		client: client,
		opts:   opts,
		queue:  telemetry.NewBoundedChanSink(queueDepth),
	}
	go s.publishLoop()
	return s, nil
}

// Push implements telemetry.Sink.
func (s *Sink) Push(p telemetry.PayloadMeter) {
	s.queue.Push(p)
}

// Close disconnects from the broker.
func (s *Sink) Close() {
	s.client.Disconnect(2000)
}

func (s *Sink) publishLoop() {
	for p := range s.queue.C() {
		payload, err := json.Marshal(p)
		if err != nil {
			slog.Warn("mqttsink: marshal error", "error", err)
			continue
		}
		token := s.client.Publish(s.opts.Topic, s.opts.QoS, s.opts.Retain, payload)
		if !token.WaitTimeout(5*time.Second) || token.Error() != nil {
			slog.Warn("mqttsink: publish error", "error", token.Error())
		}
	}
}

var _ telemetry.Sink = (*Sink)(nil)
