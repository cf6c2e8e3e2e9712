// Package publish emits pipeline output to an MQTT broker as JSON, one
// topic per event family.
package publish

import (
	"encoding/json"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"gpstrack/internal/fix"
	"gpstrack/internal/geofence"
	"gpstrack/internal/trip"
)

type Config struct {
	// Broker is the MQTT broker URL, e.g. tcp://localhost:1883.
	Broker   string
	ClientID string
	// TopicPrefix is prepended to the per-family topic names. Default
	// "gpstrack", yielding gpstrack/fix, gpstrack/geofence, gpstrack/trip
	// and gpstrack/driving.
	TopicPrefix string
	QoS         byte
}

func (c *Config) withDefaults() {
	if c.ClientID == "" {
		c.ClientID = "gpstrack"
	}
	if c.TopicPrefix == "" {
		c.TopicPrefix = "gpstrack"
	}
}

type Publisher struct {
	cfg    Config
	client mqtt.Client
	log    logrus.FieldLogger
}

// Connect dials the broker and blocks until the connection is up or fails.
func Connect(cfg Config, log logrus.FieldLogger) (*Publisher, error) {
	cfg.withDefaults()
	if cfg.Broker == "" {
		return nil, fmt.Errorf("publish: broker URL is required")
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("publish: connect %s: %w", cfg.Broker, token.Error())
	}
	log.WithField("broker", cfg.Broker).Info("connected to MQTT broker")
	return &Publisher{cfg: cfg, client: client, log: log}, nil
}

func (p *Publisher) Close() {
	p.client.Disconnect(250)
}

// Fix publishes a position snapshot, retained so late subscribers see the
// last known position immediately.
func (p *Publisher) Fix(s fix.Snapshot) error {
	return p.publish(p.cfg.TopicPrefix+"/fix", true, s)
}

func (p *Publisher) Geofence(ev geofence.Event) error {
	return p.publish(p.cfg.TopicPrefix+"/geofence", false, ev)
}

// Trip publishes trip lifecycle events to the trip topic and driving
// behavior events to the driving topic.
func (p *Publisher) Trip(ev trip.Event) error {
	topic := p.cfg.TopicPrefix + "/trip"
	if ev.Kind == trip.HardBraking || ev.Kind == trip.SharpCornering {
		topic = p.cfg.TopicPrefix + "/driving"
	}
	return p.publish(topic, false, ev)
}

func (p *Publisher) publish(topic string, retain bool, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("publish: marshal for %s: %w", topic, err)
	}
	token := p.client.Publish(topic, p.cfg.QoS, retain, payload)
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish: %s: %w", topic, err)
	}
	return nil
}
