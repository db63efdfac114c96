package shellyedge

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	mqttserver "github.com/mochi-co/mqtt/server"
	"github.com/mochi-co/mqtt/server/listeners"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const mqttPublishTimeout = 10 * time.Second

// MQTTSink publishes every field of a point to <topic>/<series key>/data.
type MQTTSink struct {
	client mqtt.Client
	topic  string
}

func NewMQTTSink(conf MQTTConfig) (*MQTTSink, error) {
	logFields := log.Fields{"fnct": "NewMQTTSink", "broker": conf.Broker}
	broker := conf.Broker
	if broker == "" {
		broker = fmt.Sprintf("tcp://localhost:%d", conf.EmbeddedBrokerPort)
	}
	topic := conf.Topic
	if topic == "" {
		topic = DefaultMQTTTopic
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(fmt.Sprintf("%s-%s", conf.ClientID, uuid.NewString()[:8]))
	opts.SetConnectTimeout(mqttPublishTimeout)
	opts.SetAutoReconnect(true)
	opts.OnConnect = func(client mqtt.Client) {
		log.WithFields(logFields).Infoln("Connected")
	}
	opts.OnConnectionLost = func(client mqtt.Client, err error) {
		log.WithFields(logFields).Errorf("Connection lost: %v", err)
	}
	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(mqttPublishTimeout) {
		return nil, fmt.Errorf("connecting to %s timed out", broker)
	}
	if err := token.Error(); err != nil {
		return nil, errors.Wrapf(err, "connecting to %s", broker)
	}
	return &MQTTSink{client: client, topic: topic}, nil
}

func (m *MQTTSink) Topic(p Point, field string) string {
	return fmt.Sprintf("%s/%s/data", m.topic, p.SeriesKey(field))
}

// Write publishes with QoS 1 and waits for every publication.
func (m *MQTTSink) Write(ctx context.Context, points []Point) error {
	logFields := log.Fields{"fnct": "MQTTSink.Write", "points": len(points)}
	var tokens []mqtt.Token
	var topics []string
	for _, p := range points {
		for _, field := range p.FieldNames() {
			topic := m.Topic(p, field)
			tokens = append(tokens, m.client.Publish(topic, 1, false, FormatValue(p.Fields[field])))
			topics = append(topics, topic)
		}
	}
	for i, token := range tokens {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-token.Done():
		case <-time.After(mqttPublishTimeout):
			return fmt.Errorf("publishing %s timed out", topics[i])
		}
		if err := token.Error(); err != nil {
			log.WithFields(logFields).Errorf("publish %s failed: %v", topics[i], err)
			return errors.Wrapf(err, "publishing %s", topics[i])
		}
	}
	log.WithFields(logFields).Tracef("published %d values", len(tokens))
	return nil
}

func (m *MQTTSink) Close() error {
	m.client.Disconnect(250)
	return nil
}

// Broker is an embedded MQTT broker.
type Broker struct {
	server *mqttserver.Server
	Port   int
}

func StartBroker(port int) (*Broker, error) {
	logFields := log.Fields{"fnct": "StartBroker", "port": port}
	log.WithFields(logFields).Infof("start mqtt broker on port %d", port)
	server := mqttserver.NewServer(nil)
	tcp := listeners.NewTCP("shellyedge-broker", fmt.Sprintf(":%d", port))
	if err := server.AddListener(tcp, nil); err != nil {
		return nil, errors.Wrap(err, "adding broker listener")
	}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Serve()
	}()
	select {
	case err := <-serveErr:
		if err != nil {
			return nil, errors.Wrap(err, "starting broker")
		}
	case <-time.After(100 * time.Millisecond):
	}
	return &Broker{server: server, Port: port}, nil
}

func (b *Broker) Close() error {
	return b.server.Close()
}
