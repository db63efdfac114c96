package shellyedge

import (
	"context"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// ShellyEdge wires config, fetcher, sinks and the status server together.
type ShellyEdge struct {
	Config  Config
	Sampler *Sampler
	Sink    *MultiSink
	Status  *StatusServer
	broker  *Broker
}

func New(conf Config) (*ShellyEdge, error) {
	logFields := log.Fields{"fnct": "New"}
	log.WithFields(logFields).Tracef("Config %+v", conf)
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	edge := &ShellyEdge{Config: conf}
	if conf.MQTT.EmbeddedBrokerPort > 0 {
		broker, err := StartBroker(conf.MQTT.EmbeddedBrokerPort)
		if err != nil {
			return nil, err
		}
		edge.broker = broker
	}
	sink, pointDB, err := BuildSink(conf)
	if err != nil {
		edge.Close()
		return nil, err
	}
	edge.Sink = sink

	sampler, err := NewSampler(conf.SamplerConfig(), NewHTTPFetcher(conf.FetchTimeout), sink)
	if err != nil {
		edge.Close()
		return nil, err
	}
	edge.Sampler = sampler

	if conf.StatusPort > 0 {
		var registry DeviceRegistry
		if pointDB != nil {
			registry = pointDB
		}
		edge.Status = NewStatusServer(registry)
		sampler.OnCycle(edge.Status.Observe)
	}
	return edge, nil
}

// BuildSink opens the configured sinks in order. The point database is
// returned as well when it is one of them.
func BuildSink(conf Config) (*MultiSink, *PointDB, error) {
	multi := NewMultiSink()
	var pointDB *PointDB
	for _, name := range conf.Sinks {
		var sink Sink
		var err error
		switch name {
		case SinkTimeseries:
			sink, err = NewTimeseriesSink(conf.TimeseriesDBConfig)
		case SinkSQL:
			pointDB, err = OpenPointDB(conf.PointDBConfig)
			sink = pointDB
		case SinkMQTT:
			sink, err = NewMQTTSink(conf.MQTT)
		default:
			err = &ConfigError{Key: "Sinks", Msg: "unknown sink " + name}
		}
		if err != nil {
			multi.Close()
			return nil, nil, errors.Wrapf(err, "opening sink %s", name)
		}
		multi.Add(name, sink)
	}
	return multi, pointDB, nil
}

// Run samples until ctx is done or a batch cannot be written.
func (e *ShellyEdge) Run(ctx context.Context) error {
	logFields := log.Fields{"fnct": "Run"}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if e.Status != nil {
		go func() {
			if err := e.Status.ListenAndServe(ctx, e.Config.StatusPort); err != nil {
				log.WithFields(logFields).Errorf("status server stopped: %v", err)
			}
		}()
	}
	return e.Sampler.Run(ctx)
}

func (e *ShellyEdge) Close() error {
	var err error
	if e.Sink != nil {
		err = e.Sink.Close()
	}
	if e.broker != nil {
		if brokerErr := e.broker.Close(); brokerErr != nil && err == nil {
			err = brokerErr
		}
	}
	return err
}
