package shellyedge

import "time"

const (
	URIStatus string = "/status"

	URIServerStatus string = "/status"
	URIHealth       string = "/health"

	MeasurementShelly      string = "shelly"
	MeasurementSunPosition string = "sun_position"

	ReasonUnreachable    string = "unreachable"
	ReasonInvalidPayload string = "invalid_payload"

	SinkTimeseries string = "timeseries"
	SinkSQL        string = "sql"
	SinkMQTT       string = "mqtt"

	DefaultInterval           time.Duration = 5 * time.Second
	DefaultFetchTimeout       time.Duration = 10 * time.Second
	DefaultMaxParallelFetches int           = 4
	DefaultMQTTTopic          string        = "shellyedge"

	// matches the format the timeseries package parses
	TimestampFormat string = "2006-01-02 15:04:05.000"
)
