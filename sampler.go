package shellyedge

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

type SunConfig struct {
	Track     bool
	Latitude  float32
	Longitude float32
	// PerDevice emits a sun point after every device point instead of once per cycle.
	PerDevice bool
}

type SamplerConfig struct {
	Devices            []string
	Interval           time.Duration
	MaxParallelFetches int
	Sun                SunConfig
}

type DeviceReport struct {
	Endpoint string `json:"endpoint"`
	Outcome  string `json:"outcome"`
	Error    string `json:"error,omitempty"`
	Serial   string `json:"serial,omitempty"`
}

type CycleReport struct {
	Started  time.Time      `json:"started"`
	Finished time.Time      `json:"finished"`
	Devices  []DeviceReport `json:"devices"`
	Points   int            `json:"points"`
	Written  bool           `json:"written"`
	Error    string         `json:"error,omitempty"`
}

const OutcomeOK string = "ok"

// Sampler polls all devices and writes one batch per cycle until its
// context is done or the sink fails.
type Sampler struct {
	conf    SamplerConfig
	fetcher StatusFetcher
	sink    Sink
	sem     *semaphore.Weighted
	now     func() time.Time

	mu        sync.Mutex
	observers []func(CycleReport)
}

type fetchResult struct {
	endpoint string
	status   DeviceStatus
	err      error
	time     time.Time
}

func NewSampler(conf SamplerConfig, fetcher StatusFetcher, sink Sink) (*Sampler, error) {
	logFields := log.Fields{"fnct": "NewSampler"}
	if len(conf.Devices) == 0 {
		return nil, &ConfigError{Key: "Devices", Msg: "no devices configured"}
	}
	if fetcher == nil || sink == nil {
		return nil, errors.New("sampler needs a fetcher and a sink")
	}
	if conf.Interval <= 0 {
		conf.Interval = DefaultInterval
	}
	if conf.MaxParallelFetches <= 0 {
		conf.MaxParallelFetches = 1
	}
	conf.Devices = append([]string(nil), conf.Devices...)
	log.WithFields(logFields).Infof("sampling %d devices every %v", len(conf.Devices), conf.Interval)
	if conf.Sun.Track {
		log.WithFields(logFields).Infof("Tracking sun at LAT: %v, LONG: %v", conf.Sun.Latitude, conf.Sun.Longitude)
	} else {
		log.WithFields(logFields).Infof("Sun tracking not enabled")
	}
	return &Sampler{
		conf:    conf,
		fetcher: fetcher,
		sink:    sink,
		sem:     semaphore.NewWeighted(int64(conf.MaxParallelFetches)),
		now:     time.Now,
	}, nil
}

// OnCycle registers fn to be called with the report of every finished cycle.
func (s *Sampler) OnCycle(fn func(CycleReport)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

// Run runs cycles back to back with Interval between the end of one write
// and the start of the next cycle. It returns a *SinkError when a batch
// could not be written and ctx.Err() when ctx is done.
func (s *Sampler) Run(ctx context.Context) error {
	logFields := log.Fields{"fnct": "Run"}
	for {
		if _, err := s.RunCycle(ctx); err != nil {
			log.WithFields(logFields).Errorf("stop sampling: %v", err)
			return err
		}
		select {
		case <-ctx.Done():
			log.WithFields(logFields).Infof("stop sampling: %v", ctx.Err())
			return ctx.Err()
		case <-time.After(s.conf.Interval):
		}
	}
}

// RunCycle fetches every device, composes the batch and writes it once.
func (s *Sampler) RunCycle(ctx context.Context) (CycleReport, error) {
	logFields := log.Fields{"fnct": "RunCycle"}
	report := CycleReport{Started: s.now()}

	results := s.fetchAll(ctx)
	if err := ctx.Err(); err != nil {
		return report, err
	}

	var points []Point
	succeeded := 0
	for _, res := range results {
		devReport := DeviceReport{Endpoint: res.endpoint, Outcome: OutcomeOK}
		if res.err != nil {
			devReport.Outcome = fetchReason(res.err)
			devReport.Error = res.err.Error()
			log.WithFields(logFields).WithFields(log.Fields{
				"endpoint": res.endpoint, "reason": devReport.Outcome,
			}).Warnf("Error getting Shelly data: %v", res.err)
			report.Devices = append(report.Devices, devReport)
			continue
		}
		succeeded++
		devReport.Serial = res.status.Serial
		report.Devices = append(report.Devices, devReport)
		points = append(points, StatusPoint(res.status, res.time))
		if s.conf.Sun.Track && s.conf.Sun.PerDevice {
			points = append(points, s.sunPoint())
		}
	}
	if s.conf.Sun.Track && !s.conf.Sun.PerDevice && succeeded > 0 {
		points = append(points, s.sunPoint())
	}
	report.Points = len(points)

	if len(points) == 0 {
		log.WithFields(logFields).Warnf("no device answered, nothing to write")
		report.Finished = s.now()
		s.notify(report)
		return report, nil
	}

	if err := s.sink.Write(ctx, points); err != nil {
		log.WithFields(logFields).Errorf("Error writing %d points: %v", len(points), err)
		report.Error = err.Error()
		report.Finished = s.now()
		s.notify(report)
		return report, &SinkError{Points: len(points), Err: err}
	}
	report.Written = true
	report.Finished = s.now()
	log.WithFields(logFields).Infof("Successfully wrote %d points (%d/%d devices)",
		len(points), succeeded, len(results))
	s.notify(report)
	return report, nil
}

func (s *Sampler) fetchAll(ctx context.Context) []fetchResult {
	results := make([]fetchResult, len(s.conf.Devices))
	var wg sync.WaitGroup
	for i, endpoint := range s.conf.Devices {
		results[i].endpoint = endpoint
		if err := s.sem.Acquire(ctx, 1); err != nil {
			results[i].err = &FetchError{Kind: ErrUnreachable, Endpoint: endpoint, Err: err}
			continue
		}
		wg.Add(1)
		go func(res *fetchResult) {
			defer wg.Done()
			defer s.sem.Release(1)
			res.status, res.err = s.fetcher.Fetch(ctx, res.endpoint)
			res.time = s.now()
		}(&results[i])
	}
	wg.Wait()
	return results
}

func (s *Sampler) sunPoint() Point {
	return SunPoint(NewSunSample(s.now(), s.conf.Sun.Latitude, s.conf.Sun.Longitude))
}

func (s *Sampler) notify(report CycleReport) {
	s.mu.Lock()
	observers := append([]func(CycleReport){}, s.observers...)
	s.mu.Unlock()
	for _, fn := range observers {
		fn(report)
	}
}

func fetchReason(err error) string {
	var fetchErr *FetchError
	if errors.As(err, &fetchErr) {
		return fetchErr.Reason()
	}
	if errors.Is(err, ErrInvalidPayload) {
		return ReasonInvalidPayload
	}
	return ReasonUnreachable
}
