package shellyedge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// https://shelly-api-docs.shelly.cloud/gen1/#status
type ShellyStatus struct {
	WifiSta         WifiStatus `json:"wifi_sta"`
	Serial          uint64     `json:"serial"`
	HasUpdate       bool       `json:"has_update"`
	Mac             string     `json:"mac"`
	Relays          []Relay    `json:"relays"`
	Meters          []Meter    `json:"meters"`
	Temperature     float32    `json:"temperature"`
	Overtemperature bool       `json:"overtemperature"`
	RAMTotal        int64      `json:"ram_total"`
	RAMFree         int64      `json:"ram_free"`
	FSSize          int64      `json:"fs_size"`
	FSFree          int64      `json:"fs_free"`
	Uptime          int64      `json:"uptime"`
}

type WifiStatus struct {
	Connected bool   `json:"connected"`
	SSID      string `json:"ssid"`
	IP        string `json:"ip"`
	RSSI      int    `json:"rssi"`
}

type Relay struct {
	IsOn      bool   `json:"ison"`
	HasTimer  bool   `json:"has_timer"`
	Overpower bool   `json:"overpower"`
	Source    string `json:"source"`
}

type Meter struct {
	Power     float32   `json:"power"`
	IsValid   bool      `json:"is_valid"`
	Timestamp uint64    `json:"timestamp"`
	Counters  []float32 `json:"counters"`
	Total     float32   `json:"total"`
}

// DeviceStatus is the part of a status answer that gets stored.
type DeviceStatus struct {
	IP          string
	Mac         string
	Serial      string
	Temperature float32
	Uptime      int64
	RAMFree     int64
	FSFree      int64
	Power       float32
	PowerTotal  float32
	IsOn        bool
}

// Status extracts the first relay and the first meter of the device.
func (s ShellyStatus) Status() (DeviceStatus, error) {
	if len(s.Relays) == 0 {
		return DeviceStatus{}, fmt.Errorf("status has no relays")
	}
	if len(s.Meters) == 0 {
		return DeviceStatus{}, fmt.Errorf("status has no meters")
	}
	if s.Mac == "" || s.WifiSta.IP == "" {
		return DeviceStatus{}, fmt.Errorf("status misses device identity (mac %q, ip %q)", s.Mac, s.WifiSta.IP)
	}
	return DeviceStatus{
		IP:          s.WifiSta.IP,
		Mac:         s.Mac,
		Serial:      strconv.FormatUint(s.Serial, 10),
		Temperature: s.Temperature,
		Uptime:      s.Uptime,
		RAMFree:     s.RAMFree,
		FSFree:      s.FSFree,
		Power:       s.Meters[0].Power,
		PowerTotal:  s.Meters[0].Total,
		IsOn:        s.Relays[0].IsOn,
	}, nil
}

var (
	ErrUnreachable    = errors.New("device unreachable")
	ErrInvalidPayload = errors.New("invalid device payload")
)

type FetchError struct {
	Kind     error
	Endpoint string
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Endpoint, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func (e *FetchError) Cause() error { return e.Err }

func (e *FetchError) Is(target error) bool { return target == e.Kind }

// Reason is the short name used in logs and reports.
func (e *FetchError) Reason() string {
	if e.Kind == ErrUnreachable {
		return ReasonUnreachable
	}
	return ReasonInvalidPayload
}

type StatusFetcher interface {
	Fetch(ctx context.Context, endpoint string) (DeviceStatus, error)
}

type HTTPFetcher struct {
	client *http.Client
}

func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	return &HTTPFetcher{client: &http.Client{Timeout: timeout}}
}

// Fetch GETs the status of the device at endpoint. Every failure is a *FetchError.
func (f *HTTPFetcher) Fetch(ctx context.Context, endpoint string) (DeviceStatus, error) {
	logFields := log.Fields{"fnct": "Fetch", "endpoint": endpoint}
	url := strings.TrimSuffix(endpoint, "/") + URIStatus
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return DeviceStatus{}, &FetchError{Kind: ErrUnreachable, Endpoint: endpoint, Err: err}
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return DeviceStatus{}, &FetchError{Kind: ErrUnreachable, Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return DeviceStatus{}, &FetchError{Kind: ErrInvalidPayload, Endpoint: endpoint,
			Err: fmt.Errorf("unexpected HTTP status %s", resp.Status)}
	}

	var status ShellyStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return DeviceStatus{}, &FetchError{Kind: ErrUnreachable, Endpoint: endpoint, Err: err}
		}
		return DeviceStatus{}, &FetchError{Kind: ErrInvalidPayload, Endpoint: endpoint,
			Err: errors.Wrap(err, "decoding status")}
	}
	ds, err := status.Status()
	if err != nil {
		return DeviceStatus{}, &FetchError{Kind: ErrInvalidPayload, Endpoint: endpoint, Err: err}
	}
	log.WithFields(logFields).Tracef("Status %+v", ds)
	return ds, nil
}
