package shellyedge

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// DummyDevice answers status requests like a Gen1 Shelly plug.
type DummyDevice struct {
	IP          string
	Mac         string
	Serial      uint64
	Temperature float32
	Power       float32
	Total       float32
	IsOn        bool
	// Jitter lets power wander on every request and accumulates energy.
	Jitter bool
	// Body, when set, is served instead of a status.
	Body string
	// Delay is waited before answering.
	Delay time.Duration

	started time.Time
	mutex   sync.Mutex
}

func NewDummyDevice(ip string, serial uint64) *DummyDevice {
	id := uuid.New()
	return &DummyDevice{
		IP:          ip,
		Mac:         fmt.Sprintf("%X", id[:6]),
		Serial:      serial,
		Temperature: 38.5,
		Power:       100,
		IsOn:        true,
		started:     time.Now(),
	}
}

func (d *DummyDevice) Status() ShellyStatus {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if d.Jitter {
		d.Power += (rand.Float32() - 0.5) * 10
		if d.Power < 0 {
			d.Power = 0
		}
		d.Total += d.Power / 720 // Wh per 5 s
	}
	return ShellyStatus{
		WifiSta:     WifiStatus{Connected: true, SSID: "dummy", IP: d.IP, RSSI: -60},
		Serial:      d.Serial,
		Mac:         d.Mac,
		Relays:      []Relay{{IsOn: d.IsOn, Source: "http"}},
		Meters:      []Meter{{Power: d.Power, IsValid: true, Timestamp: uint64(time.Now().Unix()), Total: d.Total}},
		Temperature: d.Temperature,
		RAMTotal:    51688,
		RAMFree:     39500,
		FSSize:      233681,
		FSFree:      166664,
		Uptime:      int64(time.Since(d.started).Seconds()),
	}
}

func (d *DummyDevice) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logFields := log.Fields{"fnct": "DummyDevice.ServeHTTP", "ip": d.IP}
	if r.URL.Path != URIStatus {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if d.Delay > 0 {
		select {
		case <-time.After(d.Delay):
		case <-r.Context().Done():
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	if d.Body != "" {
		w.Write([]byte(d.Body))
		return
	}
	if err := json.NewEncoder(w).Encode(d.Status()); err != nil {
		log.WithFields(logFields).Errorf("encoding status failed: %v", err)
	}
}

// Simulate serves the device on addr until ctx is done.
func (d *DummyDevice) Simulate(ctx context.Context, addr string) error {
	logFields := log.Fields{"fnct": "Simulate", "addr": addr}
	server := &http.Server{Addr: addr, Handler: d}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()
	log.WithFields(logFields).Infof("simulating Shelly %d (%s)", d.Serial, d.Mac)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
