package shellyedge

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

type Output struct {
	Status string      `json:"Status"`
	Answer interface{} `json:"Answer"`
}

type DeviceRegistry interface {
	Devices(ctx context.Context) ([]DeviceRecord, error)
}

type health struct {
	Cycles   uint64            `json:"cycles"`
	Since    time.Time         `json:"since"`
	Failures map[string]uint64 `json:"consecutive_failures"`
}

// StatusServer serves what the sampler did last.
type StatusServer struct {
	mutex    sync.RWMutex
	last     *CycleReport
	cycles   uint64
	failures map[string]uint64
	started  time.Time
	registry DeviceRegistry
	engine   *gin.Engine
}

func NewStatusServer(registry DeviceRegistry) *StatusServer {
	gin.SetMode(gin.ReleaseMode)
	s := &StatusServer{
		failures: map[string]uint64{},
		started:  time.Now(),
		registry: registry,
		engine:   gin.New(),
	}
	s.engine.Use(gin.Recovery())
	s.engine.GET(URIHealth, s.healthHandler)
	s.engine.GET(URIServerStatus, s.statusHandler)
	s.engine.GET("/devices", s.devicesHandler)
	return s
}

// Observe is meant to be registered with Sampler.OnCycle.
func (s *StatusServer) Observe(report CycleReport) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.last = &report
	s.cycles++
	for _, dev := range report.Devices {
		if dev.Outcome == OutcomeOK {
			s.failures[dev.Endpoint] = 0
		} else {
			s.failures[dev.Endpoint]++
		}
	}
}

func (s *StatusServer) Handler() http.Handler {
	return s.engine
}

func (s *StatusServer) healthHandler(c *gin.Context) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	failures := make(map[string]uint64, len(s.failures))
	for k, v := range s.failures {
		failures[k] = v
	}
	c.JSON(http.StatusOK, Output{Status: "OK", Answer: health{
		Cycles:   s.cycles,
		Since:    s.started,
		Failures: failures,
	}})
}

func (s *StatusServer) statusHandler(c *gin.Context) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if s.last == nil {
		c.JSON(http.StatusNotFound, Output{Status: "Error", Answer: "no cycle finished yet"})
		return
	}
	c.JSON(http.StatusOK, Output{Status: "OK", Answer: *s.last})
}

func (s *StatusServer) devicesHandler(c *gin.Context) {
	logFields := log.Fields{"fnct": "devicesHandler"}
	if s.registry == nil {
		c.JSON(http.StatusNotFound, Output{Status: "Error", Answer: "no device registry configured"})
		return
	}
	devices, err := s.registry.Devices(c.Request.Context())
	if err != nil {
		log.WithFields(logFields).Errorf("reading devices failed: %v", err)
		c.JSON(http.StatusInternalServerError, Output{Status: "Error", Answer: err.Error()})
		return
	}
	c.JSON(http.StatusOK, Output{Status: "OK", Answer: devices})
}

// ListenAndServe serves until ctx is done.
func (s *StatusServer) ListenAndServe(ctx context.Context, port int) error {
	logFields := log.Fields{"fnct": "ListenAndServe"}
	server := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: s.engine}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()
	log.WithFields(logFields).Infof("status port is %v", port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithFields(logFields).Errorf("Listen and serve failed: %v", err)
		return err
	}
	return nil
}
