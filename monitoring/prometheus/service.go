// Package prometheus hosts the monitoring HTTP endpoint: Prometheus metrics,
// a healthz view over the service registry, and operational debug routes.
package prometheus

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"runtime/debug"
	"runtime/pprof"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/dexstream/indexer/runtime"
)

var log = logrus.WithField("prefix", "prometheus")

// Service provides Prometheus metrics via the /metrics route. This route will
// show all the metrics registered with the Prometheus DefaultRegisterer.
type Service struct {
	server      *http.Server
	svcRegistry *runtime.ServiceRegistry
	rpcStats    func() interface{}
	failStatus  error
}

// NewService sets up a new instance for a given address host:port. An empty
// host matches any IP, so an address like ":9090" is perfectly acceptable.
// rpcStats may be nil; when set it backs the /rpcstatz route.
func NewService(addr string, svcRegistry *runtime.ServiceRegistry, rpcStats func() interface{}) *Service {
	s := &Service{svcRegistry: svcRegistry, rpcStats: rpcStats}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.healthzHandler)
	mux.HandleFunc("/rpcstatz", s.rpcStatzHandler)
	mux.HandleFunc("/goroutinez", s.goroutinezHandler)

	s.server = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	return s
}

func (s *Service) healthzHandler(w http.ResponseWriter, r *http.Request) {
	statuses := s.svcRegistry.Statuses()
	names := make([]string, 0, len(statuses))
	for name := range statuses {
		names = append(names, name)
	}
	sort.Strings(names)

	hasError := false
	var buf bytes.Buffer
	for _, name := range names {
		status := "OK"
		if err := statuses[name]; err != nil {
			hasError = true
			status = "ERROR " + err.Error()
		}
		fmt.Fprintf(&buf, "%s: %s\n", name, status)
	}

	if hasError {
		w.WriteHeader(http.StatusInternalServerError)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	if err := writeResponse(w, r, generatedResponse{Data: buf}); err != nil {
		log.WithError(err).Error("Could not write healthz body")
	}
}

func (s *Service) rpcStatzHandler(w http.ResponseWriter, r *http.Request) {
	if s.rpcStats == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	stats := s.rpcStats()
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%+v\n", stats)
	if err := writeResponse(w, r, generatedResponse{Data: buf, JSON: stats}); err != nil {
		log.WithError(err).Error("Could not write rpcstatz body")
	}
}

func (s *Service) goroutinezHandler(w http.ResponseWriter, _ *http.Request) {
	stack := debug.Stack()
	// #nosec G104
	w.Write(stack)
	// #nosec G104
	pprof.Lookup("goroutine").WriteTo(w, 2)
}

// Start the prometheus service.
func (s *Service) Start() {
	log.WithField("endpoint", s.server.Addr).Info("Starting service")
	go func() {
		err := s.server.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			log.Errorf("Could not listen to host:port :%s: %v", s.server.Addr, err)
			s.failStatus = err
		}
	}()
}

// Stop the service gracefully.
func (s *Service) Stop() error {
	log.Info("Stopping service")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// Status checks for any service failure conditions.
func (s *Service) Status() error {
	if s.failStatus != nil {
		return s.failStatus
	}
	return nil
}
