// Package runtime provides the service lifecycle plumbing shared by every
// long-running component of the indexer.
package runtime

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("prefix", "registry")

// Service is a long-running component that can be registered into a
// ServiceRegistry for lifecycle management.
type Service interface {
	// Start spawns any goroutines required by the service.
	Start()
	// Stop terminates all goroutines belonging to the service,
	// blocking until they are all terminated.
	Stop() error
	// Status returns error if the service is not considered healthy.
	Status() error
}

// ServiceRegistry manages named services, starting them in registration
// order and stopping them in reverse.
type ServiceRegistry struct {
	services map[string]Service
	order    []string
}

// NewServiceRegistry starts a registry instance for convenience.
func NewServiceRegistry() *ServiceRegistry {
	return &ServiceRegistry{
		services: make(map[string]Service),
	}
}

// RegisterService appends a service under a unique name.
func (s *ServiceRegistry) RegisterService(name string, service Service) error {
	if _, exists := s.services[name]; exists {
		return errors.Errorf("service %q already exists", name)
	}
	s.services[name] = service
	s.order = append(s.order, name)
	return nil
}

// StartAll initializes each service in order of registration.
func (s *ServiceRegistry) StartAll() {
	log.Debugf("Starting %d services: %v", len(s.order), s.order)
	for _, name := range s.order {
		log.WithField("service", name).Debug("Starting service")
		go s.services[name].Start()
	}
}

// StopAll ends every service in reverse order of registration, logging an
// error if any of them fail to stop.
func (s *ServiceRegistry) StopAll() {
	for i := len(s.order) - 1; i >= 0; i-- {
		name := s.order[i]
		if err := s.services[name].Stop(); err != nil {
			log.WithError(err).WithField("service", name).Error("Could not stop service")
		}
	}
}

// Statuses returns a map of the registered service names to their current
// health, nil meaning healthy.
func (s *ServiceRegistry) Statuses() map[string]error {
	m := make(map[string]error, len(s.order))
	for _, name := range s.order {
		m[name] = s.services[name].Status()
	}
	return m
}

// Fetch returns the service registered under name, or nil.
func (s *ServiceRegistry) Fetch(name string) Service {
	return s.services[name]
}
