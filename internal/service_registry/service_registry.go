package service_registry

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/benmeehan/ble-node/internal/registry"
)

// Definition describes a service to be constructed and registered.
type Definition struct {
	Name        string
	Enabled     bool
	Constructor func() (registry.Service, error)
}

// ServiceRegistry manages the lifecycle of the background services of the node.
type ServiceRegistry struct {
	services    map[string]registry.Service // Stores registered services
	serviceKeys []string                    // Maintains order of service registration
	started     []string
	Logger      zerolog.Logger
}

// NewServiceRegistry initializes a new service registry.
func NewServiceRegistry(logger zerolog.Logger) *ServiceRegistry {
	return &ServiceRegistry{
		services: make(map[string]registry.Service),
		Logger:   logger,
	}
}

// RegisterService adds a new service to the registry.
func (sr *ServiceRegistry) RegisterService(name string, svc registry.Service) {
	if _, exists := sr.services[name]; exists {
		sr.Logger.Warn().Msgf("Service %s is already registered", name)
		return
	}
	sr.services[name] = svc
	sr.serviceKeys = append(sr.serviceKeys, name)
	sr.Logger.Info().Msgf("Registered service: %s", name)
}

// RegisterServices constructs and registers the enabled definitions in order.
func (sr *ServiceRegistry) RegisterServices(definitions []Definition) error {
	registeredServices := []string{}
	for _, def := range definitions {
		if !def.Enabled {
			continue
		}
		svc, err := def.Constructor()
		if err != nil {
			sr.Logger.Error().Err(err).Msgf("Failed to create %s service", def.Name)
			return err
		}
		sr.RegisterService(def.Name, svc)
		registeredServices = append(registeredServices, def.Name)
	}

	sr.Logger.Info().Msgf("Registered services in order: %v", registeredServices)
	return nil
}

// StartServices starts all registered services in order. If a service fails
// to start, the already started ones are stopped.
func (sr *ServiceRegistry) StartServices() error {
	for _, name := range sr.serviceKeys {
		sr.Logger.Info().Msgf("Starting service: %s", name)
		if err := sr.services[name].Start(); err != nil {
			sr.Logger.Error().Err(err).Msgf("Failed to start service: %s", name)

			sr.Logger.Warn().Msg("Stopping already started services due to startup failure...")
			for i := len(sr.started) - 1; i >= 0; i-- {
				_ = sr.services[sr.started[i]].Stop()
			}
			sr.started = nil
			return err
		}
		sr.started = append(sr.started, name)
	}
	return nil
}

// StopServices stops the started services in reverse order.
func (sr *ServiceRegistry) StopServices() error {
	var stopErrors []error
	for i := len(sr.started) - 1; i >= 0; i-- {
		name := sr.started[i]
		if err := sr.services[name].Stop(); err != nil {
			stopErrors = append(stopErrors, fmt.Errorf("failed to stop %s: %w", name, err))
		}
	}
	sr.started = nil

	if len(stopErrors) > 0 {
		for _, e := range stopErrors {
			sr.Logger.Error().Err(e).Msg("Service stop failure")
		}
		return errors.Join(stopErrors...)
	}
	return nil
}
