package registry

import (
	"errors"
	"fmt"
	"time"
)

// Status is an instance health state. Selection prefers healthy over
// degraded; unhealthy and offline instances are never selected.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
	StatusOffline   Status = "offline"
)

var (
	// ErrInvalidInstance indicates a registration with missing required fields.
	ErrInvalidInstance = errors.New("invalid service instance")
	// ErrDuplicateInstance indicates a registration reusing an existing instance id.
	ErrDuplicateInstance = errors.New("instance id already registered")
	// ErrUnknownInstance indicates an operation referencing an id that is not registered.
	ErrUnknownInstance = errors.New("unknown instance id")
	// ErrRegistryClosed indicates an operation on a registry after Shutdown.
	ErrRegistryClosed = errors.New("registry is shut down")
)

// HealthCheck describes how an instance is probed.
type HealthCheck struct {
	// Endpoint is the probe path, e.g. "/health".
	Endpoint string        `json:"endpoint"`
	Interval time.Duration `json:"interval"`
	Timeout  time.Duration `json:"timeout"`
	Retries  int           `json:"retries"`
}

// Metadata carries descriptive instance attributes. The registry stores
// them verbatim; selection ignores them.
type Metadata struct {
	Capabilities []string `json:"capabilities,omitempty"`
	Dependencies []string `json:"dependencies,omitempty"`
	Environment  string   `json:"environment,omitempty"`
}

// ServiceInstance is one running, addressable deployment of a named
// logical service.
type ServiceInstance struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	Version       string      `json:"version,omitempty"`
	Host          string      `json:"host"`
	Port          int         `json:"port"`
	Protocol      string      `json:"protocol,omitempty"`
	HealthCheck   HealthCheck `json:"healthCheck"`
	Metadata      Metadata    `json:"metadata,omitempty"`
	Status        Status      `json:"status"`
	LastHeartbeat time.Time   `json:"lastHeartbeat"`
}

// validate checks the fields registration requires.
func (i *ServiceInstance) validate() error {
	if i == nil {
		return fmt.Errorf("nil instance: %w", ErrInvalidInstance)
	}

	if i.ID == "" {
		return fmt.Errorf("missing id: %w", ErrInvalidInstance)
	}

	if i.Name == "" {
		return fmt.Errorf("missing name: %w", ErrInvalidInstance)
	}

	if i.Host == "" {
		return fmt.Errorf("missing host: %w", ErrInvalidInstance)
	}

	if i.Port <= 0 || i.Port > 65535 {
		return fmt.Errorf("port %d out of range: %w", i.Port, ErrInvalidInstance)
	}

	return nil
}

// BaseURL returns the instance address, defaulting the protocol to http.
func (i *ServiceInstance) BaseURL() string {
	protocol := i.Protocol
	if protocol == "" {
		protocol = "http"
	}

	return fmt.Sprintf("%s://%s:%d", protocol, i.Host, i.Port)
}

// HealthURL returns the full probe URL, defaulting the endpoint to /health.
func (i *ServiceInstance) HealthURL() string {
	endpoint := i.HealthCheck.Endpoint
	if endpoint == "" {
		endpoint = "/health"
	}

	return i.BaseURL() + endpoint
}

// clone returns a deep copy so callers cannot mutate registry state.
func (i *ServiceInstance) clone() *ServiceInstance {
	if i == nil {
		return nil
	}

	copied := *i
	copied.Metadata.Capabilities = append([]string(nil), i.Metadata.Capabilities...)
	copied.Metadata.Dependencies = append([]string(nil), i.Metadata.Dependencies...)

	return &copied
}

// HealthReport is the outcome of one instance probe.
type HealthReport struct {
	Service      string        `json:"service"`
	InstanceID   string        `json:"instanceId"`
	Status       Status        `json:"status"`
	ResponseTime time.Duration `json:"responseTime"`
	Err          error         `json:"-"`
	Timestamp    time.Time     `json:"timestamp"`
}
