package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	constant "github.com/LerianStudio/lib-interservice/interservice/constants"
)

// DirectoryClient mirrors the local registry to an external service
// directory for cross-host visibility. All methods are best-effort from the
// registry's point of view: a failing directory never breaks local
// operation.
type DirectoryClient interface {
	Register(ctx context.Context, instance *ServiceInstance) error
	Deregister(ctx context.Context, id string) error
	UpdateHealth(ctx context.Context, id, directoryStatus string) error
	ListServices(ctx context.Context) (map[string][]*ServiceInstance, error)
	ListHealthy(ctx context.Context, name string) ([]*ServiceInstance, error)
}

// directoryStatus maps an instance status to the directory's
// passing/warning/critical vocabulary.
func directoryStatus(status Status) string {
	switch status {
	case StatusHealthy:
		return constant.DirectoryStatusPassing
	case StatusDegraded:
		return constant.DirectoryStatusWarning
	default:
		return constant.DirectoryStatusCritical
	}
}

// instanceStatus maps directory vocabulary back to an instance status.
func instanceStatus(directory string) Status {
	switch directory {
	case constant.DirectoryStatusPassing:
		return StatusHealthy
	case constant.DirectoryStatusWarning:
		return StatusDegraded
	default:
		return StatusUnhealthy
	}
}

// RESTDirectory talks to a consul-flavored directory over HTTP.
type RESTDirectory struct {
	baseURL string
	client  *http.Client
}

// NewRESTDirectory creates a directory client for baseURL. A nil httpClient
// gets a 5-second default.
func NewRESTDirectory(baseURL string, httpClient *http.Client) *RESTDirectory {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}

	return &RESTDirectory{baseURL: baseURL, client: httpClient}
}

// directoryEntry is the directory's wire representation of an instance.
type directoryEntry struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Version  string            `json:"version,omitempty"`
	Address  string            `json:"address"`
	Port     int               `json:"port"`
	Protocol string            `json:"protocol,omitempty"`
	Status   string            `json:"status"`
	Meta     map[string]string `json:"meta,omitempty"`
}

func entryFromInstance(instance *ServiceInstance) directoryEntry {
	return directoryEntry{
		ID:       instance.ID,
		Name:     instance.Name,
		Version:  instance.Version,
		Address:  instance.Host,
		Port:     instance.Port,
		Protocol: instance.Protocol,
		Status:   directoryStatus(instance.Status),
		Meta: map[string]string{
			"environment": instance.Metadata.Environment,
		},
	}
}

func (e directoryEntry) toInstance() *ServiceInstance {
	return &ServiceInstance{
		ID:       e.ID,
		Name:     e.Name,
		Version:  e.Version,
		Host:     e.Address,
		Port:     e.Port,
		Protocol: e.Protocol,
		Status:   instanceStatus(e.Status),
		Metadata: Metadata{Environment: e.Meta["environment"]},
	}
}

// Register announces an instance to the directory.
func (d *RESTDirectory) Register(ctx context.Context, instance *ServiceInstance) error {
	return d.put(ctx, "/v1/agent/service/register", entryFromInstance(instance))
}

// Deregister removes an instance from the directory.
func (d *RESTDirectory) Deregister(ctx context.Context, id string) error {
	return d.put(ctx, "/v1/agent/service/deregister/"+url.PathEscape(id), nil)
}

// UpdateHealth pushes a passing/warning/critical status for an instance.
func (d *RESTDirectory) UpdateHealth(ctx context.Context, id, status string) error {
	return d.put(ctx, "/v1/agent/check/update/"+url.PathEscape(id), map[string]string{"status": status})
}

// ListServices returns every instance the directory knows, grouped by
// service name.
func (d *RESTDirectory) ListServices(ctx context.Context) (map[string][]*ServiceInstance, error) {
	var entries []directoryEntry
	if err := d.get(ctx, "/v1/catalog/services", &entries); err != nil {
		return nil, err
	}

	services := make(map[string][]*ServiceInstance)
	for _, entry := range entries {
		services[entry.Name] = append(services[entry.Name], entry.toInstance())
	}

	return services, nil
}

// ListHealthy returns the directory's passing and warning instances of name.
func (d *RESTDirectory) ListHealthy(ctx context.Context, name string) ([]*ServiceInstance, error) {
	var entries []directoryEntry
	if err := d.get(ctx, "/v1/health/service/"+url.PathEscape(name), &entries); err != nil {
		return nil, err
	}

	instances := make([]*ServiceInstance, 0, len(entries))
	for _, entry := range entries {
		instances = append(instances, entry.toInstance())
	}

	return instances, nil
}

func (d *RESTDirectory) put(ctx context.Context, path string, body any) error {
	var payload io.Reader

	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode directory payload: %w", err)
		}

		payload = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, d.baseURL+path, payload)
	if err != nil {
		return fmt.Errorf("build directory request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("directory call %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("directory call %s: unexpected status %d", path, resp.StatusCode)
	}

	return nil
}

func (d *RESTDirectory) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build directory request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("directory call %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("directory call %s: unexpected status %d", path, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode directory response: %w", err)
	}

	return nil
}
