// Package registry tracks service instances, probes their health, and
// selects load-balanced healthy instances. It can optionally mirror to an
// external directory; the directory failing never breaks local operation.
package registry

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/LerianStudio/lib-interservice/interservice/log"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultResyncInterval is how often the directory is re-pulled.
	DefaultResyncInterval = 30 * time.Second
	// DefaultStaleness is how old a heartbeat may be before the instance is
	// marked offline during resync.
	DefaultStaleness = 60 * time.Second

	defaultProbeInterval = 10 * time.Second
	defaultProbeTimeout  = 2 * time.Second
)

// EventType identifies a registry lifecycle event.
type EventType string

const (
	EventRegistered   EventType = "registered"
	EventDeregistered EventType = "deregistered"
)

// Event is one registry lifecycle notification.
type Event struct {
	Type     EventType
	Instance *ServiceInstance
	At       time.Time
}

// Listener receives registry events synchronously.
type Listener func(Event)

// Registry is the in-memory instance store. One lock serializes the
// instance map across register/deregister/discovery calls and probe timers.
type Registry struct {
	logger     log.Logger
	directory  DirectoryClient
	httpClient *http.Client
	now        func() time.Time

	resyncInterval time.Duration
	staleness      time.Duration

	mu        sync.RWMutex
	instances map[string]*ServiceInstance
	probes    map[string]chan struct{}
	listeners []Listener
	closed    bool

	stopSync chan struct{}
	wg       sync.WaitGroup
}

// Option customizes a Registry.
type Option func(*Registry)

// WithLogger sets the registry's logger.
func WithLogger(logger log.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithDirectory attaches an external directory. The registry pulls it once
// at construction and resyncs periodically.
func WithDirectory(directory DirectoryClient) Option {
	return func(r *Registry) {
		r.directory = directory
	}
}

// WithHTTPClient sets the client used for health probes.
func WithHTTPClient(client *http.Client) Option {
	return func(r *Registry) {
		if client != nil {
			r.httpClient = client
		}
	}
}

// WithResyncInterval overrides the directory resync period.
func WithResyncInterval(interval time.Duration) Option {
	return func(r *Registry) {
		if interval > 0 {
			r.resyncInterval = interval
		}
	}
}

// WithStaleness overrides the heartbeat age that marks instances offline.
func WithStaleness(staleness time.Duration) Option {
	return func(r *Registry) {
		if staleness > 0 {
			r.staleness = staleness
		}
	}
}

// WithClock replaces the registry's time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// New creates a Registry. When a directory is configured it performs an
// initial pull and starts the resync loop.
func New(opts ...Option) *Registry {
	r := &Registry{
		logger:         &log.NopLogger{},
		httpClient:     &http.Client{},
		now:            time.Now,
		resyncInterval: DefaultResyncInterval,
		staleness:      DefaultStaleness,
		instances:      make(map[string]*ServiceInstance),
		probes:         make(map[string]chan struct{}),
		stopSync:       make(chan struct{}),
	}

	for _, opt := range opts {
		opt(r)
	}

	if r.directory != nil {
		r.syncFromDirectory(context.Background())

		r.wg.Add(1)

		go r.resyncLoop()
	}

	return r
}

// Register stores an instance, starts its health-probe timer, and mirrors
// it to the directory when one is configured. The instance id must be
// unique.
func (r *Registry) Register(ctx context.Context, instance *ServiceInstance) error {
	if err := instance.validate(); err != nil {
		return err
	}

	stored := instance.clone()
	if stored.Status == "" {
		stored.Status = StatusHealthy
	}

	stored.LastHeartbeat = r.now()

	r.mu.Lock()

	if r.closed {
		r.mu.Unlock()
		return ErrRegistryClosed
	}

	if _, exists := r.instances[stored.ID]; exists {
		r.mu.Unlock()
		return fmt.Errorf("id %q: %w", stored.ID, ErrDuplicateInstance)
	}

	r.instances[stored.ID] = stored
	r.startProbeLocked(stored)
	r.mu.Unlock()

	if r.directory != nil {
		if err := r.directory.Register(ctx, stored); err != nil {
			r.logger.Log(ctx, log.LevelWarn, "directory register failed",
				log.String("instance", stored.ID),
				log.Err(err),
			)
		}
	}

	r.logger.Log(ctx, log.LevelInfo, "instance registered",
		log.String("service", stored.Name),
		log.String("instance", stored.ID),
		log.String("address", stored.BaseURL()),
	)

	r.emit(Event{Type: EventRegistered, Instance: stored.clone(), At: r.now()})

	return nil
}

// Deregister removes an instance, stopping its probe timer and removing it
// from the directory when one is configured.
func (r *Registry) Deregister(ctx context.Context, id string) error {
	r.mu.Lock()

	instance, exists := r.instances[id]
	if !exists {
		r.mu.Unlock()
		return fmt.Errorf("id %q: %w", id, ErrUnknownInstance)
	}

	delete(r.instances, id)
	r.stopProbeLocked(id)
	r.mu.Unlock()

	if r.directory != nil {
		if err := r.directory.Deregister(ctx, id); err != nil {
			r.logger.Log(ctx, log.LevelWarn, "directory deregister failed",
				log.String("instance", id),
				log.Err(err),
			)
		}
	}

	r.logger.Log(ctx, log.LevelInfo, "instance deregistered",
		log.String("service", instance.Name),
		log.String("instance", id),
	)

	r.emit(Event{Type: EventDeregistered, Instance: instance.clone(), At: r.now()})

	return nil
}

// Discover returns the non-offline instances of name. Directory results are
// preferred when a directory is configured and reachable; on directory
// failure it degrades silently to the local view.
func (r *Registry) Discover(ctx context.Context, name string) []*ServiceInstance {
	if r.directory != nil {
		remote, err := r.directory.ListHealthy(ctx, name)
		if err == nil && len(remote) > 0 {
			return remote
		}

		if err != nil {
			r.logger.Log(ctx, log.LevelDebug, "directory discover failed, using local view",
				log.String("service", name),
				log.Err(err),
			)
		}
	}

	return r.localInstances(name, func(i *ServiceInstance) bool {
		return i.Status != StatusOffline
	})
}

// GetHealthyInstance picks a uniformly-random healthy instance of name,
// falling back to a random degraded one. It returns nil when neither
// exists and never returns unhealthy or offline instances.
func (r *Registry) GetHealthyInstance(name string) *ServiceInstance {
	healthy := r.localInstances(name, func(i *ServiceInstance) bool {
		return i.Status == StatusHealthy
	})
	if len(healthy) > 0 {
		return healthy[rand.Intn(len(healthy))]
	}

	degraded := r.localInstances(name, func(i *ServiceInstance) bool {
		return i.Status == StatusDegraded
	})
	if len(degraded) > 0 {
		return degraded[rand.Intn(len(degraded))]
	}

	return nil
}

// GetService returns every known instance of name, merging directory
// results into the local view. The local copy wins on id conflict.
func (r *Registry) GetService(ctx context.Context, name string) []*ServiceInstance {
	local := r.localInstances(name, func(*ServiceInstance) bool { return true })

	if r.directory == nil {
		return local
	}

	remote, err := r.directory.ListServices(ctx)
	if err != nil {
		r.logger.Log(ctx, log.LevelDebug, "directory list failed, using local view",
			log.String("service", name),
			log.Err(err),
		)

		return local
	}

	return mergeInstances(local, remote[name])
}

// GetAllServices returns every known instance grouped by service name,
// merging directory results into the local view.
func (r *Registry) GetAllServices(ctx context.Context) map[string][]*ServiceInstance {
	r.mu.RLock()

	services := make(map[string][]*ServiceInstance)
	for _, instance := range r.instances {
		services[instance.Name] = append(services[instance.Name], instance.clone())
	}
	r.mu.RUnlock()

	if r.directory == nil {
		return services
	}

	remote, err := r.directory.ListServices(ctx)
	if err != nil {
		r.logger.Log(ctx, log.LevelDebug, "directory list failed, using local view", log.Err(err))

		return services
	}

	for name, instances := range remote {
		services[name] = mergeInstances(services[name], instances)
	}

	return services
}

// UpdateHealth sets an instance's status and refreshes its heartbeat,
// mirroring the status to the directory in its own vocabulary.
func (r *Registry) UpdateHealth(ctx context.Context, id string, status Status) error {
	r.mu.Lock()

	instance, exists := r.instances[id]
	if !exists {
		r.mu.Unlock()
		return fmt.Errorf("id %q: %w", id, ErrUnknownInstance)
	}

	previous := instance.Status
	instance.Status = status
	instance.LastHeartbeat = r.now()
	r.mu.Unlock()

	if previous != status {
		r.logger.Log(ctx, log.LevelInfo, "instance health changed",
			log.String("instance", id),
			log.String("from", string(previous)),
			log.String("to", string(status)),
		)
	}

	if r.directory != nil {
		if err := r.directory.UpdateHealth(ctx, id, directoryStatus(status)); err != nil {
			r.logger.Log(ctx, log.LevelWarn, "directory health update failed",
				log.String("instance", id),
				log.Err(err),
			)
		}
	}

	return nil
}

// CheckServiceHealth probes one instance: 200 means healthy, any other
// reachable response means degraded, unreachable or timed out means
// unhealthy. The result is applied through UpdateHealth and returned.
func (r *Registry) CheckServiceHealth(ctx context.Context, instance *ServiceInstance) HealthReport {
	timeout := instance.HealthCheck.Timeout
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}

	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	report := HealthReport{
		Service:    instance.Name,
		InstanceID: instance.ID,
		Timestamp:  r.now(),
	}

	start := r.now()
	status, err := r.probe(probeCtx, instance.HealthURL())
	report.ResponseTime = r.now().Sub(start)

	switch {
	case err != nil:
		report.Status = StatusUnhealthy
		report.Err = err
	case status == http.StatusOK:
		report.Status = StatusHealthy
	default:
		report.Status = StatusDegraded
	}

	if err := r.UpdateHealth(ctx, instance.ID, report.Status); err != nil {
		// Instance was deregistered mid-probe; the report still stands.
		r.logger.Log(ctx, log.LevelDebug, "probe result dropped", log.String("instance", instance.ID), log.Err(err))
	}

	return report
}

// CheckAllServices probes every registered instance in parallel and
// returns the reports keyed by instance id.
func (r *Registry) CheckAllServices(ctx context.Context) map[string]HealthReport {
	r.mu.RLock()

	instances := make([]*ServiceInstance, 0, len(r.instances))
	for _, instance := range r.instances {
		instances = append(instances, instance.clone())
	}
	r.mu.RUnlock()

	var (
		mu      sync.Mutex
		reports = make(map[string]HealthReport, len(instances))
	)

	g, gctx := errgroup.WithContext(ctx)

	for _, instance := range instances {
		instance := instance
		g.Go(func() error {
			report := r.CheckServiceHealth(gctx, instance)

			mu.Lock()
			reports[instance.ID] = report
			mu.Unlock()

			return nil
		})
	}

	_ = g.Wait()

	return reports
}

// Subscribe registers a listener for registered/deregistered events.
func (r *Registry) Subscribe(listener Listener) {
	if listener == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.listeners = append(r.listeners, listener)
}

// Shutdown stops all probe timers and the resync loop, deregisters every
// local instance from the directory, and drops listeners. The registry
// rejects registrations afterwards.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()

	if r.closed {
		r.mu.Unlock()
		return
	}

	r.closed = true

	for id := range r.probes {
		r.stopProbeLocked(id)
	}

	instances := make([]*ServiceInstance, 0, len(r.instances))
	for _, instance := range r.instances {
		instances = append(instances, instance)
	}

	r.instances = make(map[string]*ServiceInstance)
	r.listeners = nil
	r.mu.Unlock()

	close(r.stopSync)
	r.wg.Wait()

	if r.directory != nil {
		for _, instance := range instances {
			if err := r.directory.Deregister(ctx, instance.ID); err != nil {
				r.logger.Log(ctx, log.LevelWarn, "directory deregister failed during shutdown",
					log.String("instance", instance.ID),
					log.Err(err),
				)
			}
		}
	}

	r.logger.Log(ctx, log.LevelInfo, "registry shut down",
		log.Int("instances", len(instances)),
	)
}

// probe issues the health GET and returns the status code.
func (r *Registry) probe(ctx context.Context, healthURL string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL, nil)
	if err != nil {
		return 0, fmt.Errorf("build probe request: %w", err)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	return resp.StatusCode, nil
}

// localInstances snapshots matching instances of name under the read lock.
func (r *Registry) localInstances(name string, keep func(*ServiceInstance) bool) []*ServiceInstance {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*ServiceInstance

	for _, instance := range r.instances {
		if instance.Name == name && keep(instance) {
			matched = append(matched, instance.clone())
		}
	}

	return matched
}

// mergeInstances unions remote into local, local winning on id conflict.
func mergeInstances(local, remote []*ServiceInstance) []*ServiceInstance {
	seen := make(map[string]struct{}, len(local))
	for _, instance := range local {
		seen[instance.ID] = struct{}{}
	}

	merged := local

	for _, instance := range remote {
		if _, dup := seen[instance.ID]; !dup {
			merged = append(merged, instance)
		}
	}

	return merged
}

// startProbeLocked starts the per-instance probe ticker. Caller must hold
// the write lock.
func (r *Registry) startProbeLocked(instance *ServiceInstance) {
	interval := instance.HealthCheck.Interval
	if interval <= 0 {
		interval = defaultProbeInterval
	}

	stop := make(chan struct{})
	r.probes[instance.ID] = stop

	probed := instance.clone()

	r.wg.Add(1)

	go func() {
		defer r.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				r.CheckServiceHealth(context.Background(), probed)
			}
		}
	}()
}

// stopProbeLocked stops an instance's probe ticker. Caller must hold the
// write lock.
func (r *Registry) stopProbeLocked(id string) {
	if stop, exists := r.probes[id]; exists {
		close(stop)
		delete(r.probes, id)
	}
}

// resyncLoop periodically re-pulls the directory and reaps stale local
// instances.
func (r *Registry) resyncLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.resyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopSync:
			return
		case <-ticker.C:
			r.syncFromDirectory(context.Background())
			r.reapStale()
		}
	}
}

// syncFromDirectory adopts directory-known instances that are not known
// locally. Adopted instances are not probed locally; the directory owns
// their health, so every resync that still lists one counts as its
// heartbeat and carries its current status.
func (r *Registry) syncFromDirectory(ctx context.Context) {
	remote, err := r.directory.ListServices(ctx)
	if err != nil {
		r.logger.Log(ctx, log.LevelWarn, "directory sync failed", log.Err(err))
		return
	}

	now := r.now()
	adopted := 0

	r.mu.Lock()

	for _, instances := range remote {
		for _, instance := range instances {
			if existing, exists := r.instances[instance.ID]; exists {
				// Locally-owned instances have a probe timer and refresh
				// their own heartbeat; their health is local knowledge.
				if _, probed := r.probes[instance.ID]; !probed {
					if instance.Status != "" {
						existing.Status = instance.Status
					}

					existing.LastHeartbeat = now
				}

				continue
			}

			copied := instance.clone()
			copied.LastHeartbeat = now
			r.instances[copied.ID] = copied
			adopted++
		}
	}
	r.mu.Unlock()

	if adopted > 0 {
		r.logger.Log(ctx, log.LevelInfo, "adopted directory instances", log.Int("count", adopted))
	}
}

// reapStale marks local instances with an expired heartbeat as offline.
func (r *Registry) reapStale() {
	cutoff := r.now().Add(-r.staleness)

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, instance := range r.instances {
		if instance.Status != StatusOffline && instance.LastHeartbeat.Before(cutoff) {
			instance.Status = StatusOffline
		}
	}
}

// emit fans an event out to listeners, isolating panics.
func (r *Registry) emit(event Event) {
	r.mu.RLock()
	listeners := make([]Listener, len(r.listeners))
	copy(listeners, r.listeners)
	r.mu.RUnlock()

	for _, listener := range listeners {
		func() {
			defer func() {
				if recovered := recover(); recovered != nil {
					r.logger.Log(context.Background(), log.LevelError, "registry listener panic",
						log.Any("panic", recovered),
					)
				}
			}()

			listener(event)
		}()
	}
}
