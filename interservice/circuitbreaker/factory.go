package circuitbreaker

import (
	"context"
	"sync"

	"github.com/LerianStudio/lib-interservice/interservice/log"
)

// Factory caches one Breaker per dependency name so all concurrent callers
// of the same dependency share accounting. It is an explicit, constructed
// object rather than package-level state so tests can create isolated
// instances.
type Factory struct {
	defaults Config
	logger   log.Logger

	mu        sync.RWMutex
	breakers  map[string]*Breaker
	listeners []Listener
}

// NewFactory creates a Factory whose breakers default to the given config.
func NewFactory(defaults Config, logger log.Logger) *Factory {
	if logger == nil {
		logger = &log.NopLogger{}
	}

	return &Factory{
		defaults: defaults.withDefaults(),
		logger:   logger,
		breakers: make(map[string]*Breaker),
	}
}

// GetOrCreate returns the breaker for name, creating it with the factory
// defaults on first use.
func (f *Factory) GetOrCreate(name string) *Breaker {
	return f.GetOrCreateWithConfig(name, f.defaults)
}

// GetOrCreateWithConfig returns the breaker for name, creating it with the
// given config on first use. An existing breaker keeps its original config.
func (f *Factory) GetOrCreateWithConfig(name string, config Config) *Breaker {
	f.mu.RLock()
	breaker, exists := f.breakers[name]
	f.mu.RUnlock()

	if exists {
		return breaker
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	// Double-check after acquiring the write lock.
	if breaker, exists = f.breakers[name]; exists {
		return breaker
	}

	breaker = New(name, config, WithLogger(f.logger))
	breaker.onEvent = f.notify
	f.breakers[name] = breaker

	f.logger.Log(context.Background(), log.LevelInfo, "created circuit breaker",
		log.String("breaker", name),
	)

	return breaker
}

// Execute runs fn through the breaker for name, creating it on first use.
func (f *Factory) Execute(name string, fn func() (any, error)) (any, error) {
	return f.GetOrCreate(name).Execute(fn)
}

// Get returns the breaker for name without creating one.
func (f *Factory) Get(name string) (*Breaker, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	breaker, exists := f.breakers[name]

	return breaker, exists
}

// Names returns the dependency names with a cached breaker.
func (f *Factory) Names() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	names := make([]string, 0, len(f.breakers))
	for name := range f.breakers {
		names = append(names, name)
	}

	return names
}

// HealthReports returns the health summary of every cached breaker.
func (f *Factory) HealthReports() map[string]Health {
	f.mu.RLock()
	breakers := make([]*Breaker, 0, len(f.breakers))

	for _, breaker := range f.breakers {
		breakers = append(breakers, breaker)
	}
	f.mu.RUnlock()

	reports := make(map[string]Health, len(breakers))
	for _, breaker := range breakers {
		reports[breaker.Name()] = breaker.HealthReport()
	}

	return reports
}

// Subscribe registers a listener for events from every breaker the factory
// owns, present and future.
func (f *Factory) Subscribe(listener Listener) {
	if listener == nil {
		f.logger.Log(context.Background(), log.LevelWarn, "ignoring nil circuit breaker listener")
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.listeners = append(f.listeners, listener)
}

// Reset returns the named breaker to closed with zeroed accounting.
func (f *Factory) Reset(name string) {
	if breaker, exists := f.Get(name); exists {
		breaker.Reset()
	}
}

// Shutdown resets every breaker and drops the cache and listeners. The
// factory remains usable; subsequent GetOrCreate calls start fresh.
func (f *Factory) Shutdown() {
	f.mu.Lock()
	breakers := f.breakers
	f.breakers = make(map[string]*Breaker)
	f.listeners = nil
	f.mu.Unlock()

	for _, breaker := range breakers {
		breaker.detach()
		breaker.Reset()
	}
}

// notify fans an event out to all listeners, isolating listener panics so a
// misbehaving subscriber cannot take down breaker accounting.
func (f *Factory) notify(event Event) {
	f.mu.RLock()
	listeners := make([]Listener, len(f.listeners))
	copy(listeners, f.listeners)
	f.mu.RUnlock()

	for _, listener := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					f.logger.Log(context.Background(), log.LevelError, "circuit breaker listener panic",
						log.String("breaker", event.Breaker),
						log.Any("panic", r),
					)
				}
			}()

			listener(event)
		}()
	}
}
