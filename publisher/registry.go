package publisher

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maxpert/ripple/cfg"
	"github.com/maxpert/ripple/notify"
	"github.com/rs/zerolog/log"
)

// RegistryConfig configures the notification publisher registry
type RegistryConfig struct {
	Source Source                     // Reduced notification stream
	Hub    *notify.Hub                // Change signals (optional)
	NodeID uint64                     // Stamped on every event
	Config cfg.PublisherConfiguration // From config
}

// Registry manages the lifecycle of all publisher workers
type Registry struct {
	source  Source
	hub     *notify.Hub
	nodeID  uint64
	config  cfg.PublisherConfiguration
	filter  Filter
	workers []*Worker
	running atomic.Bool
	mu      sync.Mutex
}

// NewRegistry creates a new notification publisher registry
func NewRegistry(config RegistryConfig) (*Registry, error) {
	if config.Source == nil {
		return nil, fmt.Errorf("notification source is required")
	}

	filter, err := NewGlobFilter(config.Config.RowPatterns, config.Config.QualifierPatterns)
	if err != nil {
		return nil, fmt.Errorf("failed to create filter: %w", err)
	}

	registry := &Registry{
		source:  config.Source,
		hub:     config.Hub,
		nodeID:  config.NodeID,
		config:  config.Config,
		filter:  filter,
		workers: make([]*Worker, 0, len(config.Config.Sinks)),
	}

	for _, sinkCfg := range config.Config.Sinks {
		if err := registry.AddSink(sinkCfg); err != nil {
			// Cleanup on error: close all worker sinks
			for _, worker := range registry.workers {
				worker.config.Sink.Close()
			}
			return nil, fmt.Errorf("failed to add sink %q: %w", sinkCfg.Name, err)
		}
	}

	log.Info().
		Int("workers", len(registry.workers)).
		Msg("Notification publisher registry initialized")

	return registry, nil
}

// AddSink creates and adds a new worker for the given sink configuration
func (r *Registry) AddSink(config cfg.SinkConfiguration) error {
	snk, err := createSink(config)
	if err != nil {
		return fmt.Errorf("failed to create sink: %w", err)
	}
	return r.addWorker(config.Name, snk)
}

func (r *Registry) addWorker(name string, snk Sink) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	pc := r.config
	worker, err := NewWorker(WorkerConfig{
		Name:           name,
		Source:         r.source,
		Hub:            r.hub,
		Sink:           snk,
		Filter:         r.filter,
		TopicPrefix:    pc.TopicPrefix,
		NodeID:         r.nodeID,
		PollInterval:   time.Duration(pc.PollIntervalMS) * time.Millisecond,
		DedupCacheSize: pc.DedupCacheSize,
		RetryInitial:   time.Duration(pc.RetryInitialMS) * time.Millisecond,
		RetryMax:       time.Duration(pc.RetryMaxMS) * time.Millisecond,
		MaxRetries:     pc.MaxRetries,
	})
	if err != nil {
		snk.Close()
		return fmt.Errorf("failed to create worker: %w", err)
	}

	r.workers = append(r.workers, worker)
	if r.running.Load() {
		worker.Start()
	}

	log.Info().Str("sink", name).Msg("Added notification sink")
	return nil
}

// Workers returns the registered workers
func (r *Registry) Workers() []*Worker {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Worker, len(r.workers))
	copy(out, r.workers)
	return out
}

// Start starts all workers
func (r *Registry) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running.Load() {
		return fmt.Errorf("registry already running")
	}

	log.Info().Int("workers", len(r.workers)).Msg("Starting notification publisher registry")

	for _, worker := range r.workers {
		worker.Start()
	}

	r.running.Store(true)
	return nil
}

// Stop stops all workers and closes their sinks
func (r *Registry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running.Swap(false) {
		return
	}

	log.Info().Msg("Stopping notification publisher registry")

	for _, worker := range r.workers {
		worker.Stop()
		if err := worker.config.Sink.Close(); err != nil {
			log.Warn().Err(err).Str("sink", worker.Name()).Msg("Failed to close sink")
		}
	}

	log.Info().Msg("Notification publisher registry stopped")
}

// createSink creates a sink based on the configuration
func createSink(config cfg.SinkConfiguration) (Sink, error) {
	factoryMu.RLock()
	factory, exists := sinkFactories[config.Type]
	factoryMu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unknown sink type: %s", config.Type)
	}

	return factory(config)
}

// SinkFactory is a function that creates a Sink from a configuration
type SinkFactory func(cfg.SinkConfiguration) (Sink, error)

var (
	sinkFactories = make(map[string]SinkFactory)
	factoryMu     sync.RWMutex
)

// RegisterSink registers a sink factory for a type
func RegisterSink(sinkType string, factory SinkFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	sinkFactories[sinkType] = factory
}
