package heartbeat

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Zynapses/Radiant-sub008/internal/belief"
	"github.com/Zynapses/Radiant-sub008/internal/breaker"
	"github.com/Zynapses/Radiant-sub008/internal/eventlog"
	"github.com/Zynapses/Radiant-sub008/internal/integration"
	"github.com/Zynapses/Radiant-sub008/internal/metrics"
	"github.com/Zynapses/Radiant-sub008/internal/notify"
)

// #region registry

// Registry hands out one scheduler per tenant, creating it on first use.
type Registry struct {
	config    Config
	events    *eventlog.Store
	filter    *belief.Filter
	breakers  *breaker.Registry
	estimator *integration.Estimator
	notifier  notify.Notifier
	target    string
	metrics   *metrics.Metrics
	log       *zap.SugaredLogger

	mu         sync.Mutex
	schedulers map[string]*Scheduler
}

// NewRegistry builds the shared collaborators into a per-tenant factory.
func NewRegistry(config Config, events *eventlog.Store, filter *belief.Filter,
	breakers *breaker.Registry, estimator *integration.Estimator,
	notifier notify.Notifier, target string, m *metrics.Metrics, log *zap.SugaredLogger) *Registry {
	return &Registry{
		config:     config,
		events:     events,
		filter:     filter,
		breakers:   breakers,
		estimator:  estimator,
		notifier:   notifier,
		target:     target,
		metrics:    m,
		log:        log,
		schedulers: make(map[string]*Scheduler),
	}
}

// For returns the tenant's scheduler, creating a stopped one on first use.
func (r *Registry) For(tenant string) *Scheduler {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.schedulers[tenant]; ok {
		return s
	}
	s := NewScheduler(tenant, r.config, r.events, r.filter, r.breakers,
		r.estimator, r.notifier, r.target, r.metrics, r.log)
	r.schedulers[tenant] = s
	return s
}

// Tenants lists the tenants with a scheduler instance.
func (r *Registry) Tenants() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	tenants := make([]string, 0, len(r.schedulers))
	for t := range r.schedulers {
		tenants = append(tenants, t)
	}
	return tenants
}

// Shutdown stops every running scheduler and waits for in-flight ticks.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	schedulers := make([]*Scheduler, 0, len(r.schedulers))
	for _, s := range r.schedulers {
		schedulers = append(schedulers, s)
	}
	r.mu.Unlock()

	start := time.Now()
	for _, s := range schedulers {
		s.Stop()
	}
	r.log.Infow("heartbeat registry shut down",
		"schedulers", len(schedulers), "took", time.Since(start))
}

// #endregion registry
