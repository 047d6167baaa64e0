// Package scheduler runs Cortex's two background loops (spec component
// 4.H) — health monitoring and periodic rediscovery — plus on-demand
// triggers, grounded on original_source/main.py's _monitor_loop and
// _discovery_loop.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/cortexhq/cortex/internal/discovery"
	"github.com/cortexhq/cortex/internal/investigation"
	"github.com/cortexhq/cortex/internal/knowledge"
	"github.com/cortexhq/cortex/internal/model"
	"github.com/cortexhq/cortex/internal/notify"
	"github.com/cortexhq/cortex/internal/platform"
)

const monitorStartupDelay = 30 * time.Second

// Scheduler owns the cron runtime driving the monitor and rediscovery loops.
type Scheduler struct {
	store      *knowledge.Store
	platform   platform.Adapter
	discovery  *discovery.Pipeline
	engine     *investigation.Engine
	notifier   *notify.Notifier

	monitorInterval   time.Duration
	discoveryInterval time.Duration

	cron *cron.Cron
}

// New builds a Scheduler. Call Start to begin the background loops.
func New(store *knowledge.Store, platformAdapter platform.Adapter, disc *discovery.Pipeline, engine *investigation.Engine, notifier *notify.Notifier, monitorInterval, discoveryInterval time.Duration) *Scheduler {
	return &Scheduler{
		store:             store,
		platform:          platformAdapter,
		discovery:         disc,
		engine:            engine,
		notifier:          notifier,
		monitorInterval:   monitorInterval,
		discoveryInterval: discoveryInterval,
		cron:              cron.New(),
	}
}

// Start schedules the monitor loop (a one-time 30s startup delay, then
// recurring every monitorInterval) and the rediscovery loop (recurring every
// discoveryInterval, first fire after one interval — cron's @every
// semantics), and kicks off an immediate background discovery run so the
// knowledge store isn't empty before the first rediscovery fires. Recurring
// work is driven by the cron runtime; it keeps running until ctx is done and
// Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	go func() {
		if err := s.discovery.RunAll(ctx); err != nil {
			log.Warn().Err(err).Msg("scheduler: initial discovery failed")
		}
	}()

	if _, err := s.cron.AddFunc(everySpec(s.discoveryInterval), func() {
		log.Info().Msg("scheduler: scheduled rediscovery starting")
		if err := s.discovery.RunAll(ctx); err != nil {
			log.Warn().Err(err).Msg("scheduler: scheduled rediscovery failed")
		}
	}); err != nil {
		log.Error().Err(err).Msg("scheduler: could not register rediscovery job")
	}

	go func() {
		select {
		case <-time.After(monitorStartupDelay):
		case <-ctx.Done():
			return
		}
		s.runMonitorOnce(ctx)

		if _, err := s.cron.AddFunc(everySpec(s.monitorInterval), func() {
			s.runMonitorOnce(ctx)
		}); err != nil {
			log.Error().Err(err).Msg("scheduler: could not register monitor job")
		}
	}()

	s.cron.Start()
}

// everySpec renders a robfig/cron "@every" spec for an arbitrary interval.
func everySpec(d time.Duration) string {
	return fmt.Sprintf("@every %s", d)
}

// Stop halts the cron runtime. The monitor/rediscovery goroutines exit on
// their own once the ctx passed to Start is cancelled.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}

// TriggerDiagnosis runs one on-demand investigation for a service (manual
// trigger or deploy webhook) and notifies the result.
func (s *Scheduler) TriggerDiagnosis(ctx context.Context, serviceName, trigger string) model.Incident {
	incident := s.engine.Investigate(ctx, serviceName, trigger)
	s.notifier.SendIncident(ctx, incident)
	return incident
}

func (s *Scheduler) runMonitorOnce(ctx context.Context) {
	for _, svc := range s.store.ListServices() {
		if svc.Type == model.ServiceTypeDatabase || svc.Type == model.ServiceTypeCache {
			continue
		}
		if svc.HealthURL == "" {
			continue
		}

		healthy := s.platform.CheckHealth(ctx, svc.HealthURL)
		if healthy {
			continue
		}

		log.Warn().Str("service", svc.Name).Msg("scheduler: health check failed")
		s.store.Log("health_check_failed", svc.Name, fmt.Sprintf("%s is unhealthy", svc.Name), nil)

		incident := s.engine.Investigate(ctx, svc.Name, fmt.Sprintf("Health check failed for %s", svc.Name))
		s.notifier.SendIncident(ctx, incident)
	}
}
