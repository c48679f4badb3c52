package service

import (
	"agentdeck/internal/cache"
	"agentdeck/internal/events"
	"agentdeck/internal/monitor"
	"agentdeck/internal/queue"
	"agentdeck/internal/syncer"
	"agentdeck/pkg/agentapi"
	"agentdeck/pkg/githubsearch"
	"agentdeck/pkg/npmsearch"
)

// Service coordinates the remote agent API, the run cache, the polling
// monitor and the searches behind the REST surface. Everything is
// injected; the service owns no process-global state.
type Service struct {
	API     agentapi.API
	Cache   *cache.Cache
	Bus     *events.Bus
	Monitor *monitor.Scheduler
	Syncer  *syncer.Syncer
	Github  *githubsearch.Client
	Npm     *npmsearch.Client
	Queue   *queue.Queue // nil when the background queue is disabled
}

func NewService(
	api agentapi.API,
	runCache *cache.Cache,
	bus *events.Bus,
	mon *monitor.Scheduler,
	sync *syncer.Syncer,
	github *githubsearch.Client,
	npm *npmsearch.Client,
	q *queue.Queue,
) *Service {
	return &Service{
		API:     api,
		Cache:   runCache,
		Bus:     bus,
		Monitor: mon,
		Syncer:  sync,
		Github:  github,
		Npm:     npm,
		Queue:   q,
	}
}
