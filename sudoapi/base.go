// Package sudoapi is the synchronous control surface the HTTP layer
// calls into. It mediates between the configuration, the job registry,
// the queue, and the persistent store.
package sudoapi

import (
	"github.com/quarkoj/quark/db"
	"github.com/quarkoj/quark/grader"
	"github.com/quarkoj/quark/internal/config"
)

type BaseAPI struct {
	store    *db.DB
	registry *grader.Registry
	queue    *grader.Queue
	conf     *config.Config
}

func New(store *db.DB, registry *grader.Registry, queue *grader.Queue, conf *config.Config) *BaseAPI {
	return &BaseAPI{
		store:    store,
		registry: registry,
		queue:    queue,
		conf:     conf,
	}
}
