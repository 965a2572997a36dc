package persistence

import "github.com/petrijr/dealflow/pkg/api"

// Persistence bundles the repository interfaces so the engine can be
// wired from a single value while individual concerns are swapped out,
// for example a cached version repository or a separate audit sink.
type Persistence struct {
	Deals    api.DealRepository
	Lister   api.DealLister
	Versions api.VersionRepository
	Audit    api.AuditLogger
	Queues   api.QueueStore
	Tasks    api.TaskRepository
	Profiles api.ProfileStore
}

// FromStore uses s for every concern.
func FromStore(s Store) Persistence {
	return Persistence{
		Deals:    s,
		Lister:   s,
		Versions: s,
		Audit:    s,
		Queues:   s,
		Tasks:    s,
		Profiles: s,
	}
}
