package persistence

import (
	"errors"

	"github.com/petrijr/dealflow/pkg/api"
)

var (
	// ErrRowNotFound is returned when updating a queue row that does not exist.
	ErrRowNotFound = errors.New("queue row not found")
)

// Store is implemented by backends that provide every repository the
// engine consumes.
type Store interface {
	api.DealRepository
	api.DealLister
	api.VersionRepository
	api.AuditLogger
	api.QueueStore
	api.TaskRepository
	api.ProfileStore
}
