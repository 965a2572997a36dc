// Package versioning stores checksummed workflow template versions and
// tracks the single active version of each workflow.
package versioning

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/petrijr/dealflow/internal/template"
	"github.com/petrijr/dealflow/pkg/api"
)

// CreateVersionInput describes a new template version.
type CreateVersionInput struct {
	Source string
	// WorkflowID, when set, must match the id declared by the template.
	WorkflowID string
	// Version defaults to "v<N+1>" where N is the number of stored versions.
	Version     string
	Title       string
	Description string
	CreatedBy   string
	Activate    bool
}

// Registry is the version service over a VersionRepository.
type Registry struct {
	repo api.VersionRepository
	now  func() time.Time
}

// NewRegistry creates a Registry backed by repo.
func NewRegistry(repo api.VersionRepository) *Registry {
	return &Registry{repo: repo, now: time.Now}
}

// Checksum returns the hex sha256 of a template source.
func Checksum(source string) string {
	sum := sha256.Sum256([]byte(source))
	return hex.EncodeToString(sum[:])
}

// CreateVersion parses, checksums and stores a template version, and
// activates it when requested.
func (r *Registry) CreateVersion(ctx context.Context, in CreateVersionInput) (*api.WorkflowVersion, error) {
	tpl, err := template.ParseString(in.Source)
	if err != nil {
		return nil, err
	}

	workflowID := in.WorkflowID
	if workflowID == "" {
		workflowID = tpl.Workflow.ID
	}
	if workflowID != tpl.Workflow.ID {
		return nil, fmt.Errorf("%w: template declares %q, expected %q", api.ErrWorkflowMismatch, tpl.Workflow.ID, workflowID)
	}

	version := in.Version
	if version == "" {
		existing, err := r.repo.List(ctx, workflowID)
		if err != nil {
			return nil, fmt.Errorf("list versions: %w", err)
		}
		version = "v" + strconv.Itoa(len(existing)+1)
	}

	if _, err := r.repo.FindByVersion(ctx, workflowID, version); err == nil {
		return nil, fmt.Errorf("%w: %s@%s", api.ErrVersionExists, workflowID, version)
	} else if !errors.Is(err, api.ErrVersionNotFound) {
		return nil, fmt.Errorf("find version: %w", err)
	}

	title := in.Title
	if title == "" {
		title = tpl.Workflow.Title
	}

	rec := &api.WorkflowVersion{
		ID:          uuid.NewString(),
		WorkflowID:  workflowID,
		Version:     version,
		Title:       title,
		Description: in.Description,
		Source:      in.Source,
		Template:    tpl,
		Checksum:    Checksum(in.Source),
		CreatedBy:   in.CreatedBy,
		CreatedAt:   r.now().UTC(),
	}
	if err := r.repo.Insert(ctx, rec); err != nil {
		return nil, err
	}

	if in.Activate {
		if err := r.repo.MarkActive(ctx, workflowID, rec.ID); err != nil {
			return nil, fmt.Errorf("activate version: %w", err)
		}
		rec.IsActive = true
	}
	return rec, nil
}

// ListVersions returns the versions of a workflow, newest first.
func (r *Registry) ListVersions(ctx context.Context, workflowID string) ([]*api.WorkflowVersion, error) {
	return r.repo.List(ctx, workflowID)
}

// GetActiveVersion returns api.ErrNoActiveVersion when nothing is active.
func (r *Registry) GetActiveVersion(ctx context.Context, workflowID string) (*api.WorkflowVersion, error) {
	return r.repo.FindActive(ctx, workflowID)
}

func (r *Registry) GetVersionByID(ctx context.Context, id string) (*api.WorkflowVersion, error) {
	return r.repo.FindByID(ctx, id)
}

// ActivateVersion makes versionID the single active version of workflowID.
func (r *Registry) ActivateVersion(ctx context.Context, workflowID, versionID string) (*api.WorkflowVersion, error) {
	rec, err := r.repo.FindByID(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if rec.WorkflowID != workflowID {
		return nil, fmt.Errorf("%w: version %s belongs to %q", api.ErrWorkflowMismatch, versionID, rec.WorkflowID)
	}
	if err := r.repo.MarkActive(ctx, workflowID, versionID); err != nil {
		return nil, err
	}
	rec.IsActive = true
	return rec, nil
}
