// Package repository declares the storage interfaces the service layer
// depends on.
package repository

import (
	"context"

	"github.com/sakif/pyrun-jupyter/internal/model"
)

type ListOptions struct {
	Limit  int
	Offset int
	// Status filters by outcome when non-empty.
	Status model.RunStatus
	// Subject filters by submitter when non-empty.
	Subject string
}

type RunRepository interface {
	Create(ctx context.Context, run *model.Run) error
	GetByID(ctx context.Context, id string) (*model.Run, error)
	List(ctx context.Context, opts ListOptions) ([]model.Run, error)
	Delete(ctx context.Context, id string) error
}
