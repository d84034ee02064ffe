package ports

import (
	"context"

	"github.com/buildseal/buildseal/core/domain"
)

// PipelineRunner is the port implemented by the business component PipelineService
type PipelineRunner interface {
	Ready(ctx context.Context) bool
	Run(ctx context.Context, input domain.RunInput) (domain.PipelineOutcome, error)
	ValidateRun(ctx context.Context, input domain.RunInput) (context.Context, error)
}
