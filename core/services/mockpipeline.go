package services

import (
	"context"

	"github.com/buildseal/buildseal/core/domain"
	"github.com/buildseal/buildseal/core/ports"
)

type MockPipelineService struct {
	happy bool
}

var _ ports.PipelineRunner = (*MockPipelineService)(nil)

func NewMockPipelineService(happy bool) *MockPipelineService {
	return &MockPipelineService{happy: happy}
}

func (m MockPipelineService) Ready(context.Context) bool {
	return m.happy
}

func (m MockPipelineService) Run(_ context.Context, input domain.RunInput) (domain.PipelineOutcome, error) {
	if m.happy {
		return domain.PipelineOutcome{BuildID: input.BuildID, Outcome: domain.OutcomeSuccess}, nil
	}
	return domain.PipelineOutcome{BuildID: input.BuildID, Outcome: domain.OutcomeFailure}, domain.ErrMockError
}

func (m MockPipelineService) ValidateRun(ctx context.Context, input domain.RunInput) (context.Context, error) {
	if !m.happy {
		return ctx, domain.ErrMockError
	}
	buildID := input.BuildID
	if buildID == "" {
		buildID = "mock-build"
	}
	return context.WithValue(ctx, domain.BuildIDKey{}, buildID), nil
}
