package services

import (
	"context"
	"testing"

	"github.com/buildseal/buildseal/core/domain"
)

func TestMockPipelineService_Ready(t *testing.T) {
	type fields struct {
		happy bool
	}
	tests := []struct {
		name   string
		fields fields
		want   bool
	}{
		{
			name: "happy",
			fields: fields{
				happy: true,
			},
			want: true,
		},
		{
			name: "unhappy",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMockPipelineService(tt.fields.happy)
			if got := m.Ready(context.TODO()); got != tt.want {
				t.Errorf("Ready() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMockPipelineService_Run(t *testing.T) {
	type fields struct {
		happy bool
	}
	tests := []struct {
		name        string
		fields      fields
		wantOutcome domain.Outcome
		wantErr     bool
	}{
		{
			name: "happy",
			fields: fields{
				happy: true,
			},
			wantOutcome: domain.OutcomeSuccess,
		},
		{
			name:        "unhappy",
			wantOutcome: domain.OutcomeFailure,
			wantErr:     true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMockPipelineService(tt.fields.happy)
			got, err := m.Run(context.TODO(), domain.RunInput{BuildID: "b-1"})
			if (err != nil) != tt.wantErr {
				t.Errorf("Run() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if got.Outcome != tt.wantOutcome {
				t.Errorf("Run() outcome = %v, want %v", got.Outcome, tt.wantOutcome)
			}
		})
	}
}

func TestMockPipelineService_ValidateRun(t *testing.T) {
	type fields struct {
		happy bool
	}
	tests := []struct {
		name        string
		fields      fields
		buildID     string
		wantBuildID string
		wantErr     bool
	}{
		{
			name: "happy keeps the supplied buildID",
			fields: fields{
				happy: true,
			},
			buildID:     "b-1",
			wantBuildID: "b-1",
		},
		{
			name: "happy assigns a buildID when none given",
			fields: fields{
				happy: true,
			},
			wantBuildID: "mock-build",
		},
		{
			name:    "unhappy",
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMockPipelineService(tt.fields.happy)
			ctx, err := m.ValidateRun(context.TODO(), domain.RunInput{BuildID: tt.buildID})
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateRun() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if tt.wantErr {
				return
			}
			if got, _ := ctx.Value(domain.BuildIDKey{}).(string); got != tt.wantBuildID {
				t.Errorf("ValidateRun() buildID = %v, want %v", got, tt.wantBuildID)
			}
		})
	}
}
