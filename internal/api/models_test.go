package api

import (
	"testing"

	"github.com/phrazzld/questgen/internal/api/shared"
	"github.com/stretchr/testify/assert"
)

func intPtr(v int) *int { return &v }

func TestIngestDocumentRequest(t *testing.T) {
	tests := []struct {
		name  string
		req   IngestDocumentRequest
		valid bool
	}{
		{name: "text only", req: IngestDocumentRequest{Text: "Mitochondria make ATP."}, valid: true},
		{name: "with id", req: IngestDocumentRequest{ID: "0b7e4c6a-5a86-4b0e-9d5f-3f1a9c1e2b7d", Text: "x"}, valid: true},
		{name: "missing text", req: IngestDocumentRequest{}, valid: false},
		{name: "bad id", req: IngestDocumentRequest{ID: "doc-1", Text: "x"}, valid: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := shared.ValidateRequest(&tt.req)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestCreatePlanRequest(t *testing.T) {
	tests := []struct {
		name  string
		req   CreatePlanRequest
		valid bool
	}{
		{name: "single type", req: CreatePlanRequest{Total: 10, Types: []string{"mcq"}}, valid: true},
		{
			name: "all types with constraints",
			req: CreatePlanRequest{
				Total: 40,
				Types: []string{"mcq", "true_false", "short_answer", "essay"},
				Constraints: ConstraintsRequest{
					Topics: []string{"photosynthesis"}, Language: "en-GB", MaxStemLength: 300,
				},
			},
			valid: true,
		},
		{name: "zero total", req: CreatePlanRequest{Total: 0, Types: []string{"mcq"}}, valid: false},
		{name: "total too large", req: CreatePlanRequest{Total: 1001, Types: []string{"mcq"}}, valid: false},
		{name: "no types", req: CreatePlanRequest{Total: 5}, valid: false},
		{name: "unknown type", req: CreatePlanRequest{Total: 5, Types: []string{"matching"}}, valid: false},
		{
			name:  "bad language",
			req:   CreatePlanRequest{Total: 5, Types: []string{"essay"}, Constraints: ConstraintsRequest{Language: "not a tag"}},
			valid: false,
		},
		{
			name:  "blank topic",
			req:   CreatePlanRequest{Total: 5, Types: []string{"essay"}, Constraints: ConstraintsRequest{Topics: []string{""}}},
			valid: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := shared.ValidateRequest(&tt.req)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestStartGenerationRequest(t *testing.T) {
	assert.NoError(t, shared.ValidateRequest(&StartGenerationRequest{}))
	assert.NoError(t, shared.ValidateRequest(&StartGenerationRequest{MaxRetries: intPtr(0)}))
	assert.NoError(t, shared.ValidateRequest(&StartGenerationRequest{MaxRetries: intPtr(10)}))
	assert.Error(t, shared.ValidateRequest(&StartGenerationRequest{MaxRetries: intPtr(11)}))
	assert.Error(t, shared.ValidateRequest(&StartGenerationRequest{MaxRetries: intPtr(-1)}))
}
