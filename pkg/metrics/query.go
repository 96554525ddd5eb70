package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// ThreadUsage represents aggregated token usage for one conversation thread.
type ThreadUsage struct {
	ThreadID         string `json:"thread_id"`
	PromptTokens     int64  `json:"prompt_tokens"`
	CompletionTokens int64  `json:"completion_tokens"`
	TotalTokens      int64  `json:"total_tokens"`
}

// QueryService provides methods to query aggregated metrics from Prometheus.
type QueryService struct {
	client   api.Client
	queryAPI v1.API
}

// NewQueryService creates a new metrics query service.
func NewQueryService(prometheusURL string) (*QueryService, error) {
	client, err := api.NewClient(api.Config{
		Address: prometheusURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus client: %w", err)
	}

	return &QueryService{
		client:   client,
		queryAPI: v1.NewAPI(client),
	}, nil
}

// GetThreadUsage retrieves aggregated token usage for a thread across all
// agents that ran against it.
func (q *QueryService) GetThreadUsage(ctx context.Context, threadID string) (*ThreadUsage, error) {
	usage := &ThreadUsage{
		ThreadID: threadID,
	}

	promptQuery := fmt.Sprintf(`sum(duet_tokens_total{thread_id=%q, type="prompt"})`, threadID)
	promptResult, _, err := q.queryAPI.Query(ctx, promptQuery, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to query prompt tokens: %w", err)
	}

	if vector, ok := promptResult.(model.Vector); ok && len(vector) > 0 {
		usage.PromptTokens = int64(vector[0].Value)
	}

	completionQuery := fmt.Sprintf(`sum(duet_tokens_total{thread_id=%q, type="completion"})`, threadID)
	completionResult, _, err := q.queryAPI.Query(ctx, completionQuery, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to query completion tokens: %w", err)
	}

	if vector, ok := completionResult.(model.Vector); ok && len(vector) > 0 {
		usage.CompletionTokens = int64(vector[0].Value)
	}

	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens

	return usage, nil
}

// GetAgentUsage retrieves token usage broken down by agent role.
func (q *QueryService) GetAgentUsage(ctx context.Context) (map[string]int64, error) {
	result := make(map[string]int64)

	query := `sum by (agent) (duet_tokens_total)`
	queryResult, _, err := q.queryAPI.Query(ctx, query, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to query agent usage: %w", err)
	}

	if vector, ok := queryResult.(model.Vector); ok {
		for _, sample := range vector {
			agent := string(sample.Metric["agent"])
			result[agent] = int64(sample.Value)
		}
	}

	return result, nil
}
