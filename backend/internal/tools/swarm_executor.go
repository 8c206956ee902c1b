package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	apperrors "coyote/backend/pkg/errors"
	"coyote/backend/pkg/logger"
)

// SwarmExecutor queries the agent swarm control API
type SwarmExecutor struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewSwarmExecutor creates a swarm executor for the API at baseURL
func NewSwarmExecutor(baseURL string) *SwarmExecutor {
	return &SwarmExecutor{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
		logger: logger.Get(),
	}
}

// Available pings the health endpoint with a short deadline
func (s *SwarmExecutor) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

// Status reports the state of every swarm
func (s *SwarmExecutor) Status(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	return s.getJSON(ctx, ToolSwarmStatus, "/health")
}

// ProphetStats reports Prophet lead generation numbers
func (s *SwarmExecutor) ProphetStats(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	return s.getJSON(ctx, ToolProphetStats, "/swarms/prophet/stats")
}

func (s *SwarmExecutor) getJSON(ctx context.Context, toolName, path string) (map[string]interface{}, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path, nil)
	if err != nil {
		return nil, apperrors.NewToolUpstreamError(toolName, "bad swarm API URL", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.logger.Warn("Swarm API unreachable", zap.String("tool", toolName), zap.Error(err))
		return nil, upstreamFailure(toolName, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, upstreamFailure(toolName, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusFailure(toolName, resp.StatusCode, "", fmt.Errorf("swarm API returned %d", resp.StatusCode))
	}

	var data map[string]interface{}
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, apperrors.NewToolUpstreamError(toolName, "swarm API returned invalid JSON", err)
	}
	return data, nil
}
