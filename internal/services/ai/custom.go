package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/autoanosis/ai-relay-go/internal/config"
	"github.com/autoanosis/ai-relay-go/internal/middleware"
	"github.com/autoanosis/ai-relay-go/internal/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// maximum response body read from the provider
const maxResponseBytes = 4 << 20

// Service represents the completion provider
type Service interface {
	GetResponse(ctx context.Context, messages []models.Message) (string, error)
}

// CustomAI talks to an OpenAI-compatible chat completions endpoint
type CustomAI struct {
	config     *config.ProviderConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	metrics    *middleware.Metrics
	logger     *logrus.Logger
}

// NewCustomAI creates a new provider client. metrics may be nil.
func NewCustomAI(cfg *config.ProviderConfig, metrics *middleware.Metrics, logger *logrus.Logger) *CustomAI {
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	logger.WithFields(logrus.Fields{
		"baseURL": cfg.BaseURL,
		"model":   cfg.Model,
		"timeout": cfg.Timeout,
	}).Info("AI service initialized")

	return &CustomAI{
		config: cfg,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
		limiter: rate.NewLimiter(limit, burst),
		metrics: metrics,
		logger:  logger,
	}
}

// GetResponse performs a single completion request. Failures are returned
// as-is; retrying is left to the caller's client.
func (s *CustomAI) GetResponse(ctx context.Context, messages []models.Message) (string, error) {
	start := time.Now()
	reply, err := s.complete(ctx, messages)

	status := "success"
	if err != nil {
		status = "error"
		if errors.Is(err, context.DeadlineExceeded) {
			status = "timeout"
		}
	}
	if s.metrics != nil {
		s.metrics.RecordAIRequest(s.config.Model, status, time.Since(start))
	}
	return reply, err
}

func (s *CustomAI) complete(ctx context.Context, messages []models.Message) (string, error) {
	reqCtx := ctx
	if s.config.Timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, s.config.Timeout)
		defer cancel()
	}

	if err := s.limiter.Wait(reqCtx); err != nil {
		return "", fmt.Errorf("provider throttle: %w", err)
	}

	reqBody := map[string]interface{}{
		"model":       s.config.Model,
		"messages":    messages,
		"max_tokens":  s.config.MaxTokens,
		"temperature": s.config.Temperature,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/chat/completions", strings.TrimSuffix(s.config.BaseURL, "/"))
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", s.config.APIKey))

	s.logger.WithFields(logrus.Fields{
		"model":    s.config.Model,
		"messages": len(messages),
	}).Debug("Sending AI request")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		s.logger.WithFields(logrus.Fields{
			"status": resp.StatusCode,
			"body":   truncate(string(body), 500),
		}).Error("AI request failed")
		return "", fmt.Errorf("AI request failed with status %d", resp.StatusCode)
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}

	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}

	if result.Error.Message != "" {
		return "", fmt.Errorf("AI error: %s", result.Error.Message)
	}

	if len(result.Choices) == 0 || result.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("no response from AI")
	}

	return result.Choices[0].Message.Content, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
