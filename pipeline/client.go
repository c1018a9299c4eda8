package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/ventureflow/config"
	"github.com/BaSui01/ventureflow/types"
)

const maxAttempts = 2

// responseBodyLimit bounds how much of an agent reply is read. Agents
// return structured JSON; anything larger is misbehavior.
const responseBodyLimit = 4 << 20

// Attempt captures the outcome of one HTTP call to an agent, retries
// included. The caller turns each Attempt into an audit row.
type Attempt struct {
	// Index is zero-based: 0 is the first try, 1 the retry.
	Index    int
	Result   types.AgentResult
	Duration time.Duration
}

// Invoker is the runner's view of the agent transport.
type Invoker interface {
	Invoke(ctx context.Context, stage types.Stage, payload any) (types.AgentResult, []Attempt)
}

// Client calls remote agent services over HTTP. Every failure mode a call
// can hit is folded into a failed AgentResult; Invoke never returns an
// error, so the pipeline's degradation policy stays in one place.
type Client struct {
	cfg    config.PipelineConfig
	http   *http.Client
	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration)
}

func NewClient(cfg config.PipelineConfig, logger *zap.Logger) *Client {
	return &Client{
		cfg: cfg,
		// Per-attempt deadlines come from the request context; the
		// transport itself stays unbounded.
		http:   &http.Client{},
		logger: logger.With(zap.String("component", "agent_client")),
		sleep:  sleepContext,
	}
}

// Invoke posts the payload to the stage's endpoint, retrying once on
// failure with exponential backoff. The returned result is the last
// attempt's outcome; the slice holds every attempt in order.
func (c *Client) Invoke(ctx context.Context, stage types.Stage, payload any) (types.AgentResult, []Attempt) {
	body, err := json.Marshal(payload)
	if err != nil {
		// Payloads are built from already-decoded JSON, so this is a
		// programming error, not an agent failure. Still normalized.
		res := types.AgentResult{Error: fmt.Sprintf("encode payload: %v", err)}
		return res, []Attempt{{Index: 0, Result: res}}
	}

	ep := c.cfg.AgentEndpointFor(string(stage))
	attempts := make([]Attempt, 0, maxAttempts)

	var res types.AgentResult
	for i := 0; i < maxAttempts; i++ {
		if i > 0 {
			backoff := c.cfg.RetryBackoff * (1 << (i - 1))
			c.logger.Info("retrying agent call",
				zap.String("stage", string(stage)),
				zap.Int("attempt", i),
				zap.Duration("backoff", backoff))
			c.sleep(ctx, backoff)
		}

		start := time.Now()
		res = c.call(ctx, ep, body)
		attempts = append(attempts, Attempt{Index: i, Result: res, Duration: time.Since(start)})

		if res.Success {
			break
		}
		c.logger.Warn("agent call failed",
			zap.String("stage", string(stage)),
			zap.Int("attempt", i),
			zap.String("error", res.Error))
		if ctx.Err() != nil {
			break
		}
	}
	return res, attempts
}

// call performs a single attempt under the stage's own timeout.
func (c *Client) call(ctx context.Context, ep config.AgentEndpoint, body []byte) types.AgentResult {
	callCtx, cancel := context.WithTimeout(ctx, ep.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, ep.URL, bytes.NewReader(body))
	if err != nil {
		return types.AgentResult{Error: fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.ServiceToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.ServiceToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			return types.AgentResult{Error: fmt.Sprintf("timeout after %s", ep.Timeout)}
		}
		return types.AgentResult{Error: fmt.Sprintf("request failed: %v", err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, responseBodyLimit))
	if err != nil {
		return types.AgentResult{Error: fmt.Sprintf("read response: %v", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := truncate(string(raw), 512)
		return types.AgentResult{Error: fmt.Sprintf("agent returned %d: %s", resp.StatusCode, msg)}
	}

	var out types.AgentResult
	if err := json.Unmarshal(raw, &out); err != nil {
		return types.AgentResult{Error: fmt.Sprintf("malformed agent response: %v", err)}
	}
	if !out.Success && out.Error == "" {
		out.Error = "agent reported failure without detail"
	}
	return out
}

func sleepContext(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
