// Package adjudicator implements the Tier Evaluators: the FAST and
// DEEP adjudicators that call an opaque AI judge to decide APPROVE or
// REJECT for a request, with a deterministic cost-threshold fallback
// when the judge call fails.
package adjudicator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/agentwarden/gateway/internal/types"
)

// Input bundles what an evaluator needs to reach a decision.
type Input struct {
	Request   types.Request
	Risk      types.RiskAssessment
	Tier      types.Tier
	UserInput string // free-form description of the request, for the judge prompt
}

// Client calls the opaque AI adjudicator. AgentClient is the production
// implementation below; tests substitute a stub.
type Client interface {
	Judge(ctx context.Context, input Input) (types.AdjudicatorResult, error)
}

const defaultFallbackThreshold = 1.00

// Evaluator is a Tier Evaluator: it asks the Client for a judgment and,
// on failure, falls back to the fixed cost/risk-threshold rule rather
// than blocking the pipeline.
type Evaluator struct {
	client             Client
	fallbackThreshold  float64
}

// NewEvaluator builds an Evaluator. fallbackThreshold defaults to 1.00
// (USD-equivalent) when <= 0.
func NewEvaluator(client Client, fallbackThreshold float64) *Evaluator {
	if fallbackThreshold <= 0 {
		fallbackThreshold = defaultFallbackThreshold
	}
	return &Evaluator{client: client, fallbackThreshold: fallbackThreshold}
}

// Evaluate asks the judge for a decision, falling back to a
// cost/risk-threshold rule if the call errors.
func (e *Evaluator) Evaluate(ctx context.Context, in Input) types.AdjudicatorResult {
	result, err := e.client.Judge(ctx, in)
	if err == nil {
		return result
	}
	return e.fallback(in, err)
}

// fallback mirrors task_evaluator.py's try/except routing: on judge
// failure, reject whenever cost exceeds the threshold or risk is high,
// approve otherwise. DEEP tier additionally rejects on elevated risk
// since it was routed there for a reason the judge never got to weigh in on.
func (e *Evaluator) fallback(in Input, judgeErr error) types.AdjudicatorResult {
	highCost := in.Request.EstimatedCost > e.fallbackThreshold
	highRisk := in.Risk.Score >= 5.0

	outcome := types.AdjudicatorApprove
	reasoning := fmt.Sprintf("AI adjudicator unavailable (%v); approved under cost/risk fallback threshold", judgeErr)

	if highCost || highRisk || (in.Tier == types.TierDeep && in.Risk.Score >= 7.0) {
		outcome = types.AdjudicatorReject
		reasoning = fmt.Sprintf("AI adjudicator unavailable (%v); rejected by fallback (cost=%.2f risk=%.1f tier=%s)",
			judgeErr, in.Request.EstimatedCost, in.Risk.Score, in.Tier)
	}

	return types.AdjudicatorResult{
		Outcome:    outcome,
		Reasoning:  reasoning,
		Confidence: 0.5,
	}
}

// AgentClient is the production Client: an OpenAI-compatible chat
// completion call that returns a structured APPROVE/REJECT verdict.
type AgentClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
}

// NewAgentClient builds an AgentClient targeting an OpenAI-compatible
// chat completions endpoint.
func NewAgentClient(baseURL, apiKey, model string) *AgentClient {
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &AgentClient{
		httpClient: &http.Client{Timeout: 20 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
	}
}

type judgeChatRequest struct {
	Model       string             `json:"model"`
	Messages    []judgeChatMessage `json:"messages"`
	Temperature float64            `json:"temperature"`
	MaxTokens   int                `json:"max_tokens,omitempty"`
}

type judgeChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type judgeChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type judgeVerdictJSON struct {
	Decision   string  `json:"decision"`
	Reasoning  string  `json:"reasoning"`
	Confidence float64 `json:"confidence"`
}

// Judge sends the request and risk context to the configured chat
// endpoint and parses the verdict.
func (a *AgentClient) Judge(ctx context.Context, in Input) (types.AdjudicatorResult, error) {
	system := systemPrompt(in.Tier)
	user := userPrompt(in)

	raw, err := a.callLLM(ctx, system, user)
	if err != nil {
		return types.AdjudicatorResult{}, err
	}

	return parseVerdict(raw)
}

func systemPrompt(tier types.Tier) string {
	return fmt.Sprintf(`You are the %s-tier adjudicator for an autonomous payment-gated API gateway.
Given a request's provider, model, estimated cost, and risk assessment, decide APPROVE or REJECT.

Respond with a single JSON object, no markdown fencing:
{"decision": "APPROVE"|"REJECT", "reasoning": "<concise explanation>", "confidence": <0.0-1.0>}`, tier)
}

func userPrompt(in Input) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Provider: %s\nModel: %s\nOperation: %s\n", in.Request.Provider, in.Request.Model, in.Request.Operation)
	fmt.Fprintf(&b, "Estimated cost: $%.4f\n", in.Request.EstimatedCost)
	fmt.Fprintf(&b, "Risk score: %.1f (%s)\n", in.Risk.Score, in.Risk.Category)
	if len(in.Risk.Factors) > 0 {
		fmt.Fprintf(&b, "Risk factors:\n")
		for _, f := range in.Risk.Factors {
			fmt.Fprintf(&b, "- %s (+%.1f, %s)\n", f.Factor, f.Contribution, f.Severity)
		}
	}
	if in.UserInput != "" {
		fmt.Fprintf(&b, "Request content: %q\n", in.UserInput)
	}
	fmt.Fprintf(&b, "\nDoes this request warrant approval? Respond with JSON.")
	return b.String()
}

func (a *AgentClient) callLLM(ctx context.Context, system, user string) (string, error) {
	if a.apiKey == "" {
		return "", fmt.Errorf("adjudicator: no API key configured")
	}

	reqBody := judgeChatRequest{
		Model: a.model,
		Messages: []judgeChatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: 0.1,
		MaxTokens:   256,
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal adjudicator request: %w", err)
	}

	endpoint := a.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("build adjudicator request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("adjudicator request failed: %w", err)
	}
	defer resp.Body.Close()

	var result judgeChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode adjudicator response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := fmt.Sprintf("status %d", resp.StatusCode)
		if result.Error != nil {
			msg += ": " + result.Error.Message
		}
		return "", fmt.Errorf("adjudicator API error: %s", msg)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("adjudicator returned no choices")
	}
	return strings.TrimSpace(result.Choices[0].Message.Content), nil
}

func parseVerdict(raw string) (types.AdjudicatorResult, error) {
	cleaned := raw
	if idx := strings.Index(cleaned, "{"); idx >= 0 {
		cleaned = cleaned[idx:]
	}
	if idx := strings.LastIndex(cleaned, "}"); idx >= 0 {
		cleaned = cleaned[:idx+1]
	}

	var parsed judgeVerdictJSON
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		return types.AdjudicatorResult{}, fmt.Errorf("invalid adjudicator JSON: %w (raw: %s)", err, truncate(raw, 200))
	}

	outcome := types.AdjudicatorReject
	if strings.EqualFold(parsed.Decision, "APPROVE") {
		outcome = types.AdjudicatorApprove
	}

	confidence := parsed.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	return types.AdjudicatorResult{Outcome: outcome, Reasoning: parsed.Reasoning, Confidence: confidence}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
