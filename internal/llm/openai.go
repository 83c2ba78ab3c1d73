// Package llm implements the AI collaborator adapter over the OpenAI chat
// completion API. It turns orchestrator requests into prompts and parses the
// structured JSON the model is instructed to return.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"encounter-coach/internal/encounter"
	"encounter-coach/pkg"
)

// Client is the OpenAI-backed implementation of encounter.Collaborator.
type Client struct {
	api   *openai.Client
	model string
	log   *zap.Logger
}

var _ encounter.Collaborator = (*Client)(nil)

// NewClient constructs the collaborator client. The model name falls back to
// a modern small default when empty.
func NewClient(apiKey, model string, log *zap.Logger) *Client {
	if model == "" {
		model = "gpt-4o-mini"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{api: openai.NewClient(apiKey), model: model, log: log}
}

// complete sends one chat completion request with bounded retry and returns
// the raw assistant message content.
func (c *Client) complete(ctx context.Context, messages []openai.ChatCompletionMessage, temperature float32) (string, error) {
	if c.api == nil {
		return "", errors.New("openai client not initialized")
	}
	var content string
	err := withRetry(ctx, func() error {
		resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       c.model,
			Messages:    messages,
			Temperature: temperature,
		})
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return errors.New("empty completion")
		}
		content = resp.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		return "", err
	}
	return content, nil
}

// GeneratePatientProfile asks the model to invent a patient. A profile
// without at least a name and a main complaint is a hard failure.
func (c *Client) GeneratePatientProfile(ctx context.Context) (*pkg.PatientProfile, error) {
	content, err := c.complete(ctx, []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: profileSystemPrompt},
		{Role: openai.ChatMessageRoleUser, Content: "Generate a new simulated patient."},
	}, 0.9)
	if err != nil {
		return nil, fmt.Errorf("generate patient profile: %w", err)
	}
	var profile pkg.PatientProfile
	if err := json.Unmarshal(extractJSON(content), &profile); err != nil {
		return nil, fmt.Errorf("generate patient profile: malformed response: %w", err)
	}
	if strings.TrimSpace(profile.Name) == "" || strings.TrimSpace(profile.MainComplaint) == "" {
		return nil, errors.New("generate patient profile: response missing name or main complaint")
	}
	return &profile, nil
}

// interactPayload mirrors the JSON shape the interaction prompt demands.
type interactPayload struct {
	ResponseText            string             `json:"responseText"`
	Attribution             string             `json:"attribution"`
	ScoreUpdate             pkg.RubricScoreMap `json:"scoreUpdate"`
	PhaseComplete           bool               `json:"phaseComplete"`
	CompletionJustification string             `json:"completionJustification"`
}

// Interact runs the primary per-turn call: simulated reply, score update,
// and phase-completion assessment. Malformed output is fatal here because no
// safe default exists for what the patient said.
func (c *Client) Interact(ctx context.Context, profile pkg.PatientProfile, history []pkg.Turn, latestInput string, phase encounter.PhaseConfig, performanceRatio float64) (*pkg.InteractionResult, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: interactSystemPrompt(profile, phase, performanceRatio),
	})
	messages = append(messages, historyMessages(history)...)

	content, err := c.complete(ctx, messages, 0.7)
	if err != nil {
		return nil, fmt.Errorf("interact: %w", err)
	}
	res, err := parseInteraction(content)
	if err != nil {
		return nil, fmt.Errorf("interact: %w", err)
	}
	return res, nil
}

// ScorePhase requests the consolidated rubric score for a completed phase.
// Callers degrade to zero defaults on error.
func (c *Client) ScorePhase(ctx context.Context, profile pkg.PatientProfile, history []pkg.Turn, phaseName, phaseGoal string) (pkg.RubricScoreMap, error) {
	content, err := c.complete(ctx, []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: scorePhaseSystemPrompt(phaseName, phaseGoal)},
		{Role: openai.ChatMessageRoleUser, Content: "Conversation so far:\n\n" + renderTranscript(history)},
	}, 0.2)
	if err != nil {
		return nil, fmt.Errorf("score phase %q: %w", phaseName, err)
	}
	scores, err := parseScoreMap(content)
	if err != nil {
		return nil, fmt.Errorf("score phase %q: %w", phaseName, err)
	}
	return scores, nil
}

// OverallFeedback requests the final coaching summary over the full
// encounter.
func (c *Client) OverallFeedback(ctx context.Context, profile pkg.PatientProfile, phaseScores map[string]pkg.RubricScoreMap, history []pkg.Turn) (string, error) {
	user := fmt.Sprintf("Patient: %s, presenting with %s.\n\nPhase scores:\n%s\n\nConversation:\n%s",
		profile.Name, profile.MainComplaint, renderPhaseScores(phaseScores), renderTranscript(history))
	content, err := c.complete(ctx, []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: feedbackSystemPrompt},
		{Role: openai.ChatMessageRoleUser, Content: user},
	}, 0.5)
	if err != nil {
		return "", fmt.Errorf("overall feedback: %w", err)
	}
	return strings.TrimSpace(content), nil
}

// SynthesizeProviderResponse asks the model to demonstrate a provider
// message of the requested quality.
func (c *Client) SynthesizeProviderResponse(ctx context.Context, profile pkg.PatientProfile, history []pkg.Turn, phase encounter.PhaseConfig, qualityHint string) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: synthesizeSystemPrompt(phase, qualityHint),
	})
	messages = append(messages, historyMessages(history)...)

	content, err := c.complete(ctx, messages, 0.7)
	if err != nil {
		return "", fmt.Errorf("synthesize provider response: %w", err)
	}
	text := parseSynthesized(content)
	if text == "" {
		return "", errors.New("synthesize provider response: empty response")
	}
	return text, nil
}

// historyMessages replays the conversation as chat messages: provider turns
// as the user, patient and coach turns as the assistant.
func historyMessages(history []pkg.Turn) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(history))
	for _, t := range history {
		role := openai.ChatMessageRoleAssistant
		if t.Role == pkg.AttributionProvider {
			role = openai.ChatMessageRoleUser
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: t.Text})
	}
	return out
}

// parseInteraction decodes the model's per-turn JSON payload.
func parseInteraction(content string) (*pkg.InteractionResult, error) {
	var payload interactPayload
	if err := json.Unmarshal(extractJSON(content), &payload); err != nil {
		return nil, fmt.Errorf("malformed response: %w", err)
	}
	if strings.TrimSpace(payload.ResponseText) == "" {
		return nil, errors.New("response missing responseText")
	}
	return &pkg.InteractionResult{
		ResponseText:            payload.ResponseText,
		Attribution:             pkg.ParseAttribution(payload.Attribution),
		ScoreUpdate:             payload.ScoreUpdate,
		PhaseComplete:           payload.PhaseComplete,
		CompletionJustification: payload.CompletionJustification,
	}, nil
}

// parseScoreMap decodes a category -> {points, justification} object.
func parseScoreMap(content string) (pkg.RubricScoreMap, error) {
	var scores pkg.RubricScoreMap
	if err := json.Unmarshal(extractJSON(content), &scores); err != nil {
		return nil, fmt.Errorf("malformed score map: %w", err)
	}
	return scores, nil
}

// parseSynthesized accepts either the requested {"text": ...} object or, as
// a fallback, the raw completion text.
func parseSynthesized(content string) string {
	var payload struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(extractJSON(content), &payload); err == nil && strings.TrimSpace(payload.Text) != "" {
		return strings.TrimSpace(payload.Text)
	}
	return strings.TrimSpace(content)
}

// extractJSON strips code fences and surrounding prose, returning the
// outermost JSON object in the content. Models occasionally wrap JSON in
// markdown despite instructions.
func extractJSON(content string) []byte {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end < start {
		return []byte(content)
	}
	return []byte(content[start : end+1])
}
