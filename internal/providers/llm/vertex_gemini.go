package llm

import (
	"context"
	"strings"

	vertexgenai "cloud.google.com/go/vertexai/genai"
	"google.golang.org/api/option"
)

// VertexGemini generates replies with Gemini on Vertex AI.
type VertexGemini struct {
	client    *vertexgenai.Client
	modelName string
}

func NewVertexGemini(ctx context.Context, projectID, location, modelName, credentialsFile string) (*VertexGemini, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	c, err := vertexgenai.NewClient(ctx, projectID, location, opts...)
	if err != nil {
		return nil, err
	}

	if modelName == "" {
		modelName = "gemini-1.5-flash"
	}
	return &VertexGemini{client: c, modelName: modelName}, nil
}

func (v *VertexGemini) Close() error { return v.client.Close() }

func (v *VertexGemini) Name() string { return "gemini" }

// Generate maps system turns to the system instruction, earlier turns to
// chat history, and sends the last user turn.
func (v *VertexGemini) Generate(ctx context.Context, msgs []Message, p Params) (Result, error) {
	fail := func(reason string, err error) (Result, error) {
		return Result{}, &ProviderError{Provider: v.Name(), Reason: reason, Err: err}
	}

	var system []string
	var turns []Message
	for _, m := range msgs {
		if m.Role == RoleSystem {
			system = append(system, m.Content)
			continue
		}
		turns = append(turns, m)
	}
	if len(turns) == 0 || turns[len(turns)-1].Role != RoleUser {
		return fail(ReasonEmptyContent, nil)
	}
	last := turns[len(turns)-1]

	// per call, so concurrent calls never share a system instruction
	model := v.client.GenerativeModel(v.modelName)
	model.SetTemperature(float32(p.Temperature))
	if p.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(p.MaxTokens))
	}
	if len(system) > 0 {
		model.SystemInstruction = &vertexgenai.Content{
			Parts: []vertexgenai.Part{vertexgenai.Text(strings.Join(system, "\n\n"))},
		}
	}

	cs := model.StartChat()
	for _, m := range turns[:len(turns)-1] {
		role := "user"
		if m.Role == RoleAssistant {
			role = "model"
		}
		cs.History = append(cs.History, &vertexgenai.Content{
			Role:  role,
			Parts: []vertexgenai.Part{vertexgenai.Text(m.Content)},
		})
	}

	resp, err := cs.SendMessage(ctx, vertexgenai.Text(last.Content))
	if err != nil {
		return fail(ReasonTransport, err)
	}
	if len(resp.Candidates) == 0 {
		return fail(ReasonNoChoices, nil)
	}

	var sb strings.Builder
	if cand := resp.Candidates[0]; cand.Content != nil {
		for _, part := range cand.Content.Parts {
			if t, ok := part.(vertexgenai.Text); ok {
				sb.WriteString(string(t))
			}
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return fail(ReasonEmptyContent, nil)
	}

	out := Result{Provider: v.Name(), Model: v.modelName, Text: text}
	if resp.UsageMetadata != nil {
		out.TokensIn = int(resp.UsageMetadata.PromptTokenCount)
		out.TokensOut = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return out, nil
}
