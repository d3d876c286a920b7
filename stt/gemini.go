package stt

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/room4-2/companion/audio"
)

const transcribePrompt = "Transcribe this audio verbatim. The speaker's language is %s. " +
	"Reply with the transcript only, or nothing if there is no speech."

// Gemini transcribes a whole utterance with one GenerateContent call
type Gemini struct {
	client   *genai.Client
	model    string
	language string
}

// NewGemini creates a Gemini API client
func NewGemini(ctx context.Context, apiKey, model, language string) (*Gemini, error) {
	if apiKey == "" {
		return nil, errors.New("GEMINI_API_KEY is required for gemini transcription")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &Gemini{client: client, model: model, language: language}, nil
}

func (g *Gemini) Name() string { return "gemini" }

func (g *Gemini) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error) {
	wav, err := audio.EncodeWAV(audio.PCM16ToInt16(pcm), sampleRate)
	if err != nil {
		return "", err
	}

	contents := []*genai.Content{{
		Role: "user",
		Parts: []*genai.Part{
			{Text: fmt.Sprintf(transcribePrompt, g.language)},
			{InlineData: &genai.Blob{MIMEType: "audio/wav", Data: wav}},
		},
	}}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	return responseText(resp), nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	return strings.TrimSpace(sb.String())
}

// Close is a no-op; the client holds no connection.
func (g *Gemini) Close() error { return nil }
