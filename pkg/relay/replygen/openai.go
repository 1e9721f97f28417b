package replygen

import (
	"context"
	"fmt"
	"io"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/mr-web-x/collectrelay/pkg/relay/dialog"
)

// OpenAIGenerator streams replies from the chat completions API.
type OpenAIGenerator struct {
	client openai.Client
	model  string
}

func NewOpenAIGenerator(apiKey, model string) *OpenAIGenerator {
	return &OpenAIGenerator{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

func (g *OpenAIGenerator) Generate(ctx context.Context, req Request) (TokenStream, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Dialog)+1)
	messages = append(messages, openai.SystemMessage(systemPrompt(req)))
	for _, turn := range req.Dialog {
		switch turn.Speaker {
		case dialog.SpeakerClient:
			messages = append(messages, openai.UserMessage(turn.Text))
		case dialog.SpeakerAgent:
			messages = append(messages, openai.AssistantMessage(turn.Text))
		}
	}

	stream := g.client.Chat.Completions.NewStreaming(ctx, openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(g.model),
		Messages: messages,
	})
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("open completion stream: %w", err)
	}
	return &openaiStream{inner: stream}, nil
}

// chunkIter is the slice of the SDK stream the adapter needs; tests stub it.
type chunkIter interface {
	Next() bool
	Current() openai.ChatCompletionChunk
	Err() error
}

type openaiStream struct {
	inner chunkIter
}

func (s *openaiStream) Recv() (string, error) {
	for s.inner.Next() {
		chunk := s.inner.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		if delta := chunk.Choices[0].Delta.Content; delta != "" {
			return delta, nil
		}
	}
	if err := s.inner.Err(); err != nil {
		return "", fmt.Errorf("completion stream: %w", err)
	}
	return "", io.EOF
}
