// Package oracle implements the vision oracle on the OpenAI chat completion
// API. Each region call sends one image crop plus region guidance and parses
// the model's line-oriented reply.
package oracle

import (
	"context"
	"encoding/base64"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/roadsight/holderd/internal/model"
	"github.com/roadsight/holderd/internal/vision"
)

const (
	defaultModel = "gpt-4o"

	// Near-greedy decoding: classification answers should not be creative.
	temperature = 0.05
	maxTokens   = 150
)

// replyFormat tells the model the exact shape the parser expects.
const replyFormat = "Respond with exactly four lines:\n" +
	"Material: <material of the holder>\n" +
	"Type: <kind of holder>\n" +
	"Confidence: <0.0-1.0>\n" +
	"Rationale: <one sentence naming the visual details you used>"

// Client is an OpenAI-backed vision.Oracle.
type Client struct {
	api      *openai.Client
	model    string
	defaults model.ClassPair
}

var _ vision.Oracle = (*Client)(nil)

// NewClient creates an oracle client. model may be empty to use the default.
// defaults is the classification the parser treats as the model's reflexive
// answer when damping suspicious replies.
func NewClient(apiKey, visionModel string, defaults model.ClassPair) *Client {
	if visionModel == "" {
		visionModel = defaultModel
	}
	return &Client{
		api:      openai.NewClient(apiKey),
		model:    visionModel,
		defaults: defaults,
	}
}

// Analyze sends one image crop to the model and parses its reply.
func (c *Client) Analyze(ctx context.Context, image []byte, instruction string) (vision.Reply, error) {
	imageURL := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(image)

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: temperature,
		MaxTokens:   maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{
						Type: openai.ChatMessagePartTypeText,
						Text: instruction + "\n\n" + replyFormat,
					},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    imageURL,
							Detail: openai.ImageURLDetailAuto,
						},
					},
				},
			},
		},
	})
	if err != nil {
		return vision.Reply{}, fmt.Errorf("oracle: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return vision.Reply{}, fmt.Errorf("oracle: empty completion")
	}

	return c.parseReply(resp.Choices[0].Message.Content)
}
