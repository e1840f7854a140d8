package copilot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

// BedrockLLMProvider implements LLMProvider with the Bedrock Converse API.
type BedrockLLMProvider struct {
	client BedrockClient
	model  string
}

type BedrockProviderConfig struct {
	Client BedrockClient
	Model  string
}

func NewBedrockLLMProvider(config BedrockProviderConfig) *BedrockLLMProvider {
	if config.Model == "" {
		config.Model = "anthropic.claude-3-5-sonnet-20240620-v1:0"
	}

	return &BedrockLLMProvider{
		client: config.Client,
		model:  config.Model,
	}
}

// converseInput maps the request onto Converse. Converse has no top-k field, so
// TopK travels as the "top_k" model request field, which the Anthropic and
// Mistral families on Bedrock read.
func (p *BedrockLLMProvider) converseInput(messages []LLMMessage, config LLMRequestConfig) (*bedrockruntime.ConverseInput, error) {
	if config.MaxToken > int64(^uint32(0)>>1) {
		return nil, fmt.Errorf("MaxToken %d exceeds int32 limit", config.MaxToken)
	}

	var bedrockMessages []types.Message
	var system []types.SystemContentBlock

	for _, msg := range messages {
		if msg.Role == SystemRole {
			system = append(system, &types.SystemContentBlockMemberText{Value: msg.Text})
			continue
		}

		role := types.ConversationRoleUser
		if msg.Role == AssistantRole {
			role = types.ConversationRoleAssistant
		}

		bedrockMessages = append(bedrockMessages, types.Message{
			Role: role,
			Content: []types.ContentBlock{
				&types.ContentBlockMemberText{Value: msg.Text},
			},
		})
	}

	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(p.model),
		Messages: bedrockMessages,
		System:   system,
		InferenceConfig: &types.InferenceConfiguration{
			Temperature: aws.Float32(float32(config.Temperature)),
			TopP:        aws.Float32(float32(config.TopP)),
		},
	}
	if config.MaxToken > 0 {
		input.InferenceConfig.MaxTokens = aws.Int32(int32(config.MaxToken))
	}
	if config.TopK > 0 {
		input.AdditionalModelRequestFields = document.NewLazyDocument(map[string]interface{}{"top_k": config.TopK})
	}
	return input, nil
}

// GetResponse sends the conversation through Converse.
func (p *BedrockLLMProvider) GetResponse(ctx context.Context, messages []LLMMessage, config LLMRequestConfig) (LLMResponse, error) {
	startTime := time.Now()

	input, err := p.converseInput(messages, config)
	if err != nil {
		return LLMResponse{}, err
	}

	output, err := p.client.Converse(ctx, input)
	if err != nil {
		return LLMResponse{}, classifyBedrockError(err)
	}

	var text strings.Builder
	if msgOutput, ok := output.Output.(*types.ConverseOutputMemberMessage); ok {
		for _, block := range msgOutput.Value.Content {
			if textBlock, ok := block.(*types.ContentBlockMemberText); ok {
				text.WriteString(textBlock.Value)
			}
		}
	}

	response := LLMResponse{
		Text:           text.String(),
		CompletionTime: time.Since(startTime).Seconds(),
	}
	if output.Usage != nil {
		response.TotalInputToken = int(aws.ToInt32(output.Usage.InputTokens))
		response.TotalOutputToken = int(aws.ToInt32(output.Usage.OutputTokens))
		response.TotalTokenCount = int(aws.ToInt32(output.Usage.TotalTokens))
	}
	return response, nil
}

func classifyBedrockError(err error) error {
	var throttling *types.ThrottlingException
	if errors.As(err, &throttling) {
		return rateLimited("bedrock", err)
	}

	var statusErr interface{ HTTPStatusCode() int }
	if errors.As(err, &statusErr) {
		if statusErr.HTTPStatusCode() == http.StatusTooManyRequests {
			return rateLimited("bedrock", err)
		}
		return err
	}

	if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) && hasRateLimitText(err) {
		return rateLimited("bedrock", err)
	}
	return err
}
