package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"assistgate/internal/domain"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"
)

// BedrockOptions configures a BedrockClient
type BedrockOptions struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Model           string
	MaxTokens       int32
}

// BedrockClient calls AWS Bedrock through the SDK's Converse API.
// Unlike the raw-HTTP adapters it delegates transport, signing and
// credential handling to the AWS SDK.
type BedrockClient struct {
	runtimeClient *bedrockruntime.Client
	model         string
	defaultMax    int32
}

// NewBedrockClient creates a new Bedrock client. With explicit static
// credentials those are used; otherwise the default AWS credential chain
// applies (environment, shared config, instance role).
func NewBedrockClient(ctx context.Context, opts BedrockOptions) (*BedrockClient, error) {
	if opts.Region == "" {
		opts.Region = "us-east-1"
	}
	if opts.Model == "" {
		opts.Model = "amazon.nova-lite-v1:0"
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 1024
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(opts.Region),
	}
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	return &BedrockClient{
		runtimeClient: bedrockruntime.NewFromConfig(awsCfg),
		model:         opts.Model,
		defaultMax:    opts.MaxTokens,
	}, nil
}

// Provider returns the provider type
func (c *BedrockClient) Provider() domain.Provider {
	return domain.ProviderBedrock
}

// Model returns the configured model ID
func (c *BedrockClient) Model() string {
	return c.model
}

// Chat performs a non-streaming completion via the Converse API
func (c *BedrockClient) Chat(ctx context.Context, req *domain.ChatRequest) (*domain.ChatResponse, error) {
	maxTokens := c.defaultMax
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}
	temperature := domain.DefaultTemperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	topP := domain.DefaultTopP
	if req.TopP != nil {
		topP = *req.TopP
	}

	input := &bedrockruntime.ConverseInput{
		ModelId: aws.String(c.model),
		Messages: []types.Message{
			{
				Role: types.ConversationRoleUser,
				Content: []types.ContentBlock{
					&types.ContentBlockMemberText{Value: req.UserPrompt},
				},
			},
		},
		InferenceConfig: &types.InferenceConfiguration{
			MaxTokens:   aws.Int32(maxTokens),
			Temperature: aws.Float32(temperature),
			TopP:        aws.Float32(topP),
		},
	}
	if req.SystemPrompt != "" {
		input.System = []types.SystemContentBlock{
			&types.SystemContentBlockMemberText{Value: req.SystemPrompt},
		}
	}

	start := time.Now()
	output, err := c.runtimeClient.Converse(ctx, input)
	if err != nil {
		return nil, classifyConverseError(err)
	}

	var content strings.Builder
	if output.Output != nil {
		if msg, ok := output.Output.(*types.ConverseOutputMemberMessage); ok {
			for _, block := range msg.Value.Content {
				if text, ok := block.(*types.ContentBlockMemberText); ok {
					content.WriteString(text.Value)
				}
			}
		}
	}

	resp := &domain.ChatResponse{
		Content:   content.String(),
		Provider:  domain.ProviderBedrock,
		Model:     c.model,
		LatencyMs: time.Since(start).Milliseconds(),
	}
	if output.Usage != nil {
		in := int64(aws.ToInt32(output.Usage.InputTokens))
		out := int64(aws.ToInt32(output.Usage.OutputTokens))
		resp.Usage = domain.Usage{
			InputTokens:  in,
			OutputTokens: out,
			TotalTokens:  in + out,
		}
	}

	return resp, nil
}

// classifyConverseError maps an SDK failure onto the same retryable or
// terminal split the raw-HTTP adapters use. Credential and validation
// failures are terminal; throttling, timeouts and server faults retry.
func classifyConverseError(err error) *domain.ProviderError {
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		return domain.NewProviderError(domain.ProviderBedrock, respErr.HTTPStatusCode(), err.Error())
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDeniedException", "UnrecognizedClientException", "ValidationException", "ResourceNotFoundException":
			return &domain.ProviderError{
				Provider:  domain.ProviderBedrock,
				Message:   err.Error(),
				Retryable: false,
			}
		}
	}
	return domain.TransientProviderError(domain.ProviderBedrock, err)
}

// ChatStream reports that this adapter does not stream. Callers must
// surface the error instead of silently falling back to buffering.
func (c *BedrockClient) ChatStream(ctx context.Context, req *domain.ChatRequest) (<-chan domain.StreamEvent, error) {
	return nil, domain.ErrStreamingUnsupported
}
