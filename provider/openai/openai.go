package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/mashiike/promptnode"
	"github.com/sashabaranov/go-openai"
)

const (
	ProviderName   = "openai"
	DefaultBaseURL = "https://api.openai.com/v1"
)

func init() {
	// Register the provider
	if err := promptnode.RegisterModelProvider(ProviderName, New()); err != nil {
		panic(err)
	}
}

type ChatCompletionClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// ClientFactory creates a client bound to one api key.
type ClientFactory func(apiKey string) ChatCompletionClient

type ModelProvider struct {
	baseURL    string
	httpClient *http.Client
	newClient  ClientFactory
}

type Option func(*ModelProvider)

// WithBaseURL points the provider at any OpenAI compatible endpoint.
func WithBaseURL(baseURL string) Option {
	return func(p *ModelProvider) {
		if baseURL != "" {
			p.baseURL = baseURL
		}
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(p *ModelProvider) {
		if client != nil {
			p.httpClient = client
		}
	}
}

func WithClientFactory(f ClientFactory) Option {
	return func(p *ModelProvider) {
		p.newClient = f
	}
}

func New(opts ...Option) *ModelProvider {
	p := &ModelProvider{
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: promptnode.RemoteCallTimeout,
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.newClient == nil {
		p.newClient = p.defaultClient
	}
	return p
}

func (p *ModelProvider) defaultClient(apiKey string) ChatCompletionClient {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = p.baseURL
	cfg.HTTPClient = p.httpClient
	return openai.NewClientWithConfig(cfg)
}

func (p *ModelProvider) BaseURL() string {
	return p.baseURL
}

func (p *ModelProvider) HTTPClient() *http.Client {
	return p.httpClient
}

func (p *ModelProvider) CreateChatCompletion(ctx context.Context, apiKey string, req *promptnode.ChatRequest) (*promptnode.ChatCompletion, error) {
	if apiKey == "" {
		return nil, promptnode.ErrMissingCredential
	}
	if req == nil {
		return nil, fmt.Errorf("%w: request is nil", promptnode.ErrInvalidParameter)
	}
	chatReq, err := toChatCompletionRequest(req)
	if err != nil {
		return nil, err
	}
	client := p.newClient(apiKey)
	output, err := client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, classifyError(err)
	}
	return fromChatCompletionResponse(output), nil
}

func toChatCompletionRequest(req *promptnode.ChatRequest) (openai.ChatCompletionRequest, error) {
	var chatReq openai.ChatCompletionRequest
	if err := remarshalJSON(req, &chatReq); err != nil {
		return chatReq, fmt.Errorf("%w: %w", promptnode.ErrInvalidParameter, err)
	}
	return chatReq, nil
}

func remarshalJSON(v1, v2 any) error {
	b1, err := json.Marshal(v1)
	if err != nil {
		return fmt.Errorf("marshal v1: %w", err)
	}
	if err := json.Unmarshal(b1, v2); err != nil {
		return fmt.Errorf("unmarshal v2: %w", err)
	}
	return nil
}

func fromChatCompletionResponse(output openai.ChatCompletionResponse) *promptnode.ChatCompletion {
	resp := &promptnode.ChatCompletion{
		ID:      output.ID,
		Model:   output.Model,
		Choices: make([]promptnode.ChatChoice, 0, len(output.Choices)),
		Usage: &promptnode.Usage{
			PromptTokens:     output.Usage.PromptTokens,
			CompletionTokens: output.Usage.CompletionTokens,
			TotalTokens:      output.Usage.TotalTokens,
		},
	}
	for _, choice := range output.Choices {
		resp.Choices = append(resp.Choices, promptnode.ChatChoice{
			Index: choice.Index,
			Message: promptnode.ChoiceMessage{
				Role:    choice.Message.Role,
				Content: choice.Message.Content,
			},
			FinishReason: string(choice.FinishReason),
		})
	}
	return resp
}

// requestErrors are returned by the client before anything is sent.
var requestErrors = []error{
	openai.ErrChatCompletionInvalidModel,
	openai.ErrContentFieldsMisused,
	openai.ErrO1MaxTokensDeprecated,
}

// classifyError maps client errors onto invalid parameter, transport and malformed response failures.
// Error responses are checked before decode errors: their Unwrap may expose a json decode error.
func classifyError(err error) error {
	for _, target := range requestErrors {
		if errors.Is(err, target) {
			return fmt.Errorf("%w: %w", promptnode.ErrInvalidParameter, err)
		}
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%w: status %d: %s", promptnode.ErrTransport, apiErr.HTTPStatusCode, apiErr.Message)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return fmt.Errorf("%w: status %d: %w", promptnode.ErrTransport, reqErr.HTTPStatusCode, err)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return fmt.Errorf("%w: %w", promptnode.ErrTransport, err)
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.As(err, &syntaxErr), errors.As(err, &typeErr),
		errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return fmt.Errorf("%w: decode response body: %w", promptnode.ErrMalformedResponse, err)
	}
	return fmt.Errorf("%w: %w", promptnode.ErrTransport, err)
}
