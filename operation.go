package promptnode

import (
	"fmt"
	"image"
	"slices"
	"strings"
)

type OperationKind string

const (
	OperationAnalyzeImage    OperationKind = "analyze_image"
	OperationExpandPrompt    OperationKind = "expand_prompt"
	OperationTranslatePrompt OperationKind = "translate_prompt"
)

type Architecture string

const (
	ArchitectureSentenceBased Architecture = "sentence_based"
	ArchitectureTagBased      Architecture = "tag_based"
)

func (a Architecture) Valid() bool {
	return a == ArchitectureSentenceBased || a == ArchitectureTagBased
}

const (
	DefaultModel          = "gpt-4o-mini"
	DefaultTargetLanguage = "English"
)

// Operation is one of AnalyzeImageParams, ExpandPromptParams or TranslatePromptParams.
type Operation interface {
	Kind() OperationKind
	Validate() error
	RequestOptions() RequestOptions
	WithDefaults(model string) Operation
	templateData() map[string]any
}

// RequestOptions are the request level parameters of an operation.
type RequestOptions struct {
	Model       string
	MaxTokens   int
	Temperature *float32
}

type AnalyzeImageParams struct {
	ImageName    string       `json:"image_name" jsonschema:"minLength=1,description=Name of the image in the image store"`
	Architecture Architecture `json:"model_architecture,omitempty" jsonschema:"enum=sentence_based,enum=tag_based,default=sentence_based,description=sentence_based for phrase prompts and tag_based for SD1.5 tag prompts"`
	Model        string       `json:"model,omitempty" jsonschema:"default=gpt-4o-mini,example=gpt-4o,example=gpt-4-turbo,description=Chat model used for image analysis"`
	MaxTokens    int          `json:"max_tokens,omitempty" jsonschema:"minimum=1,maximum=4000,default=1000,description=Maximum number of tokens in the response"`

	// Image, when set, is used instead of looking ImageName up in the image store.
	Image image.Image `json:"-"`
}

type ExpandPromptParams struct {
	Prompt       string       `json:"prompt" jsonschema:"description=The prompt to expand and enhance"`
	Architecture Architecture `json:"model_architecture,omitempty" jsonschema:"enum=tag_based,enum=sentence_based,default=tag_based,description=sentence_based for phrase prompts and tag_based for SD1.5 tag prompts"`
	Model        string       `json:"model,omitempty" jsonschema:"default=gpt-4o-mini,example=gpt-4o,example=gpt-4-turbo,description=Chat model used for prompt expansion"`
	MaxTokens    int          `json:"max_tokens,omitempty" jsonschema:"minimum=1,maximum=2000,default=500,description=Maximum number of tokens in the response"`
}

type TranslatePromptParams struct {
	Prompt         string `json:"prompt" jsonschema:"description=The prompt to translate"`
	TargetLanguage string `json:"target_language,omitempty" jsonschema:"default=English,description=Language to translate into"`
	Model          string `json:"model,omitempty" jsonschema:"default=gpt-4o-mini,example=gpt-4o,example=gpt-4-turbo,description=Chat model used for translation"`
	MaxTokens      int    `json:"max_tokens,omitempty" jsonschema:"minimum=1,maximum=2000,default=500,description=Maximum number of tokens in the response"`
}

const (
	expandTemperature    float32 = 0.7
	translateTemperature float32 = 0.3
)

func (p AnalyzeImageParams) Kind() OperationKind { return OperationAnalyzeImage }

func (p AnalyzeImageParams) Validate() error {
	if p.Image == nil && strings.TrimSpace(p.ImageName) == "" {
		return fmt.Errorf("%w: image_name is required", ErrInvalidParameter)
	}
	if err := validateArchitecture(p.Architecture); err != nil {
		return err
	}
	return validateRequest(p.Model, p.MaxTokens, 4000)
}

func (p AnalyzeImageParams) RequestOptions() RequestOptions {
	return RequestOptions{Model: p.Model, MaxTokens: p.MaxTokens}
}

func (p AnalyzeImageParams) WithDefaults(model string) Operation {
	if p.Architecture == "" {
		p.Architecture = ArchitectureSentenceBased
	}
	p.Model = coalesce(p.Model, model, DefaultModel)
	if p.MaxTokens == 0 {
		p.MaxTokens = 1000
	}
	return p
}

func (p AnalyzeImageParams) templateData() map[string]any {
	return map[string]any{
		"architecture": string(p.Architecture),
		"image_name":   p.ImageName,
	}
}

func (p ExpandPromptParams) Kind() OperationKind { return OperationExpandPrompt }

func (p ExpandPromptParams) Validate() error {
	if err := validateArchitecture(p.Architecture); err != nil {
		return err
	}
	return validateRequest(p.Model, p.MaxTokens, 2000)
}

func (p ExpandPromptParams) RequestOptions() RequestOptions {
	return RequestOptions{Model: p.Model, MaxTokens: p.MaxTokens, Temperature: ptr(expandTemperature)}
}

func (p ExpandPromptParams) WithDefaults(model string) Operation {
	if p.Architecture == "" {
		p.Architecture = ArchitectureTagBased
	}
	p.Model = coalesce(p.Model, model, DefaultModel)
	if p.MaxTokens == 0 {
		p.MaxTokens = 500
	}
	return p
}

func (p ExpandPromptParams) templateData() map[string]any {
	return map[string]any{
		"architecture": string(p.Architecture),
		"prompt":       p.Prompt,
	}
}

func (p TranslatePromptParams) Kind() OperationKind { return OperationTranslatePrompt }

func (p TranslatePromptParams) Validate() error {
	return validateRequest(p.Model, p.MaxTokens, 2000)
}

func (p TranslatePromptParams) RequestOptions() RequestOptions {
	return RequestOptions{Model: p.Model, MaxTokens: p.MaxTokens, Temperature: ptr(translateTemperature)}
}

func (p TranslatePromptParams) WithDefaults(model string) Operation {
	p.TargetLanguage = coalesce(strings.TrimSpace(p.TargetLanguage), DefaultTargetLanguage)
	p.Model = coalesce(p.Model, model, DefaultModel)
	if p.MaxTokens == 0 {
		p.MaxTokens = 500
	}
	return p
}

func (p TranslatePromptParams) templateData() map[string]any {
	return map[string]any{
		"prompt":          p.Prompt,
		"target_language": p.TargetLanguage,
	}
}

func validateArchitecture(a Architecture) error {
	if !a.Valid() {
		return fmt.Errorf("%w: model_architecture must be %q or %q, got %q", ErrInvalidParameter, ArchitectureSentenceBased, ArchitectureTagBased, a)
	}
	return nil
}

func validateRequest(model string, maxTokens int, maxTokensLimit int) error {
	if strings.TrimSpace(model) == "" {
		return fmt.Errorf("%w: model is required", ErrInvalidParameter)
	}
	if maxTokens < 1 || maxTokens > maxTokensLimit {
		return fmt.Errorf("%w: max_tokens must be between 1 and %d, got %d", ErrInvalidParameter, maxTokensLimit, maxTokens)
	}
	return nil
}

// OperationInfo is the registration metadata a host shows for an operation.
type OperationInfo struct {
	Kind        OperationKind `json:"name"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Tags        []string      `json:"tags"`
	Category    string        `json:"category"`
	Version     string        `json:"version"`

	errorContext string
}

var operationInfos = []OperationInfo{
	{
		Kind:         OperationAnalyzeImage,
		Title:        "OpenAI Analyze Image",
		Description:  "Analyze an image and describe it as a prompt for image generation.",
		Tags:         []string{"image", "analysis", "openai", "vision"},
		Category:     "image_analysis",
		Version:      "1.0.0",
		errorContext: "OpenAI analysis",
	},
	{
		Kind:         OperationExpandPrompt,
		Title:        "OpenAI Expand Prompt",
		Description:  "Expand and enhance an image generation prompt.",
		Tags:         []string{"prompt", "text", "openai", "enhancement"},
		Category:     "prompt_engineering",
		Version:      "1.0.0",
		errorContext: "OpenAI prompt expansion",
	},
	{
		Kind:         OperationTranslatePrompt,
		Title:        "Translate Prompt",
		Description:  "Translate an image generation prompt, to English by default.",
		Tags:         []string{"prompt", "translation", "openai", "text"},
		Category:     "prompt_engineering",
		Version:      "1.0.0",
		errorContext: "prompt translation",
	},
}

// Operations returns the metadata of every supported operation.
func Operations() []OperationInfo {
	return slices.Clone(operationInfos)
}

func (k OperationKind) Info() OperationInfo {
	for _, info := range operationInfos {
		if info.Kind == k {
			return info
		}
	}
	return OperationInfo{Kind: k, Title: string(k), errorContext: string(k)}
}

func (k OperationKind) Valid() bool {
	return slices.ContainsFunc(operationInfos, func(info OperationInfo) bool {
		return info.Kind == k
	})
}

func ptr[T any](v T) *T {
	return &v
}

func coalesce[T comparable](values ...T) T {
	var zero T
	for _, v := range values {
		if v != zero {
			return v
		}
	}
	return zero
}
