package promptnode

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/Songmu/flextime"
)

// Refiner runs operations against a chat completion provider.
// It holds no per invocation state and is safe for concurrent use.
type Refiner struct {
	keyProvider   KeyProvider
	imageStore    ImageStore
	modelProvider ModelProvider
	promptBuilder *PromptBuilder
	defaultModel  string
	logger        *slog.Logger
}

type newRefinerOptions struct {
	keyProvider       KeyProvider
	imageStore        ImageStore
	modelProvider     ModelProvider
	modelProviderName string
	promptBuilder     *PromptBuilder
	defaultModel      string
	logger            *slog.Logger
}

type NewRefinerOption func(*newRefinerOptions)

func WithKeyProvider(p KeyProvider) NewRefinerOption {
	return func(o *newRefinerOptions) {
		o.keyProvider = p
	}
}

func WithImageStore(s ImageStore) NewRefinerOption {
	return func(o *newRefinerOptions) {
		o.imageStore = s
	}
}

// WithModelProvider sets the provider directly instead of looking it up by name.
func WithModelProvider(p ModelProvider) NewRefinerOption {
	return func(o *newRefinerOptions) {
		o.modelProvider = p
	}
}

func WithModelProviderName(name string) NewRefinerOption {
	return func(o *newRefinerOptions) {
		o.modelProviderName = name
	}
}

func WithPromptBuilder(b *PromptBuilder) NewRefinerOption {
	return func(o *newRefinerOptions) {
		o.promptBuilder = b
	}
}

// WithDefaultModel sets the model used when an operation does not name one.
func WithDefaultModel(model string) NewRefinerOption {
	return func(o *newRefinerOptions) {
		o.defaultModel = model
	}
}

func WithLogger(logger *slog.Logger) NewRefinerOption {
	return func(o *newRefinerOptions) {
		o.logger = logger
	}
}

func NewRefiner(optFns ...NewRefinerOption) (*Refiner, error) {
	o := newRefinerOptions{
		keyProvider:       NewEnvKeyProvider(),
		modelProviderName: DefaultModelProvider,
		promptBuilder:     defaultPromptBuilder,
		defaultModel:      DefaultModel,
		logger:            slog.Default(),
	}
	for _, fn := range optFns {
		fn(&o)
	}
	if o.keyProvider == nil {
		return nil, fmt.Errorf("key provider is required")
	}
	provider := o.modelProvider
	if provider == nil {
		var err error
		provider, err = GetModelProvider(o.modelProviderName)
		if err != nil {
			return nil, err
		}
	}
	if o.promptBuilder == nil {
		o.promptBuilder = defaultPromptBuilder
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return &Refiner{
		keyProvider:   o.keyProvider,
		imageStore:    o.imageStore,
		modelProvider: provider,
		promptBuilder: o.promptBuilder,
		defaultModel:  coalesce(o.defaultModel, DefaultModel),
		logger:        o.logger,
	}, nil
}

// Run executes op and returns the refined text.
// Every failure is returned as *OperationError.
func (r *Refiner) Run(ctx context.Context, op Operation) (text string, err error) {
	if op == nil {
		return "", &OperationError{Kind: ErrorKindInvalidParameter, Err: fmt.Errorf("%w: operation is nil", ErrInvalidParameter)}
	}
	op = op.WithDefaults(r.defaultModel)
	kind := op.Kind()
	model := op.RequestOptions().Model
	start := flextime.Now()
	defer func() {
		if rec := recover(); rec != nil {
			text = ""
			err = &OperationError{Op: kind, Kind: ErrorKindUnclassified, Err: fmt.Errorf("panic: %v", rec)}
		}
		r.logResult(ctx, kind, model, flextime.Since(start), err)
	}()
	text, err = r.run(ctx, op)
	if err != nil {
		return "", newOperationError(kind, err)
	}
	return text, nil
}

func (r *Refiner) logResult(ctx context.Context, kind OperationKind, model string, elapsed time.Duration, err error) {
	attrs := []any{
		slog.String("operation", string(kind)),
		slog.String("model", model),
		slog.Duration("elapsed", elapsed),
	}
	if err == nil {
		r.logger.DebugContext(ctx, "operation completed", attrs...)
		return
	}
	var opErr *OperationError
	if !errors.As(err, &opErr) {
		return
	}
	attrs = append(attrs, slog.String("kind", opErr.Kind.String()), slog.String("error", opErr.Err.Error()))
	switch opErr.Kind {
	case ErrorKindTransport, ErrorKindExtraction, ErrorKindUnclassified:
		r.logger.ErrorContext(ctx, "operation failed", attrs...)
	default:
		r.logger.WarnContext(ctx, "operation rejected", attrs...)
	}
}

func (r *Refiner) run(ctx context.Context, op Operation) (string, error) {
	if err := op.Validate(); err != nil {
		return "", err
	}
	apiKey, err := r.keyProvider.APIKey(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrMissingCredential, err)
	}
	if apiKey == "" {
		return "", ErrMissingCredential
	}
	var encoded *EncodedImage
	if p, ok := op.(AnalyzeImageParams); ok {
		img, err := r.acquireImage(ctx, p)
		if err != nil {
			return "", err
		}
		encoded, err = EncodeImage(img)
		if err != nil {
			return "", err
		}
	}
	prompt, err := r.promptBuilder.Build(op)
	if err != nil {
		return "", fmt.Errorf("build prompt: %w", err)
	}
	opts := op.RequestOptions()
	req := AssembleRequest(opts.Model, prompt, encoded, opts.MaxTokens, opts.Temperature)

	callCtx, cancel := context.WithTimeout(ctx, RemoteCallTimeout)
	defer cancel()
	resp, err := r.modelProvider.CreateChatCompletion(callCtx, apiKey, req)
	if err != nil {
		if classifyError(err) == ErrorKindUnclassified {
			return "", fmt.Errorf("%w: %w", ErrTransport, err)
		}
		return "", err
	}
	return ExtractText(resp)
}

func (r *Refiner) acquireImage(ctx context.Context, p AnalyzeImageParams) (image.Image, error) {
	if p.Image != nil {
		return p.Image, nil
	}
	if r.imageStore == nil {
		return nil, fmt.Errorf("%w: no image store configured for %q", ErrEncoding, p.ImageName)
	}
	img, err := r.imageStore.GetImage(ctx, p.ImageName)
	if err != nil {
		if errors.Is(err, ErrEncoding) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: get image %q: %w", ErrEncoding, p.ImageName, err)
	}
	return img, nil
}

// Invoke executes op and returns either the refined text or a diagnostic message.
func (r *Refiner) Invoke(ctx context.Context, op Operation) string {
	text, err := r.Run(ctx, op)
	if err == nil {
		return text
	}
	var opErr *OperationError
	if errors.As(err, &opErr) {
		return opErr.Diagnostic()
	}
	return err.Error()
}

func (r *Refiner) AnalyzeImage(ctx context.Context, params AnalyzeImageParams) (string, error) {
	return r.Run(ctx, params)
}

func (r *Refiner) ExpandPrompt(ctx context.Context, params ExpandPromptParams) (string, error) {
	return r.Run(ctx, params)
}

func (r *Refiner) TranslatePrompt(ctx context.Context, params TranslatePromptParams) (string, error) {
	return r.Run(ctx, params)
}
