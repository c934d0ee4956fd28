package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/alecthomas/kong"
	"github.com/fatih/color"
	"github.com/fujiwara/ridge"
	"github.com/mashiike/promptnode"
	"github.com/mashiike/promptnode/api"
	"github.com/mashiike/promptnode/mcp"
	"github.com/mashiike/promptnode/provider/openai"
	"github.com/mashiike/slogutils"
)

type CLI struct {
	LogFormat  string            `help:"Log format" enum:"json,text" default:"json"`
	Color      bool              `help:"Enable color output" negatable:"" default:"true"`
	Debug      bool              `help:"Enable debug mode" env:"DEBUG"`
	Config     string            `help:"Jsonnet config file" env:"PROMPTNODE_CONFIG" type:"path"`
	ExtVar     map[string]string `help:"External variables external string values for Jsonnet" env:"EXT_VAR"`
	EnvFile    []string          `help:"dotenv files searched for the API key" default:".env"`
	APIKey     string            `help:"OpenAI API key, overrides config and environment" name:"api-key"`
	BaseURL    string            `help:"OpenAI compatible endpoint base URL" env:"OPENAI_BASE_URL" name:"base-url"`
	Images     string            `help:"Images directory used to resolve image names"`
	Prompts    string            `help:"Directory of prompt template overrides"`
	SoftErrors bool              `help:"Print failures as diagnostic text on stdout and exit 0"`

	AnalyzeImage AnalyzeImageOption `cmd:"" help:"Describe an image as an image generation prompt"`
	Expand       ExpandOption       `cmd:"" help:"Expand an image generation prompt"`
	Translate    TranslateOption    `cmd:"" help:"Translate an image generation prompt"`
	Operations   struct{}           `cmd:"" help:"List operations"`
	Schema       SchemaOption       `cmd:"" help:"Show the input JSON Schema of an operation"`
	Serve        ServeOption        `cmd:"" help:"Serve the HTTP API"`
	MCP          MCPOption          `cmd:"" name:"mcp" help:"Serve operations as MCP tools"`
	Version      struct{}           `cmd:"" help:"Show version"`
}

type RequestOption struct {
	Model     string `help:"Chat model" env:"PROMPTNODE_MODEL"`
	MaxTokens int    `help:"Maximum number of tokens in the response"`
}

type AnalyzeImageOption struct {
	RequestOption
	Image        string `arg:"" help:"Image name in the images directory, or an image file path"`
	Architecture string `help:"Prompt style" enum:"sentence_based,tag_based" default:"sentence_based"`
}

type ExpandOption struct {
	RequestOption
	Prompt       string `arg:"" help:"Prompt to expand"`
	Architecture string `help:"Prompt style" enum:"sentence_based,tag_based" default:"tag_based"`
}

type TranslateOption struct {
	RequestOption
	Prompt         string `arg:"" help:"Prompt to translate"`
	TargetLanguage string `help:"Target language" default:"English"`
}

type SchemaOption struct {
	Operation string `arg:"" help:"Operation name" enum:"analyze_image,expand_prompt,translate_prompt"`
	Example   bool   `help:"Print an example payload instead of the schema"`
}

type ServeOption struct {
	Addr        string   `help:"Listen address" default:":8080" env:"PROMPTNODE_ADDR"`
	AllowOrigin []string `help:"Allowed CORS origins"`
}

type MCPOption struct {
	Transport string `help:"MCP transport" enum:"stdio,sse" default:"stdio"`
	Addr      string `help:"Listen address of the sse transport" default:":8080"`
}

func newLogger(level slog.Level, format string, c bool) *slog.Logger {
	var f func(io.Writer, *slog.HandlerOptions) slog.Handler
	switch format {
	case "text":
		f = func(w io.Writer, ho *slog.HandlerOptions) slog.Handler {
			return slog.NewTextHandler(w, ho)
		}
	default:
		f = func(w io.Writer, ho *slog.HandlerOptions) slog.Handler {
			return slog.NewJSONHandler(w, ho)
		}
	}
	var modifierFuncs map[slog.Level]slogutils.ModifierFunc
	if c {
		modifierFuncs = map[slog.Level]slogutils.ModifierFunc{
			slog.LevelDebug: slogutils.Color(color.FgBlack),
			slog.LevelInfo:  nil,
			slog.LevelWarn:  slogutils.Color(color.FgYellow),
			slog.LevelError: slogutils.Color(color.FgRed, color.Bold),
		}
	}
	middleware := slogutils.NewMiddleware(
		f,
		slogutils.MiddlewareOptions{
			Writer:        os.Stderr,
			ModifierFuncs: modifierFuncs,
			HandlerOptions: &slog.HandlerOptions{
				Level: level,
			},
		},
	)
	logger := slog.New(middleware)
	return logger
}

func (c *CLI) Run(ctx context.Context) int {
	k := kong.Parse(c,
		kong.Name("promptnode"),
		kong.Description("promptnode refines image generation prompts with a chat completion model."),
		kong.UsageOnError(),
	)
	logLevel := slog.LevelInfo
	if c.Debug {
		logLevel = slog.LevelDebug
	}
	logger := newLogger(logLevel, c.LogFormat, c.Color)
	slog.SetDefault(logger)
	if err := c.run(ctx, k.Command(), logger, os.Stdout); err != nil {
		logger.Error("runtime error", "details", err)
		return 1
	}
	return 0
}

func (c *CLI) run(ctx context.Context, cmd string, logger *slog.Logger, w io.Writer) error {
	switch cmd {
	case "version":
		fmt.Fprintf(w, "promptnode version %s\n", promptnode.Version)
		return nil
	case "operations":
		return writeJSON(w, promptnode.Operations())
	case "schema <operation>":
		return c.runSchema(w)
	}
	cfg, err := c.loadConfig()
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	refiner, builder, err := c.newRefiner(cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	switch cmd {
	case "analyze-image <image>":
		op, err := c.AnalyzeImage.operation()
		if err != nil {
			return c.output(w, &promptnode.OperationError{Op: promptnode.OperationAnalyzeImage, Kind: promptnode.ErrorKindEncoding, Err: err})
		}
		return c.runOperation(ctx, w, refiner, op)
	case "expand <prompt>":
		return c.runOperation(ctx, w, refiner, promptnode.ExpandPromptParams{
			Prompt:       c.Expand.Prompt,
			Architecture: promptnode.Architecture(c.Expand.Architecture),
			Model:        c.Expand.Model,
			MaxTokens:    c.Expand.MaxTokens,
		})
	case "translate <prompt>":
		return c.runOperation(ctx, w, refiner, promptnode.TranslatePromptParams{
			Prompt:         c.Translate.Prompt,
			TargetLanguage: c.Translate.TargetLanguage,
			Model:          c.Translate.Model,
			MaxTokens:      c.Translate.MaxTokens,
		})
	case "serve":
		h := api.NewRouter(api.New(refiner, logger), c.Serve.AllowOrigin...)
		logger.InfoContext(ctx, "serve http api", "addr", c.Serve.Addr)
		ridge.Run(c.Serve.Addr, "/", h)
		return nil
	case "mcp":
		s, err := mcp.NewServer("promptnode", promptnode.Version, refiner, builder)
		if err != nil {
			return fmt.Errorf("initialize mcp server: %w", err)
		}
		if c.MCP.Transport == "sse" {
			logger.InfoContext(ctx, "serve mcp sse", "addr", c.MCP.Addr)
			return s.ListenAndServeSSE(c.MCP.Addr)
		}
		return s.ServeStdio()
	default:
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

// operation uses the argument as a file when it exists, otherwise as an image name.
func (o *AnalyzeImageOption) operation() (promptnode.Operation, error) {
	params := promptnode.AnalyzeImageParams{
		ImageName:    o.Image,
		Architecture: promptnode.Architecture(o.Architecture),
		Model:        o.Model,
		MaxTokens:    o.MaxTokens,
	}
	stat, err := os.Stat(o.Image)
	if err != nil || stat.IsDir() {
		return params, nil
	}
	bs, err := os.ReadFile(o.Image)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", o.Image, err)
	}
	img, err := promptnode.DecodeImage(bs)
	if err != nil {
		return nil, err
	}
	params.ImageName = filepath.Base(o.Image)
	params.Image = img
	return params, nil
}

func (c *CLI) runOperation(ctx context.Context, w io.Writer, refiner *promptnode.Refiner, op promptnode.Operation) error {
	text, err := refiner.Run(ctx, op)
	if err != nil {
		return c.output(w, err)
	}
	fmt.Fprintln(w, text)
	return nil
}

func (c *CLI) output(w io.Writer, err error) error {
	var opErr *promptnode.OperationError
	if !c.SoftErrors || !errors.As(err, &opErr) {
		return err
	}
	fmt.Fprintln(w, opErr.Diagnostic())
	return nil
}

func (c *CLI) runSchema(w io.Writer) error {
	schema, err := promptnode.InputSchema(promptnode.OperationKind(c.Schema.Operation))
	if err != nil {
		return err
	}
	if c.Schema.Example {
		return writeJSON(w, promptnode.ExamplePayload(schema))
	}
	return writeJSON(w, schema)
}

func (c *CLI) loadConfig() (*promptnode.Config, error) {
	if c.Config == "" {
		return &promptnode.Config{}, nil
	}
	cfg, err := promptnode.LoadConfigFile(c.Config, c.ExtVar)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *CLI) keyProvider() promptnode.KeyProvider {
	var chain promptnode.ChainKeyProvider
	if c.APIKey != "" {
		chain = append(chain, promptnode.StaticKeyProvider(c.APIKey))
	}
	if c.Config != "" {
		chain = append(chain, &promptnode.ConfigFileKeyProvider{Path: c.Config, ExtVars: c.ExtVar})
	}
	return append(chain, promptnode.NewEnvKeyProvider(c.EnvFile...))
}

func (c *CLI) newRefiner(cfg *promptnode.Config, logger *slog.Logger) (*promptnode.Refiner, *promptnode.PromptBuilder, error) {
	builder := promptnode.NewPromptBuilder(nil)
	if dir := firstNonEmpty(c.Prompts, cfg.PromptsDir); dir != "" {
		builder = promptnode.NewPromptBuilder(os.DirFS(dir))
	}
	opts := []promptnode.NewRefinerOption{
		promptnode.WithLogger(logger),
		promptnode.WithKeyProvider(c.keyProvider()),
		promptnode.WithPromptBuilder(builder),
	}
	if cfg.Model != "" {
		opts = append(opts, promptnode.WithDefaultModel(cfg.Model))
	}
	if dir := firstNonEmpty(c.Images, cfg.ImagesDir); dir != "" {
		opts = append(opts, promptnode.WithImageStore(promptnode.NewDirImageStoreFromPath(dir)))
	}
	if baseURL := firstNonEmpty(c.BaseURL, cfg.BaseURL); baseURL != "" {
		opts = append(opts, promptnode.WithModelProvider(openai.New(openai.WithBaseURL(baseURL))))
	} else if cfg.Provider != "" {
		opts = append(opts, promptnode.WithModelProviderName(cfg.Provider))
	}
	refiner, err := promptnode.NewRefiner(opts...)
	if err != nil {
		return nil, nil, err
	}
	return refiner, builder, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return nil
}
