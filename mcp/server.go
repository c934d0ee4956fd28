package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/fujiwara/ridge"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/mashiike/promptnode"
)

// Runner executes one operation.
type Runner interface {
	Run(ctx context.Context, op promptnode.Operation) (string, error)
}

type Server struct {
	s      *server.MCPServer
	runner Runner
}

// NewServer publishes every operation as a tool and its prompt template as a prompt.
func NewServer(serverName string, version string, runner Runner, builder *promptnode.PromptBuilder) (*Server, error) {
	s := server.NewMCPServer(
		serverName,
		version,
		server.WithToolCapabilities(true),
		server.WithPromptCapabilities(true),
	)
	if builder == nil {
		builder = promptnode.NewPromptBuilder(nil)
	}
	for _, info := range promptnode.Operations() {
		if err := addTool(s, info, runner); err != nil {
			return nil, err
		}
		addPrompt(s, info, builder)
	}
	return &Server{s: s, runner: runner}, nil
}

// MCPServer returns the underlying server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.s
}

func addTool(s *server.MCPServer, info promptnode.OperationInfo, runner Runner) error {
	schema, err := promptnode.InputSchema(info.Kind)
	if err != nil {
		return fmt.Errorf("input schema of %s: %w", info.Kind, err)
	}
	bs, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("marshal input schema of %s: %w", info.Kind, err)
	}
	tool := mcp.NewToolWithRawSchema(string(info.Kind), info.Description, bs)
	s.AddTool(tool, newToolHandler(info.Kind, runner))
	slog.Debug("add mcp tool", "name", info.Kind)
	return nil
}

func addPrompt(s *server.MCPServer, info promptnode.OperationInfo, builder *promptnode.PromptBuilder) {
	options := []mcp.PromptOption{
		mcp.WithPromptDescription(info.Description),
	}
	switch info.Kind {
	case promptnode.OperationAnalyzeImage:
		options = append(options,
			mcp.WithArgument("model_architecture", mcp.ArgumentDescription("sentence_based or tag_based")),
		)
	case promptnode.OperationExpandPrompt:
		options = append(options,
			mcp.WithArgument("prompt", mcp.ArgumentDescription("The prompt to expand"), mcp.RequiredArgument()),
			mcp.WithArgument("model_architecture", mcp.ArgumentDescription("sentence_based or tag_based")),
		)
	case promptnode.OperationTranslatePrompt:
		options = append(options,
			mcp.WithArgument("prompt", mcp.ArgumentDescription("The prompt to translate"), mcp.RequiredArgument()),
			mcp.WithArgument("target_language", mcp.ArgumentDescription("Language to translate into")),
		)
	}
	prompt := mcp.NewPrompt(string(info.Kind), options...)
	s.AddPrompt(prompt, newPromptHandler(info, builder))
	slog.Debug("add mcp prompt", "name", info.Kind)
}

func (s *Server) ListenAndServeSSE(addr string, opts ...server.SSEOption) error {
	baseURL := addr
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		baseURL = "https://" + baseURL
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Errorf("failed to parse address: %w", err)
	}
	if u.Hostname() == "" {
		u.Host = "localhost" + u.Host
	}
	if hostname := u.Hostname(); hostname == "localhost" || hostname == "127.0.0.1" {
		u.Scheme = "http"
	}
	options := []server.SSEOption{
		server.WithBaseURL(u.String()),
	}
	options = append(options, opts...)
	sseServer := server.NewSSEServer(s.s, options...)
	ridge.Run(addr, "/", sseServer)
	return nil
}

func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.s)
}

func errorResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{
			&mcp.TextContent{
				Type: "text",
				Text: text,
			},
		},
	}
}

func newToolHandler(kind promptnode.OperationKind, runner Runner) server.ToolHandlerFunc {
	return func(ctx context.Context, mcpReq mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := mcpReq.Params.Arguments
		if args == nil {
			args = map[string]any{}
		}
		op, err := promptnode.DecodeOperation(kind, args)
		if err != nil {
			return errorResult(fmt.Sprintf("invalid arguments: %v", err)), nil
		}
		text, err := runner.Run(ctx, op)
		if err != nil {
			var opErr *promptnode.OperationError
			if errors.As(err, &opErr) {
				return errorResult(opErr.Diagnostic()), nil
			}
			return errorResult(fmt.Sprintf("failed to execute: %v", err)), nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{
					Type: "text",
					Text: text,
				},
			},
		}, nil
	}
}

func promptOperation(kind promptnode.OperationKind, args map[string]string) (promptnode.Operation, error) {
	switch kind {
	case promptnode.OperationAnalyzeImage:
		return promptnode.AnalyzeImageParams{
			Architecture: promptnode.Architecture(args["model_architecture"]),
		}, nil
	case promptnode.OperationExpandPrompt:
		return promptnode.ExpandPromptParams{
			Prompt:       args["prompt"],
			Architecture: promptnode.Architecture(args["model_architecture"]),
		}, nil
	case promptnode.OperationTranslatePrompt:
		return promptnode.TranslatePromptParams{
			Prompt:         args["prompt"],
			TargetLanguage: args["target_language"],
		}, nil
	default:
		return nil, fmt.Errorf("unknown operation %q", kind)
	}
}

func newPromptHandler(info promptnode.OperationInfo, builder *promptnode.PromptBuilder) server.PromptHandlerFunc {
	return func(ctx context.Context, request mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		op, err := promptOperation(info.Kind, request.Params.Arguments)
		if err != nil {
			return nil, err
		}
		rendered, err := builder.Build(op)
		if err != nil {
			return nil, fmt.Errorf("failed to render prompt: %w", err)
		}
		text := rendered.User
		if rendered.System != "" {
			// prompts carry no system role
			text = rendered.System + "\n\n" + rendered.User
		}
		return &mcp.GetPromptResult{
			Description: info.Description,
			Messages: []mcp.PromptMessage{
				{
					Role: mcp.RoleUser,
					Content: &mcp.TextContent{
						Type: "text",
						Text: text,
					},
				},
			},
		}, nil
	}
}
