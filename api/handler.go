package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/mashiike/promptnode"
)

// Runner executes one operation.
type Runner interface {
	Run(ctx context.Context, op promptnode.Operation) (string, error)
}

type Handler struct {
	runner Runner
	logger *slog.Logger
}

func New(runner Runner, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		runner: runner,
		logger: logger,
	}
}

func (h *Handler) Attach(r chi.Router) {
	r.Get("/operations", h.handleOperations)

	r.Post("/llm/analyze", h.handleOperation(promptnode.OperationAnalyzeImage))
	r.Post("/llm/generate", h.handleOperation(promptnode.OperationExpandPrompt))
	r.Post("/llm/translate", h.handleOperation(promptnode.OperationTranslatePrompt))
}

// NewRouter mounts h under /v1. Cross origin requests are allowed from allowedOrigins.
func NewRouter(h *Handler, allowedOrigins ...string) http.Handler {
	r := chi.NewRouter()
	if len(allowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: allowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", "Authorization"},
			MaxAge:         300,
		}))
	}
	r.Route("/v1", h.Attach)
	return r
}

type Request struct {
	Text              string  `json:"text"`
	Model             *string `json:"model,omitempty"`
	ModelName         *string `json:"model_name,omitempty"`
	ModelArchitecture *string `json:"model_architecture,omitempty"`
	MaxTokens         *int    `json:"max_tokens,omitempty"`
	TargetLanguage    *string `json:"target_language,omitempty"`
}

type Response struct {
	Text string `json:"text"`
}

type ErrorResponse struct {
	Error   promptnode.ErrorKind `json:"error"`
	Message string               `json:"message"`
	Status  int                  `json:"status"`
}

// payload maps the request onto the parameters of kind.
func (req *Request) payload(kind promptnode.OperationKind) map[string]any {
	p := make(map[string]any)
	switch kind {
	case promptnode.OperationAnalyzeImage:
		p["image_name"] = req.Text
	default:
		p["prompt"] = req.Text
	}
	if req.Model != nil {
		p["model"] = *req.Model
	} else if req.ModelName != nil {
		p["model"] = *req.ModelName
	}
	if req.MaxTokens != nil {
		p["max_tokens"] = *req.MaxTokens
	}
	switch kind {
	case promptnode.OperationTranslatePrompt:
		if req.TargetLanguage != nil {
			p["target_language"] = *req.TargetLanguage
		}
	default:
		if req.ModelArchitecture != nil {
			p["model_architecture"] = *req.ModelArchitecture
		}
	}
	return p
}

func (h *Handler) handleOperations(w http.ResponseWriter, r *http.Request) {
	writeJson(w, promptnode.Operations())
}

func (h *Handler) handleOperation(kind promptnode.OperationKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req Request
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, promptnode.ErrorKindInvalidParameter, fmt.Sprintf("Invalid request body: %v", err))
			return
		}
		op, err := promptnode.DecodeOperation(kind, req.payload(kind))
		if err != nil {
			writeError(w, http.StatusBadRequest, promptnode.ErrorKindInvalidParameter, fmt.Sprintf("Invalid parameter: %v", err))
			return
		}
		text, err := h.runner.Run(r.Context(), op)
		if err != nil {
			var opErr *promptnode.OperationError
			if !errors.As(err, &opErr) {
				opErr = &promptnode.OperationError{Op: kind, Kind: promptnode.ErrorKindUnclassified, Err: err}
			}
			h.logger.DebugContext(r.Context(), "operation error response", "operation", kind, "kind", opErr.Kind.String())
			writeError(w, statusCode(opErr.Kind), opErr.Kind, opErr.Diagnostic())
			return
		}
		writeJson(w, Response{Text: text})
	}
}

func statusCode(kind promptnode.ErrorKind) int {
	switch kind {
	case promptnode.ErrorKindMissingCredential:
		return http.StatusUnauthorized
	case promptnode.ErrorKindInvalidParameter:
		return http.StatusBadRequest
	case promptnode.ErrorKindTransport, promptnode.ErrorKindExtraction:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJson(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	enc.Encode(v)
}

func writeError(w http.ResponseWriter, code int, kind promptnode.ErrorKind, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	enc.Encode(ErrorResponse{
		Error:   kind,
		Message: message,
		Status:  code,
	})
}
