package promptnode_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Songmu/flextime"
	"github.com/mashiike/promptnode"
	openaiprovider "github.com/mashiike/promptnode/provider/openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubServer struct {
	*httptest.Server
	calls    atomic.Int32
	lastBody atomic.Value
}

func newStubServer(t *testing.T, status int, body string) *stubServer {
	t.Helper()
	s := &stubServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.calls.Add(1)
		bs, _ := io.ReadAll(r.Body)
		s.lastBody.Store(bs)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		io.WriteString(w, body)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *stubServer) request(t *testing.T) map[string]any {
	t.Helper()
	bs, ok := s.lastBody.Load().([]byte)
	require.True(t, ok, "no request received")
	var m map[string]any
	require.NoError(t, json.Unmarshal(bs, &m))
	return m
}

func completionBody(content string) string {
	bs, _ := json.Marshal(map[string]any{
		"id":    "chatcmpl-1",
		"model": "gpt-4o-mini",
		"choices": []any{
			map[string]any{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": content},
				"finish_reason": "stop",
			},
		},
	})
	return string(bs)
}

func newTestRefiner(t *testing.T, baseURL string, optFns ...promptnode.NewRefinerOption) *promptnode.Refiner {
	t.Helper()
	opts := []promptnode.NewRefinerOption{
		promptnode.WithKeyProvider(promptnode.StaticKeyProvider("sk-test")),
		promptnode.WithModelProvider(openaiprovider.New(openaiprovider.WithBaseURL(baseURL))),
		promptnode.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	r, err := promptnode.NewRefiner(append(opts, optFns...)...)
	require.NoError(t, err)
	return r
}

func redSquare() image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: 255, A: 255})
		}
	}
	return img
}

func TestRefiner__AnalyzeImageTagBased(t *testing.T) {
	srv := newStubServer(t, http.StatusOK, `{"choices":[{"message":{"content":"red, square, minimal"}}]}`)
	r := newTestRefiner(t, srv.URL+"/v1")

	text, err := r.AnalyzeImage(context.Background(), promptnode.AnalyzeImageParams{
		ImageName:    "red.png",
		Image:        redSquare(),
		Architecture: promptnode.ArchitectureTagBased,
	})
	require.NoError(t, err)
	assert.Equal(t, "red, square, minimal", text)

	body := srv.request(t)
	assert.Equal(t, "gpt-4o-mini", body["model"])
	assert.EqualValues(t, 1000, body["max_tokens"])
	assert.NotContains(t, body, "temperature")
	messages := body["messages"].([]any)
	require.Len(t, messages, 1)
	user := messages[0].(map[string]any)
	assert.Equal(t, "user", user["role"])
	content := user["content"].([]any)
	require.Len(t, content, 2)
	assert.Equal(t, "text", content[0].(map[string]any)["type"])
	assert.Contains(t, content[0].(map[string]any)["text"], "COMMA-SEPARATED TAGS ONLY")
	imagePart := content[1].(map[string]any)
	assert.Equal(t, "image_url", imagePart["type"])
	imageURL := imagePart["image_url"].(map[string]any)
	assert.Equal(t, "high", imageURL["detail"])
	assert.Regexp(t, `^data:image/jpeg;base64,`, imageURL["url"])
}

func TestRefiner__AnalyzeImageFromStore(t *testing.T) {
	srv := newStubServer(t, http.StatusOK, completionBody("a red square"))
	var requested string
	store := promptnode.ImageStoreFunc(func(_ context.Context, name string) (image.Image, error) {
		requested = name
		return redSquare(), nil
	})
	r := newTestRefiner(t, srv.URL+"/v1", promptnode.WithImageStore(store))

	text, err := r.AnalyzeImage(context.Background(), promptnode.AnalyzeImageParams{ImageName: "red.png"})
	require.NoError(t, err)
	assert.Equal(t, "a red square", text)
	assert.Equal(t, "red.png", requested)
}

func TestRefiner__AnalyzeImageStoreFailure(t *testing.T) {
	srv := newStubServer(t, http.StatusOK, completionBody("unused"))
	store := promptnode.ImageStoreFunc(func(_ context.Context, name string) (image.Image, error) {
		return nil, promptnode.ErrImageNotFound
	})
	r := newTestRefiner(t, srv.URL+"/v1", promptnode.WithImageStore(store))

	_, err := r.AnalyzeImage(context.Background(), promptnode.AnalyzeImageParams{ImageName: "missing.png"})
	var opErr *promptnode.OperationError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, promptnode.ErrorKindEncoding, opErr.Kind)
	assert.ErrorIs(t, err, promptnode.ErrImageNotFound)
	assert.Zero(t, srv.calls.Load())
}

func TestRefiner__ExpandPromptSentenceBased(t *testing.T) {
	srv := newStubServer(t, http.StatusOK, completionBody("  A fluffy orange cat sits on a windowsill.\n"))
	r := newTestRefiner(t, srv.URL+"/v1")

	text, err := r.ExpandPrompt(context.Background(), promptnode.ExpandPromptParams{
		Prompt:       "a cat",
		Architecture: promptnode.ArchitectureSentenceBased,
	})
	require.NoError(t, err)
	assert.Equal(t, "A fluffy orange cat sits on a windowsill.", text)

	body := srv.request(t)
	assert.InDelta(t, 0.7, body["temperature"], 1e-6)
	assert.EqualValues(t, 500, body["max_tokens"])
	messages := body["messages"].([]any)
	require.Len(t, messages, 2)
	assert.Equal(t, "system", messages[0].(map[string]any)["role"])
	assert.Equal(t, "user", messages[1].(map[string]any)["role"])
	assert.Contains(t, messages[1].(map[string]any)["content"], "Original prompt: a cat")
}

func TestRefiner__TranslatePrompt(t *testing.T) {
	srv := newStubServer(t, http.StatusOK, completionBody("a cat"))
	r := newTestRefiner(t, srv.URL+"/v1")

	text, err := r.TranslatePrompt(context.Background(), promptnode.TranslatePromptParams{Prompt: "un gato"})
	require.NoError(t, err)
	assert.Equal(t, "a cat", text)

	body := srv.request(t)
	assert.InDelta(t, 0.3, body["temperature"], 1e-6)
	messages := body["messages"].([]any)
	require.Len(t, messages, 2)
	assert.Contains(t, messages[0].(map[string]any)["content"], "to English.")
	assert.Contains(t, messages[1].(map[string]any)["content"], "un gato")
}

func TestRefiner__TransportFailure(t *testing.T) {
	srv := newStubServer(t, http.StatusOK, completionBody("unused"))
	baseURL := srv.URL + "/v1"
	srv.Close()
	var logs bytes.Buffer
	r := newTestRefiner(t, baseURL, promptnode.WithLogger(slog.New(slog.NewJSONHandler(&logs, nil))))

	params := promptnode.ExpandPromptParams{Prompt: "a cat"}
	text := r.Invoke(context.Background(), params)
	assert.Contains(t, text, "Error calling OpenAI API")

	_, err := r.Run(context.Background(), params)
	require.ErrorIs(t, err, promptnode.ErrTransport)
	assert.Contains(t, logs.String(), `"level":"ERROR"`)
	assert.Contains(t, logs.String(), `"operation":"expand_prompt"`)
}

func TestRefiner__HTTPErrorStatus(t *testing.T) {
	srv := newStubServer(t, http.StatusInternalServerError, `{"error":{"message":"server exploded","type":"server_error"}}`)
	r := newTestRefiner(t, srv.URL+"/v1")

	_, err := r.TranslatePrompt(context.Background(), promptnode.TranslatePromptParams{Prompt: "un gato"})
	var opErr *promptnode.OperationError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, promptnode.ErrorKindTransport, opErr.Kind)
	assert.Contains(t, opErr.Diagnostic(), "Error calling OpenAI API")
	assert.Contains(t, opErr.Diagnostic(), "500")
}

func TestRefiner__MalformedResponse(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{name: "no choices", body: `{}`},
		{name: "empty content", body: completionBody("")},
		{name: "not json", body: `<html>bad gateway</html>`},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			srv := newStubServer(t, http.StatusOK, c.body)
			r := newTestRefiner(t, srv.URL+"/v1")

			text := r.Invoke(context.Background(), promptnode.ExpandPromptParams{Prompt: "a cat"})
			assert.Contains(t, text, "Error parsing OpenAI API response")

			_, err := r.Run(context.Background(), promptnode.ExpandPromptParams{Prompt: "a cat"})
			require.ErrorIs(t, err, promptnode.ErrMalformedResponse)
		})
	}
}

func TestRefiner__BlankContent(t *testing.T) {
	srv := newStubServer(t, http.StatusOK, completionBody("   \n "))
	r := newTestRefiner(t, srv.URL+"/v1")

	text, err := r.Run(context.Background(), promptnode.TranslatePromptParams{Prompt: "un gato"})
	require.NoError(t, err)
	assert.Equal(t, "", text)
	assert.Equal(t, "", r.Invoke(context.Background(), promptnode.TranslatePromptParams{Prompt: "un gato"}))
}

func TestRefiner__RemoteCallDeadline(t *testing.T) {
	var remaining time.Duration
	var hasDeadline bool
	provider := promptnode.ModelProviderFunc(func(ctx context.Context, _ string, _ *promptnode.ChatRequest) (*promptnode.ChatCompletion, error) {
		var deadline time.Time
		deadline, hasDeadline = ctx.Deadline()
		remaining = time.Until(deadline)
		return &promptnode.ChatCompletion{
			Choices: []promptnode.ChatChoice{{Message: promptnode.ChoiceMessage{Content: "ok"}}},
		}, nil
	})
	r, err := promptnode.NewRefiner(
		promptnode.WithKeyProvider(promptnode.StaticKeyProvider("sk-test")),
		promptnode.WithModelProvider(provider),
		promptnode.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	require.NoError(t, err)

	_, err = r.ExpandPrompt(context.Background(), promptnode.ExpandPromptParams{Prompt: "a cat"})
	require.NoError(t, err)
	require.True(t, hasDeadline)
	assert.LessOrEqual(t, remaining, promptnode.RemoteCallTimeout)
	assert.Greater(t, remaining, promptnode.RemoteCallTimeout-5*time.Second)
}

func TestRefiner__RemoteCallDeadlineKeepsEarlierCallerDeadline(t *testing.T) {
	var remaining time.Duration
	provider := promptnode.ModelProviderFunc(func(ctx context.Context, _ string, _ *promptnode.ChatRequest) (*promptnode.ChatCompletion, error) {
		deadline, _ := ctx.Deadline()
		remaining = time.Until(deadline)
		return &promptnode.ChatCompletion{
			Choices: []promptnode.ChatChoice{{Message: promptnode.ChoiceMessage{Content: "ok"}}},
		}, nil
	})
	r, err := promptnode.NewRefiner(
		promptnode.WithKeyProvider(promptnode.StaticKeyProvider("sk-test")),
		promptnode.WithModelProvider(provider),
		promptnode.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = r.ExpandPrompt(ctx, promptnode.ExpandPromptParams{Prompt: "a cat"})
	require.NoError(t, err)
	assert.LessOrEqual(t, remaining, 5*time.Second)
}

func TestRefiner__MissingCredential(t *testing.T) {
	srv := newStubServer(t, http.StatusOK, completionBody("unused"))
	r := newTestRefiner(t, srv.URL+"/v1", promptnode.WithKeyProvider(promptnode.StaticKeyProvider("")))

	_, err := r.Run(context.Background(), promptnode.TranslatePromptParams{Prompt: "un gato"})
	var opErr *promptnode.OperationError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, promptnode.ErrorKindMissingCredential, opErr.Kind)
	assert.ErrorIs(t, err, promptnode.ErrMissingCredential)

	text := r.Invoke(context.Background(), promptnode.TranslatePromptParams{Prompt: "un gato"})
	assert.Contains(t, text, "OpenAI API key not found")
	assert.Zero(t, srv.calls.Load(), "the remote endpoint is never called without a key")
}

func TestRefiner__KeyResolvedPerInvocation(t *testing.T) {
	srv := newStubServer(t, http.StatusOK, completionBody("ok"))
	var resolved atomic.Int32
	keys := promptnode.KeyProviderFunc(func(context.Context) (string, error) {
		resolved.Add(1)
		return "sk-test", nil
	})
	r := newTestRefiner(t, srv.URL+"/v1", promptnode.WithKeyProvider(keys))
	for i := 0; i < 3; i++ {
		_, err := r.ExpandPrompt(context.Background(), promptnode.ExpandPromptParams{Prompt: "a cat"})
		require.NoError(t, err)
	}
	assert.EqualValues(t, 3, resolved.Load())
}

func TestRefiner__KeyProviderError(t *testing.T) {
	keys := promptnode.KeyProviderFunc(func(context.Context) (string, error) {
		return "", errors.New("config file broken")
	})
	r := newTestRefiner(t, "http://127.0.0.1:0/v1", promptnode.WithKeyProvider(keys))
	_, err := r.ExpandPrompt(context.Background(), promptnode.ExpandPromptParams{Prompt: "a cat"})
	var opErr *promptnode.OperationError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, promptnode.ErrorKindMissingCredential, opErr.Kind)
	assert.Contains(t, opErr.Diagnostic(), "config file broken")
}

func TestRefiner__InvalidParameter(t *testing.T) {
	srv := newStubServer(t, http.StatusOK, completionBody("unused"))
	r := newTestRefiner(t, srv.URL+"/v1")

	_, err := r.ExpandPrompt(context.Background(), promptnode.ExpandPromptParams{Prompt: "a cat", MaxTokens: 5000})
	require.ErrorIs(t, err, promptnode.ErrInvalidParameter)
	assert.Zero(t, srv.calls.Load())
}

func TestRefiner__Idempotent(t *testing.T) {
	srv := newStubServer(t, http.StatusOK, completionBody("a cat, sitting"))
	r := newTestRefiner(t, srv.URL+"/v1")
	params := promptnode.AnalyzeImageParams{ImageName: "red.png", Image: redSquare()}

	first, err := r.AnalyzeImage(context.Background(), params)
	require.NoError(t, err)
	firstBody := srv.lastBody.Load().([]byte)
	second, err := r.AnalyzeImage(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.JSONEq(t, string(firstBody), string(srv.lastBody.Load().([]byte)))
}

func TestRefiner__PanicIsUnclassified(t *testing.T) {
	provider := promptnode.ModelProviderFunc(func(context.Context, string, *promptnode.ChatRequest) (*promptnode.ChatCompletion, error) {
		panic("provider bug")
	})
	r, err := promptnode.NewRefiner(
		promptnode.WithKeyProvider(promptnode.StaticKeyProvider("sk-test")),
		promptnode.WithModelProvider(provider),
		promptnode.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	require.NoError(t, err)

	text := r.Invoke(context.Background(), promptnode.TranslatePromptParams{Prompt: "un gato"})
	assert.Equal(t, "Unexpected error in prompt translation: panic: provider bug", text)
}

func TestRefiner__PlainProviderErrorIsTransport(t *testing.T) {
	provider := promptnode.ModelProviderFunc(func(context.Context, string, *promptnode.ChatRequest) (*promptnode.ChatCompletion, error) {
		return nil, errors.New("connection refused")
	})
	r, err := promptnode.NewRefiner(
		promptnode.WithKeyProvider(promptnode.StaticKeyProvider("sk-test")),
		promptnode.WithModelProvider(provider),
		promptnode.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	require.NoError(t, err)

	_, err = r.ExpandPrompt(context.Background(), promptnode.ExpandPromptParams{Prompt: "a cat"})
	require.ErrorIs(t, err, promptnode.ErrTransport)
}

func TestRefiner__LogsElapsed(t *testing.T) {
	restore := flextime.Fix(time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC))
	defer restore()
	provider := promptnode.ModelProviderFunc(func(context.Context, string, *promptnode.ChatRequest) (*promptnode.ChatCompletion, error) {
		return &promptnode.ChatCompletion{}, nil
	})
	var logs bytes.Buffer
	r, err := promptnode.NewRefiner(
		promptnode.WithKeyProvider(promptnode.StaticKeyProvider("sk-test")),
		promptnode.WithModelProvider(provider),
		promptnode.WithDefaultModel("gpt-4o"),
		promptnode.WithLogger(slog.New(slog.NewJSONHandler(&logs, nil))),
	)
	require.NoError(t, err)

	_, err = r.ExpandPrompt(context.Background(), promptnode.ExpandPromptParams{Prompt: "a cat"})
	require.ErrorIs(t, err, promptnode.ErrMalformedResponse)
	var record map[string]any
	require.NoError(t, json.Unmarshal(logs.Bytes(), &record))
	assert.Equal(t, "ERROR", record["level"])
	assert.Equal(t, "gpt-4o", record["model"])
	assert.Equal(t, "extraction", record["kind"])
	assert.EqualValues(t, 0, record["elapsed"])
}

func TestNewRefiner__UnknownProvider(t *testing.T) {
	_, err := promptnode.NewRefiner(promptnode.WithModelProviderName("nope"))
	require.ErrorIs(t, err, promptnode.ErrModelProviderNotFound)
}
