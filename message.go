package promptnode

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

var (
	ErrInvalidMessageRole    = errors.New("invalid message role")
	ErrInvalidMessageContent = errors.New("invalid message content")
)

const (
	PartTypeText     = "text"
	PartTypeImageURL = "image_url"
)

const ImageDetailHigh = "high"

// ChatRequest is the request body of a chat completion call.
// Providers decode its JSON encoding into their own request body.
type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature *float32      `json:"temperature,omitempty"`
}

// ChatMessage is a role tagged message. A message holding a single text part
// is encoded with a plain string content, otherwise content is a list of parts.
type ChatMessage struct {
	Role  string        `json:"role"`
	Parts []ContentPart `json:"content"`
}

type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

type ImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

func TextPart(text string) ContentPart {
	return ContentPart{Type: PartTypeText, Text: text}
}

func ImagePart(img *EncodedImage) ContentPart {
	return ContentPart{
		Type: PartTypeImageURL,
		ImageURL: &ImageURL{
			URL:    img.DataURL(),
			Detail: ImageDetailHigh,
		},
	}
}

// IsTextOnly reports whether the message is a single text part.
func (m ChatMessage) IsTextOnly() bool {
	return len(m.Parts) == 1 && m.Parts[0].Type == PartTypeText
}

type chatMessageJSON struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

func (m ChatMessage) MarshalJSON() ([]byte, error) {
	switch m.Role {
	case RoleSystem, RoleUser, RoleAssistant:
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidMessageRole, m.Role)
	}
	if m.IsTextOnly() {
		return json.Marshal(chatMessageJSON{Role: m.Role, Content: m.Parts[0].Text})
	}
	for _, part := range m.Parts {
		switch part.Type {
		case PartTypeText:
		case PartTypeImageURL:
			if part.ImageURL == nil {
				return nil, fmt.Errorf("%w: image_url part without url", ErrInvalidMessageContent)
			}
		default:
			return nil, fmt.Errorf("%w: unsupported part type %q", ErrInvalidMessageContent, part.Type)
		}
	}
	parts := m.Parts
	if parts == nil {
		parts = []ContentPart{}
	}
	return json.Marshal(chatMessageJSON{Role: m.Role, Content: parts})
}

func (m *ChatMessage) UnmarshalJSON(data []byte) error {
	var raw struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.Role = raw.Role
	m.Parts = nil
	content := bytes.TrimSpace(raw.Content)
	if len(content) == 0 || bytes.Equal(content, []byte("null")) {
		return nil
	}
	if content[0] == '"' {
		var text string
		if err := json.Unmarshal(content, &text); err != nil {
			return err
		}
		m.Parts = []ContentPart{TextPart(text)}
		return nil
	}
	if err := json.Unmarshal(content, &m.Parts); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidMessageContent, err)
	}
	return nil
}

// ChatCompletion is the decoded response of a chat completion call.
type ChatCompletion struct {
	ID      string       `json:"id,omitempty"`
	Model   string       `json:"model,omitempty"`
	Choices []ChatChoice `json:"choices"`
	Usage   *Usage       `json:"usage,omitempty"`
}

type ChatChoice struct {
	Index        int           `json:"index"`
	Message      ChoiceMessage `json:"message"`
	FinishReason string        `json:"finish_reason,omitempty"`
}

type ChoiceMessage struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
