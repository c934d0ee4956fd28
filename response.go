package promptnode

import (
	"fmt"
	"strings"
)

// ExtractText returns the trimmed content of the first choice.
// An empty content string is how an absent or null content decodes, so it is malformed;
// content made only of whitespace trims to "".
func ExtractText(resp *ChatCompletion) (string, error) {
	if resp == nil {
		return "", fmt.Errorf("%w: nil response", ErrMalformedResponse)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices", ErrMalformedResponse)
	}
	content := resp.Choices[0].Message.Content
	if content == "" {
		return "", fmt.Errorf("%w: missing message content", ErrMalformedResponse)
	}
	return strings.TrimSpace(content), nil
}
