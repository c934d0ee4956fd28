package promptnode

// AssembleRequest builds the chat completion request for one operation.
// The user message carries the instruction text and, when img is not nil, the image after it.
func AssembleRequest(model string, prompt *PromptText, img *EncodedImage, maxTokens int, temperature *float32) *ChatRequest {
	req := &ChatRequest{
		Model:     model,
		MaxTokens: maxTokens,
	}
	if temperature != nil {
		t := *temperature
		req.Temperature = &t
	}
	var system, user string
	if prompt != nil {
		system, user = prompt.System, prompt.User
	}
	if system != "" {
		req.Messages = append(req.Messages, ChatMessage{
			Role:  RoleSystem,
			Parts: []ContentPart{TextPart(system)},
		})
	}
	parts := []ContentPart{TextPart(user)}
	if img != nil {
		parts = append(parts, ImagePart(img))
	}
	req.Messages = append(req.Messages, ChatMessage{
		Role:  RoleUser,
		Parts: parts,
	})
	return req
}
