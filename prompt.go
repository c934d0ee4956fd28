package promptnode

import (
	"fmt"
	"io/fs"
	"strings"
	"sync"
	"text/template"
)

// PromptText is the rendered instruction pair of one operation.
// System is empty when the operation has no system instruction.
type PromptText struct {
	System string
	User   string
}

// PromptBuilder renders operation prompts from templates.
// Templates found in the override filesystem replace the embedded ones by file name.
type PromptBuilder struct {
	overrides fs.FS
	mu        sync.Mutex
	parsed    map[OperationKind]*template.Template
}

func NewPromptBuilder(overrides fs.FS) *PromptBuilder {
	return &PromptBuilder{
		overrides: overrides,
		parsed:    make(map[OperationKind]*template.Template),
	}
}

var defaultPromptBuilder = NewPromptBuilder(nil)

// BuildPrompt renders op with the embedded templates.
func BuildPrompt(op Operation) (*PromptText, error) {
	return defaultPromptBuilder.Build(op)
}

func (b *PromptBuilder) template(kind OperationKind) (*template.Template, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if tmpl, ok := b.parsed[kind]; ok {
		return tmpl, nil
	}
	tmpl, err := parsePromptTemplate(kind, b.overrides, BuiltinPrompts())
	if err != nil {
		return nil, err
	}
	b.parsed[kind] = tmpl
	return tmpl, nil
}

func (b *PromptBuilder) Build(op Operation) (*PromptText, error) {
	if op == nil {
		return nil, fmt.Errorf("%w: operation is nil", ErrInvalidParameter)
	}
	tmpl, err := b.template(op.Kind())
	if err != nil {
		return nil, err
	}
	data := op.WithDefaults("").templateData()
	system, err := renderBlock(tmpl, systemBlock, data)
	if err != nil {
		return nil, err
	}
	user, err := renderBlock(tmpl, userBlock, data)
	if err != nil {
		return nil, err
	}
	return &PromptText{
		System: system,
		User:   user,
	}, nil
}

func renderBlock(tmpl *template.Template, blockName string, data map[string]any) (string, error) {
	if tmpl.Lookup(blockName) == nil {
		return "", nil
	}
	var buf strings.Builder
	if err := tmpl.ExecuteTemplate(&buf, blockName, data); err != nil {
		return "", fmt.Errorf("execute block `%s`: %w", blockName, err)
	}
	return strings.TrimSpace(buf.String()), nil
}
