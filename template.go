package promptnode

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"text/template"

	"github.com/Masterminds/sprig/v3"
)

//go:embed prompts/*.tmpl
var embeddedPrompts embed.FS

var (
	ErrTemplateNotFound      = errors.New("prompt template not found")
	ErrTemplateBlockNotFound = errors.New("template block not found")
)

const (
	systemBlock = "system"
	userBlock   = "user"
)

// BuiltinPrompts returns the embedded prompt templates, one file per operation.
func BuiltinPrompts() fs.FS {
	sub, err := fs.Sub(embeddedPrompts, "prompts")
	if err != nil {
		panic(err)
	}
	return sub
}

// PromptTemplateFuncs returns the functions available to prompt templates.
func PromptTemplateFuncs() template.FuncMap {
	return sprig.TxtFuncMap()
}

func templateFileName(kind OperationKind) string {
	return string(kind) + ".tmpl"
}

// parsePromptTemplate parses the template of kind from the first fsys that has it.
func parsePromptTemplate(kind OperationKind, fsyss ...fs.FS) (*template.Template, error) {
	name := templateFileName(kind)
	for _, fsys := range fsyss {
		if fsys == nil {
			continue
		}
		bs, err := fs.ReadFile(fsys, name)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		tmpl, err := template.New(name).Funcs(PromptTemplateFuncs()).Parse(string(bs))
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
		if tmpl.Lookup(userBlock) == nil {
			return nil, fmt.Errorf("%s: block `%s`: %w", name, userBlock, ErrTemplateBlockNotFound)
		}
		return tmpl, nil
	}
	return nil, fmt.Errorf("%s: %w", name, ErrTemplateNotFound)
}
