package promptnode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/mashiike/promptnode/jsonnetutil"
)

// Config is the evaluated jsonnet configuration file.
type Config struct {
	Provider     string `json:"provider,omitempty"`
	BaseURL      string `json:"base_url,omitempty"`
	OpenAIAPIKey string `json:"openai_api_key,omitempty"`
	Model        string `json:"model,omitempty"`
	ImagesDir    string `json:"images_dir,omitempty"`
	PromptsDir   string `json:"prompts_dir,omitempty"`
}

// LoadConfig evaluates the jsonnet file at path.
// Files next to it can be imported as config/<name>.
func LoadConfig(path string, extVars map[string]string) (*Config, error) {
	dir, name := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	return LoadConfigFS(os.DirFS(dir), name, extVars)
}

func LoadConfigFS(fsys fs.FS, name string, extVars map[string]string) (*Config, error) {
	vm := jsonnetutil.MakeVM()
	vm.ExtVars(extVars)
	vm.Config(fsys)
	jsonStr, err := vm.EvaluateFile(fsys, name)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal([]byte(jsonStr), &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// resolve makes relative directories in cfg relative to baseDir.
func (cfg *Config) resolve(baseDir string) {
	for _, p := range []*string{&cfg.ImagesDir, &cfg.PromptsDir} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(baseDir, *p)
		}
	}
}

// LoadConfigFile is LoadConfig with images_dir and prompts_dir resolved against the file location.
func LoadConfigFile(path string, extVars map[string]string) (*Config, error) {
	cfg, err := LoadConfig(path, extVars)
	if err != nil {
		return nil, err
	}
	cfg.resolve(filepath.Dir(path))
	return cfg, nil
}

// KeyProvider resolves the API key. It is called once per invocation.
// An empty key with a nil error means no key is configured.
type KeyProvider interface {
	APIKey(ctx context.Context) (string, error)
}

type KeyProviderFunc func(ctx context.Context) (string, error)

func (f KeyProviderFunc) APIKey(ctx context.Context) (string, error) {
	return f(ctx)
}

type StaticKeyProvider string

func (k StaticKeyProvider) APIKey(_ context.Context) (string, error) {
	return string(k), nil
}

var DefaultAPIKeyEnvNames = []string{"PROMPTNODE_OPENAI_API_KEY", "OPENAI_API_KEY"}

// EnvKeyProvider reads the key from environment variables,
// then from dotenv files. Missing dotenv files are skipped.
type EnvKeyProvider struct {
	Names    []string
	EnvFiles []string
}

func NewEnvKeyProvider(envFiles ...string) *EnvKeyProvider {
	return &EnvKeyProvider{
		Names:    DefaultAPIKeyEnvNames,
		EnvFiles: envFiles,
	}
}

func (p *EnvKeyProvider) APIKey(_ context.Context) (string, error) {
	for _, name := range p.Names {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			return v, nil
		}
	}
	for _, file := range p.EnvFiles {
		env, err := godotenv.Read(file)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return "", fmt.Errorf("read %s: %w", file, err)
		}
		for _, name := range p.Names {
			if v := strings.TrimSpace(env[name]); v != "" {
				return v, nil
			}
		}
	}
	return "", nil
}

// ConfigFileKeyProvider evaluates the config file on every call and returns openai_api_key.
type ConfigFileKeyProvider struct {
	Path    string
	ExtVars map[string]string
}

func (p *ConfigFileKeyProvider) APIKey(_ context.Context) (string, error) {
	cfg, err := LoadConfig(p.Path, p.ExtVars)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(cfg.OpenAIAPIKey), nil
}

// ChainKeyProvider returns the first non empty key.
type ChainKeyProvider []KeyProvider

func (c ChainKeyProvider) APIKey(ctx context.Context) (string, error) {
	for _, p := range c {
		if p == nil {
			continue
		}
		key, err := p.APIKey(ctx)
		if err != nil {
			return "", err
		}
		if key != "" {
			return key, nil
		}
	}
	return "", nil
}
