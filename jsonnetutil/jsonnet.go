package jsonnetutil

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/google/go-jsonnet"
	"github.com/google/go-jsonnet/ast"
	"github.com/joho/godotenv"
	aliasimporter "github.com/mashiike/go-jsonnet-alias-importer"
)

func stringArg(fn string, args []any, i int) (string, error) {
	s, ok := args[i].(string)
	if !ok {
		return "", fmt.Errorf("%s: argument %d must be a string", fn, i+1)
	}
	return s, nil
}

var nativeFunctions = []*jsonnet.NativeFunction{
	{
		Name:   "env",
		Params: []ast.Identifier{"name", "default"},
		Func: func(args []any) (any, error) {
			name, err := stringArg("env", args, 0)
			if err != nil {
				return nil, err
			}
			if v := os.Getenv(name); v != "" {
				return v, nil
			}
			return args[1], nil
		},
	},
	{
		Name:   "mustEnv",
		Params: []ast.Identifier{"name"},
		Func: func(args []any) (any, error) {
			name, err := stringArg("mustEnv", args, 0)
			if err != nil {
				return nil, err
			}
			v, ok := os.LookupEnv(name)
			if !ok {
				return nil, fmt.Errorf("mustEnv: %s is not set", name)
			}
			return v, nil
		},
	},
	// dotenv reads name from a dotenv file; null when the file or the key is missing.
	{
		Name:   "dotenv",
		Params: []ast.Identifier{"path", "name"},
		Func: func(args []any) (any, error) {
			path, err := stringArg("dotenv", args, 0)
			if err != nil {
				return nil, err
			}
			name, err := stringArg("dotenv", args, 1)
			if err != nil {
				return nil, err
			}
			env, err := godotenv.Read(path)
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return nil, nil
				}
				return nil, fmt.Errorf("dotenv: %w", err)
			}
			if v, ok := env[name]; ok {
				return v, nil
			}
			return nil, nil
		},
	},
}

// VM is a jsonnet VM with the env, mustEnv and dotenv native functions
// and an alias importer for config/ imports.
type VM struct {
	vm       *jsonnet.VM
	importer *aliasimporter.AliasImpoter
}

func MakeVM() *VM {
	vm := jsonnet.MakeVM()
	importer := aliasimporter.New()
	vm.Importer(importer)
	for _, f := range nativeFunctions {
		vm.NativeFunction(f)
	}
	return &VM{
		vm:       vm,
		importer: importer,
	}
}

func (vm *VM) ExtVars(extVars map[string]string) {
	for k, v := range extVars {
		vm.vm.ExtVar(k, v)
	}
}

func (vm *VM) ExtCodes(extCodes map[string]string) {
	for k, v := range extCodes {
		vm.vm.ExtCode(k, v)
	}
}

func (vm *VM) NativeFunction(f *jsonnet.NativeFunction) {
	vm.vm.NativeFunction(f)
}

// Config makes fsys importable as config/<path>.
func (vm *VM) Config(fsys fs.FS) {
	vm.importer.Register("config", fsys)
	vm.importer.ClearCache()
}

// EvaluateFile evaluates the file at name inside fsys and returns the JSON output.
func (vm *VM) EvaluateFile(fsys fs.FS, name string) (string, error) {
	bs, err := fs.ReadFile(fsys, name)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", name, err)
	}
	jsonStr, err := vm.vm.EvaluateAnonymousSnippet(name, string(bs))
	if err != nil {
		return "", fmt.Errorf("evaluate %s: %w", name, err)
	}
	return jsonStr, nil
}
