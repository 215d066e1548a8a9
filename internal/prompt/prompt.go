package prompt

import (
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"unicode"

	"github.com/egeucak/api-doc-gpt/pkg/types"
)

//go:embed assets/*
var assets embed.FS

const (
	systemPromptAsset = "assets/system_prompt.txt"
	startPromptAsset  = "assets/start_prompt.json"
	reactPromptAsset  = "assets/react.prompt"
)

var placeholder = regexp.MustCompile(`\{([a-z_]+)\}`)

// Fill substitutes {name} placeholders. Unknown placeholders are kept as is.
func Fill(template string, values map[string]string) string {
	return placeholder.ReplaceAllStringFunc(template, func(m string) string {
		if v, ok := values[m[1:len(m)-1]]; ok {
			return v
		}
		return m
	})
}

// Loader reads prompt templates, falling back to the embedded defaults when a
// path is empty.
type Loader struct {
	SystemTemplatePath string
	ReactTemplatePath  string
	StartPromptPath    string
}

// SystemTemplate returns the single-command system prompt template.
func (l Loader) SystemTemplate() (string, error) {
	b, err := l.read(l.SystemTemplatePath, systemPromptAsset)
	return string(b), err
}

// ReactTemplate returns the tool-use system prompt template.
func (l Loader) ReactTemplate() (string, error) {
	b, err := l.read(l.ReactTemplatePath, reactPromptAsset)
	return string(b), err
}

// OpeningTurns returns the scripted exchange that follows the system turn.
func (l Loader) OpeningTurns() ([]types.Turn, error) {
	b, err := l.read(l.StartPromptPath, startPromptAsset)
	if err != nil {
		return nil, err
	}
	var turns []types.Turn
	if err := json.Unmarshal(b, &turns); err != nil {
		return nil, fmt.Errorf("parse opening turns: %w", err)
	}
	for i, t := range turns {
		switch t.Role {
		case types.RoleSystem, types.RoleUser, types.RoleAssistant:
		default:
			return nil, fmt.Errorf("opening turn %d has invalid role %q", i, t.Role)
		}
	}
	return turns, nil
}

func (l Loader) read(path, asset string) ([]byte, error) {
	if path == "" {
		return assets.ReadFile(asset)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompt template: %w", err)
	}
	return b, nil
}

// EstimateTokens provides a rough token estimate.
// CJK text is ~2 chars/token, others ~4 chars/token.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	var cjk, other int
	for _, r := range text {
		if unicode.Is(unicode.Han, r) {
			cjk++
			continue
		}
		other++
	}
	return (cjk+1)/2 + (other+3)/4
}
