package session

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"sync"

	mcperrors "github.com/ajitpratap0/toolwire/pkg/errors"
	"github.com/ajitpratap0/toolwire/pkg/pagination"
	"github.com/ajitpratap0/toolwire/pkg/protocol"
)

// PromptTemplate is one prompt in a PromptCatalog. Messages may reference
// arguments as {{name}}.
type PromptTemplate struct {
	Name        string                    `yaml:"name"`
	Description string                    `yaml:"description"`
	Arguments   []protocol.PromptArgument `yaml:"arguments"`
	Messages    []TemplateMessage         `yaml:"messages"`
}

// TemplateMessage is a role and the text rendered for it
type TemplateMessage struct {
	Role string `yaml:"role"`
	Text string `yaml:"text"`
}

var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.-]+)\s*\}\}`)

// PromptCatalog is a static PromptProvider
type PromptCatalog struct {
	mu      sync.RWMutex
	prompts map[string]PromptTemplate
}

// NewPromptCatalog returns a catalog holding templates
func NewPromptCatalog(templates ...PromptTemplate) *PromptCatalog {
	c := &PromptCatalog{prompts: make(map[string]PromptTemplate)}
	for _, t := range templates {
		c.Add(t)
	}
	return c
}

// Add stores t, replacing a template of the same name
func (c *PromptCatalog) Add(t PromptTemplate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prompts[t.Name] = t
}

// ListPrompts implements PromptProvider
func (c *PromptCatalog) ListPrompts(_ context.Context, cursor string) (*protocol.ListPromptsResult, error) {
	c.mu.RLock()
	prompts := make([]protocol.Prompt, 0, len(c.prompts))
	for _, t := range c.prompts {
		prompts = append(prompts, protocol.Prompt{
			Name:        t.Name,
			Description: t.Description,
			Arguments:   t.Arguments,
		})
	}
	c.mu.RUnlock()
	sort.Slice(prompts, func(i, j int) bool { return prompts[i].Name < prompts[j].Name })

	page, next, err := pagination.Page(prompts, &protocol.PaginationParams{Cursor: cursor})
	if err != nil {
		return nil, mcperrors.InvalidParamsf("prompts/list: %v", err)
	}
	return &protocol.ListPromptsResult{Prompts: page, NextCursor: next}, nil
}

// GetPrompt implements PromptProvider. Placeholders without a value render
// empty; a missing required argument is an error.
func (c *PromptCatalog) GetPrompt(_ context.Context, name string, args map[string]string) (*protocol.GetPromptResult, error) {
	c.mu.RLock()
	t, ok := c.prompts[name]
	c.mu.RUnlock()
	if !ok {
		return nil, mcperrors.InvalidParamsf("unknown prompt %q", name)
	}

	var missing []mcperrors.FieldError
	for _, arg := range t.Arguments {
		if _, ok := args[arg.Name]; arg.Required && !ok {
			missing = append(missing, mcperrors.MissingField(arg.Name))
		}
	}
	if len(missing) > 0 {
		return nil, mcperrors.InvalidParams(fmt.Sprintf("prompt %s", name), missing...)
	}

	result := &protocol.GetPromptResult{
		Description: t.Description,
		Messages:    make([]protocol.PromptMessage, 0, len(t.Messages)),
	}
	for _, m := range t.Messages {
		text := placeholder.ReplaceAllStringFunc(m.Text, func(match string) string {
			return args[placeholder.FindStringSubmatch(match)[1]]
		})
		result.Messages = append(result.Messages, protocol.PromptMessage{
			Role:    m.Role,
			Content: protocol.TextContent(text),
		})
	}
	return result, nil
}
