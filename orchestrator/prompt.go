// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package orchestrator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Template placeholders.
const (
	placeholderContext      = "{{context_json}}"
	placeholderOrganisation = "{{organisation}}"
)

// DefaultPromptTemplate is written to the template path when no file exists.
const DefaultPromptTemplate = `You are ABBIS, an enterprise service delivery analyst assistant for {{organisation}}. Provide clear, concise, and actionable insights.
- Respect data governance, confidentiality, and compliance policies.
- Reference only the data provided in the context.
- Highlight uncertainties and suggest next best actions.
- When users ask about "this page" or "what happens on this page", use the current_page context to explain what the page does, its purpose, and key features.

Context (JSON):
{{context_json}}
`

// PromptTemplate renders the system prompt. The template file is read once;
// a missing file is created with DefaultPromptTemplate.
type PromptTemplate struct {
	path string
	once sync.Once
	text string
	err  error
}

// NewPromptTemplate creates a template backed by path. An empty path uses
// DefaultPromptTemplate without touching the filesystem.
func NewPromptTemplate(path string) *PromptTemplate {
	return &PromptTemplate{path: path}
}

// Text returns the loaded template.
func (p *PromptTemplate) Text() (string, error) {
	p.once.Do(func() {
		p.text, p.err = loadTemplate(p.path)
	})
	return p.text, p.err
}

func loadTemplate(path string) (string, error) {
	if path == "" {
		return DefaultPromptTemplate, nil
	}
	data, err := os.ReadFile(path)
	if err == nil {
		return string(data), nil
	}
	if !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to read prompt template %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return DefaultPromptTemplate, nil
	}
	// The default is still usable if the file cannot be written.
	_ = os.WriteFile(path, []byte(DefaultPromptTemplate), 0644)
	return DefaultPromptTemplate, nil
}

// Render substitutes the assembled context and organisation name. When the
// template has no context placeholder the context is appended.
func (p *PromptTemplate) Render(assembled []map[string]interface{}, organisation string) (string, error) {
	tmpl, err := p.Text()
	if err != nil {
		return "", err
	}
	if assembled == nil {
		assembled = []map[string]interface{}{}
	}
	ctxJSON, err := json.MarshalIndent(assembled, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to serialize context: %w", err)
	}
	if organisation == "" {
		organisation = "the organisation"
	}

	// One pass, so substituted values are never rescanned for placeholders.
	out := strings.NewReplacer(
		placeholderContext, string(ctxJSON),
		placeholderOrganisation, organisation,
	).Replace(tmpl)
	if strings.Contains(tmpl, placeholderContext) {
		return out, nil
	}
	return strings.TrimRight(out, "\n") + "\n\nContext (JSON):\n" + string(ctxJSON) + "\n", nil
}
