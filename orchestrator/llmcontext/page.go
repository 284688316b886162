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

package llmcontext

import (
	"context"
	"path"
	"strings"
)

type pageDescription struct {
	pattern     string
	name        string
	description string
	purpose     string
	features    []string
}

// Matched in order; the first pattern contained in the page path wins.
var pageDescriptions = []pageDescription{
	{
		pattern:     "ai-governance",
		name:        "AI Governance & Audit",
		description: "Manage AI providers, usage limits, and monitor AI activity across ABBIS",
		purpose:     "Configure and monitor AI services (OpenAI, DeepSeek, Gemini, Ollama), set spending limits, view usage logs, and manage AI provider priorities",
		features: []string{
			"Configure AI providers (OpenAI, DeepSeek, Gemini, Ollama)",
			"Set daily and monthly usage limits per provider",
			"Configure provider priority (failover order)",
			"View AI usage logs and audit trails",
			"Manage encryption keys for API key storage",
			"Monitor provider status and performance",
		},
	},
	{
		pattern:     "dashboard",
		name:        "Dashboard",
		description: "Overview of key performance indicators and recent activity",
		purpose:     "View financial metrics, operational statistics, top clients, top rigs, and recent field reports",
		features: []string{
			"Financial KPIs (income, expenses, profit)",
			"Top performing clients and rigs",
			"Recent field reports",
			"Operational metrics",
			"Quick actions",
		},
	},
	{
		pattern:     "field-reports",
		name:        "Field Reports",
		description: "Create and manage field operation reports",
		purpose:     "Record drilling operations, track expenses, calculate profits, and manage job details",
	},
	{
		pattern:     "crm",
		name:        "CRM",
		description: "Customer Relationship Management",
		purpose:     "Manage clients, contacts, follow-ups, and customer interactions",
	},
	{
		pattern:     "resources",
		name:        "Resources",
		description: "Manage materials inventory and resources",
		purpose:     "Track materials, inventory levels, and resource allocation",
	},
	{
		pattern:     "finance",
		name:        "Finance",
		description: "Financial management and reporting",
		purpose:     "View financial reports, manage transactions, and track financial health",
	},
	{
		pattern:     "analytics",
		name:        "Analytics",
		description: "Advanced analytics and reporting",
		purpose:     "Analyze trends, generate reports, and view detailed metrics",
	},
}

// PageBuilder describes the page the user is looking at.
type PageBuilder struct{}

// NewPageBuilder creates a PageBuilder.
func NewPageBuilder() *PageBuilder { return &PageBuilder{} }

func (b *PageBuilder) Key() string { return "page" }

func (b *PageBuilder) Supports(req Request) bool { return strings.TrimSpace(req.Page) != "" }

func (b *PageBuilder) Build(_ context.Context, req Request) ([]Slice, error) {
	p := NormalizePage(req.Page)
	if p == "" {
		return nil, nil
	}
	info := map[string]interface{}{
		"path": p,
		"url":  req.Page,
	}
	if d, ok := describePage(p); ok {
		info["name"] = d.name
		info["description"] = d.description
		info["purpose"] = d.purpose
		if len(d.features) > 0 {
			info["key_features"] = d.features
		}
	} else {
		info["name"] = pageName(p)
	}
	return []Slice{{Type: "current_page", Payload: info, Priority: 15, ApproxTokens: 150}}, nil
}

// NormalizePage strips the query string and surrounding slashes.
func NormalizePage(page string) string {
	page = strings.TrimSpace(page)
	if i := strings.IndexAny(page, "?#"); i >= 0 {
		page = page[:i]
	}
	return strings.Trim(page, "/")
}

func describePage(p string) (pageDescription, bool) {
	for _, d := range pageDescriptions {
		if strings.Contains(p, d.pattern) {
			return d, true
		}
	}
	return pageDescription{}, false
}

// pageName turns "modules/rig-tracking.php" into "Rig Tracking".
func pageName(p string) string {
	base := strings.TrimSuffix(path.Base(p), ".php")
	base = strings.NewReplacer("-", " ", "_", " ").Replace(base)
	words := strings.Fields(base)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
