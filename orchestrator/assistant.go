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
	"context"
	"strings"
	"time"

	"github.com/malike2356/abbis-sub018/common/usage"
	"github.com/malike2356/abbis-sub018/orchestrator/governance"
	"github.com/malike2356/abbis-sub018/orchestrator/llm"
	"github.com/malike2356/abbis-sub018/orchestrator/llmcontext"
	"github.com/malike2356/abbis-sub018/shared/logger"
)

// DefaultAction is recorded when the caller names no action.
const DefaultAction = "assistant_chat"

// failureAuditTimeout bounds the failure-audit write after the request
// context has been cancelled.
const failureAuditTimeout = 2 * time.Second

// Completer routes a conversation to a provider.
type Completer interface {
	Complete(ctx context.Context, messages []llm.Message, opts llm.Options) (llm.Response, error)
}

// Limiter gates requests by per-user quota.
type Limiter interface {
	Check(ctx context.Context, userID, action string) error
}

// ContextAssembler produces the budgeted context payload.
type ContextAssembler interface {
	Assemble(ctx context.Context, req llmcontext.Request) []map[string]interface{}
}

// Auditor persists usage records. It must not fail into the caller.
type Auditor interface {
	Log(ctx context.Context, r usage.Record)
}

// AssistantRequest is the caller-supplied conversation plus context hints.
type AssistantRequest struct {
	Messages   []llm.Message     `json:"messages"`
	EntityType string            `json:"entity_type,omitempty"`
	EntityID   string            `json:"entity_id,omitempty"`
	Page       string            `json:"page,omitempty"`
	Hints      map[string]string `json:"hints,omitempty"`
}

// RunOptions identifies the caller and carries per-call provider options.
type RunOptions struct {
	UserID    string
	Username  string
	FullName  string
	Email     string
	Role      string
	Action    string
	RequestID string

	Provider    string
	Providers   []string
	Model       string
	Temperature *float64
	MaxTokens   int
	OnDelta     llm.StreamHandler
}

func (o RunOptions) action() string {
	if a := strings.TrimSpace(o.Action); a != "" {
		return a
	}
	return DefaultAction
}

func (o RunOptions) llmOptions() llm.Options {
	return llm.Options{
		Provider:    o.Provider,
		Providers:   o.Providers,
		Model:       o.Model,
		Temperature: o.Temperature,
		MaxTokens:   o.MaxTokens,
		OnDelta:     o.OnDelta,
	}
}

// Assistant is the request orchestrator. It is safe for concurrent use.
type Assistant struct {
	bus          Completer
	limiter      Limiter
	assembler    ContextAssembler
	auditor      Auditor
	prompt       *PromptTemplate
	organisation string
	now          func() time.Time
	log          *logger.Logger
}

// AssistantOption configures an Assistant.
type AssistantOption func(*Assistant)

// WithOrganisationName sets the name used when no organisation slice is
// assembled.
func WithOrganisationName(name string) AssistantOption {
	return func(a *Assistant) { a.organisation = name }
}

// WithPromptTemplate replaces the default prompt template.
func WithPromptTemplate(p *PromptTemplate) AssistantOption {
	return func(a *Assistant) { a.prompt = p }
}

// WithAssistantClock overrides the clock used for latency measurement.
func WithAssistantClock(now func() time.Time) AssistantOption {
	return func(a *Assistant) { a.now = now }
}

// NewAssistant wires the orchestrator. The limiter and auditor may be nil.
func NewAssistant(bus Completer, assembler ContextAssembler, limiter Limiter, auditor Auditor, opts ...AssistantOption) *Assistant {
	a := &Assistant{
		bus:       bus,
		limiter:   limiter,
		assembler: assembler,
		auditor:   auditor,
		prompt:    NewPromptTemplate(""),
		now:       time.Now,
		log:       logger.New("assistant"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// RunAssistant answers one conversational request.
//
// A limiter rejection is returned as is and leaves no usage record. Every
// request that passes the limiter writes exactly one record. Provider
// failures are returned unchanged after the failure record is written.
func (a *Assistant) RunAssistant(ctx context.Context, req AssistantRequest, opts RunOptions) (llm.Response, error) {
	action := opts.action()

	if a.limiter != nil {
		if err := a.limiter.Check(ctx, opts.UserID, action); err != nil {
			observeFailure(err)
			return llm.Response{}, err
		}
	}

	var assembled []map[string]interface{}
	if a.assembler != nil {
		assembled = a.assembler.Assemble(ctx, llmcontext.Request{
			UserID:     opts.UserID,
			Username:   opts.Username,
			FullName:   opts.FullName,
			Email:      opts.Email,
			Role:       opts.Role,
			Page:       req.Page,
			EntityType: req.EntityType,
			EntityID:   req.EntityID,
			Hints:      req.Hints,
		})
	}

	conversation := llm.FilterUsable(req.Messages)
	record := usage.Record{
		UserID:         opts.UserID,
		Role:           opts.Role,
		Action:         action,
		Model:          opts.Model,
		InputHash:      governance.HashMessages(conversation),
		ContextSummary: governance.SummarizeContext(assembled),
	}

	system, err := a.renderPrompt(assembled)
	if err != nil {
		perr := llm.NewProviderError("", llm.CategoryInternal, "failed to render system prompt").WithCause(err)
		a.auditFailure(ctx, record, opts, assembled, perr, nil)
		observeFailure(perr)
		return llm.Response{}, perr
	}

	messages := make([]llm.Message, 0, len(conversation)+1)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: system})
	messages = append(messages, conversation...)

	start := a.now()
	resp, err := a.bus.Complete(ctx, messages, opts.llmOptions())
	elapsed := a.now().Sub(start).Milliseconds()

	if err != nil {
		a.auditFailure(ctx, record, opts, assembled, err, &elapsed)
		observeFailure(err)
		a.log.ErrorWithCode(opts.UserID, opts.RequestID, "assistant request failed",
			string(llm.CategoryOf(err)), err, map[string]interface{}{"action": action})
		return llm.Response{}, err
	}

	resp = resp.WithLatency(elapsed)
	a.auditSuccess(ctx, record, opts, assembled, resp)
	observeResponse(resp)
	a.log.InfoWithDuration(opts.UserID, opts.RequestID, "assistant request completed", float64(elapsed),
		map[string]interface{}{
			"action":   action,
			"provider": resp.ProviderKey,
			"tokens":   resp.TotalTokens(),
		})
	return resp, nil
}

func (a *Assistant) renderPrompt(assembled []map[string]interface{}) (string, error) {
	org := llmcontext.OrganisationName(assembled)
	if org == "" {
		org = a.organisation
	}
	return a.prompt.Render(assembled, org)
}

func (a *Assistant) auditSuccess(ctx context.Context, r usage.Record, opts RunOptions, assembled []map[string]interface{}, resp llm.Response) {
	if a.auditor == nil {
		return
	}
	model := opts.Model
	if model == "" {
		model = responseModel(resp)
	}
	latency := resp.LatencyMs

	r.Provider = resp.ProviderKey
	r.Model = model
	r.PromptTokens = resp.PromptTokens
	r.CompletionTokens = resp.CompletionTokens
	r.TotalTokens = resp.TotalTokens()
	r.LatencyMs = &latency
	r.IsSuccess = true
	r.Metadata = auditMetadata(opts, assembled)
	r.Metadata["from_cache"] = resp.FromCache
	r.Metadata["cost_usd"] = usage.MicrosToUSD(usage.CalculateCost(resp.ProviderKey, model, resp.PromptTokens, resp.CompletionTokens))

	a.auditor.Log(ctx, r)
}

// auditFailure writes the failure record even when ctx is already done.
func (a *Assistant) auditFailure(ctx context.Context, r usage.Record, opts RunOptions, assembled []map[string]interface{}, err error, elapsed *int64) {
	if a.auditor == nil {
		return
	}
	r.IsSuccess = false
	r.LatencyMs = elapsed
	r.ErrorCode = string(llm.CategoryOf(err))
	r.Metadata = auditMetadata(opts, assembled)
	r.Metadata["error_message"] = usage.Truncate(errorMessage(err), usage.ContextSummaryLimit)
	if pe := llm.AsProviderError("", err); pe.Provider != "" {
		r.Provider = pe.Provider
	}

	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureAuditTimeout)
	defer cancel()
	a.auditor.Log(auditCtx, r)
}

func auditMetadata(opts RunOptions, assembled []map[string]interface{}) map[string]interface{} {
	options := map[string]interface{}{}
	if opts.Model != "" {
		options["model"] = opts.Model
	}
	if opts.Temperature != nil {
		options["temperature"] = *opts.Temperature
	}
	if opts.MaxTokens > 0 {
		options["max_tokens"] = opts.MaxTokens
	}
	if opts.Provider != "" {
		options["provider"] = opts.Provider
	}
	if len(opts.Providers) > 0 {
		options["providers"] = opts.Providers
	}
	options["stream"] = opts.OnDelta != nil

	md := map[string]interface{}{
		"context_types": llmcontext.Types(assembled),
		"options":       options,
	}
	if opts.RequestID != "" {
		md["request_id"] = opts.RequestID
	}
	return md
}

func errorMessage(err error) string {
	return llm.AsProviderError("", err).Message
}

// responseModel reads the model echoed back by the provider, if any.
func responseModel(resp llm.Response) string {
	for _, k := range []string{"model", "modelVersion"} {
		if s, ok := resp.RawPayload[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
