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

// Package providers wires the built-in adapters into a FactorySet.
package providers

import (
	"github.com/malike2356/abbis-sub018/orchestrator/llm"
	"github.com/malike2356/abbis-sub018/orchestrator/llm/anthropic"
	"github.com/malike2356/abbis-sub018/orchestrator/llm/bedrock"
	"github.com/malike2356/abbis-sub018/orchestrator/llm/gemini"
	"github.com/malike2356/abbis-sub018/orchestrator/llm/ollama"
	"github.com/malike2356/abbis-sub018/orchestrator/llm/openai"
)

// Builtin lists every provider key with a compiled-in adapter.
var Builtin = []string{
	openai.KeyOpenAI,
	openai.KeyDeepSeek,
	gemini.Key,
	ollama.Key,
	anthropic.Key,
	bedrock.Key,
}

// Default returns a FactorySet with every built-in adapter registered.
func Default() *llm.FactorySet {
	fs := llm.NewFactorySet()
	fs.Register(openai.KeyOpenAI, openai.New)
	fs.Register(openai.KeyDeepSeek, openai.New)
	fs.Register(gemini.Key, gemini.New)
	fs.Register(ollama.Key, ollama.New)
	fs.Register(anthropic.Key, anthropic.New)
	fs.Register(bedrock.Key, bedrock.New)
	return fs
}

// WithCompatible registers extra OpenAI-compatible keys (for example a
// self-hosted gateway). Each needs a base URL and model in its config.
func WithCompatible(fs *llm.FactorySet, keys ...string) *llm.FactorySet {
	for _, k := range llm.NormalizeKeys(keys) {
		if !fs.Has(k) {
			fs.Register(k, openai.New)
		}
	}
	return fs
}
