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

package usage

import (
	"fmt"
	"strings"
)

// Prices are stored in micro-dollars per 1K tokens to avoid floating point
// drift; current small models cost fractions of a cent per 1K.

// ProviderPricing contains pricing for a specific model
type ProviderPricing struct {
	PromptMicrosPer1K     int64
	CompletionMicrosPer1K int64
}

// providerPricing maps provider-model combinations to pricing
var providerPricing = map[string]ProviderPricing{
	"openai-gpt-4.1-mini": {400, 1600},
	"openai-gpt-4.1":      {2000, 8000},
	"openai-gpt-4o-mini":  {150, 600},
	"openai-gpt-4o":       {2500, 10000},

	"deepseek-deepseek-chat":     {270, 1100},
	"deepseek-deepseek-reasoner": {550, 2190},

	"gemini-gemini-1.5-flash-latest": {75, 300},
	"gemini-gemini-1.5-pro-latest":   {1250, 5000},

	"anthropic-claude-3-5-sonnet-20241022": {3000, 15000},
	"anthropic-claude-3-haiku-20240307":    {250, 1250},

	"bedrock-anthropic.claude-3-haiku-20240307-v1:0": {250, 1250},

	// Default fallback pricing (conservative estimate)
	"default": {1000, 3000},
}

// freeProviders run on local hardware.
var freeProviders = map[string]bool{
	"ollama": true,
}

// CalculateCost returns the estimated cost of a request in micro-dollars.
func CalculateCost(provider, model string, promptTokens, completionTokens int) int64 {
	if freeProviders[strings.ToLower(provider)] {
		return 0
	}

	pricing, ok := GetProviderPricing(provider, model)
	if !ok {
		pricing = providerPricing["default"]
	}

	promptCost := int64(promptTokens) * pricing.PromptMicrosPer1K / 1000
	completionCost := int64(completionTokens) * pricing.CompletionMicrosPer1K / 1000

	return promptCost + completionCost
}

// GetProviderPricing returns the pricing for a specific provider-model combination
func GetProviderPricing(provider, model string) (ProviderPricing, bool) {
	key := strings.ToLower(provider) + "-" + strings.ToLower(model)
	pricing, ok := providerPricing[key]
	return pricing, ok
}

// MicrosToUSD converts micro-dollars to dollars.
func MicrosToUSD(micros int64) float64 {
	return float64(micros) / 1e6
}

// FormatMicros renders micro-dollars as a dollar string (e.g. 1234 -> "$0.0012")
func FormatMicros(micros int64) string {
	return fmt.Sprintf("$%.4f", MicrosToUSD(micros))
}
