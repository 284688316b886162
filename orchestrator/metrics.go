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
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/malike2356/abbis-sub018/orchestrator/llm"
)

// Prometheus metrics
var (
	promRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "abbis_assistant_requests_total",
			Help: "Total number of assistant requests by outcome",
		},
		[]string{"outcome"},
	)
	promRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "abbis_assistant_request_duration_milliseconds",
			Help:    "Provider round-trip time for assistant requests in milliseconds",
			Buckets: []float64{50, 100, 250, 500, 1000, 2000, 5000, 10000, 30000},
		},
		[]string{"provider"},
	)
	promProviderAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "abbis_assistant_provider_attempts_total",
			Help: "Provider attempts made by the service bus",
		},
		[]string{"provider", "outcome", "category"},
	)
	promTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "abbis_assistant_tokens_total",
			Help: "Tokens consumed by provider and kind",
		},
		[]string{"provider", "kind"},
	)
	promLimiterRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "abbis_assistant_limiter_rejections_total",
			Help: "Requests rejected by the usage limiter",
		},
		[]string{"window"},
	)
	promAuditFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "abbis_assistant_audit_failures_total",
			Help: "Usage records that could not be persisted",
		},
	)
	promCatalogRefreshes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "abbis_assistant_catalog_refreshes_total",
			Help: "Provider catalog loads and refreshes",
		},
	)
)

func init() {
	prometheus.MustRegister(promRequestsTotal)
	prometheus.MustRegister(promRequestDuration)
	prometheus.MustRegister(promProviderAttempts)
	prometheus.MustRegister(promTokens)
	prometheus.MustRegister(promLimiterRejections)
	prometheus.MustRegister(promAuditFailures)
	prometheus.MustRegister(promCatalogRefreshes)
}

// observeAttempt is the bus attempt observer.
func observeAttempt(provider, outcome string, category llm.Category, _ time.Duration) {
	promProviderAttempts.WithLabelValues(provider, outcome, string(category)).Inc()
}

func observeLimiterRejection(window string) {
	promLimiterRejections.WithLabelValues(window).Inc()
}

func observeAuditFailure() {
	promAuditFailures.Inc()
}

func observeCatalogRefresh() {
	promCatalogRefreshes.Inc()
}

func observeResponse(resp llm.Response) {
	promRequestsTotal.WithLabelValues("success").Inc()
	promRequestDuration.WithLabelValues(resp.ProviderKey).Observe(float64(resp.LatencyMs))
	promTokens.WithLabelValues(resp.ProviderKey, "prompt").Add(float64(resp.PromptTokens))
	promTokens.WithLabelValues(resp.ProviderKey, "completion").Add(float64(resp.CompletionTokens))
}

func observeFailure(err error) {
	promRequestsTotal.WithLabelValues(string(llm.CategoryOf(err))).Inc()
}
