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
	"os"
	"strings"
	"time"
)

// DefaultOrganisationName is used when neither the database nor the
// configuration names the organisation.
const DefaultOrganisationName = "ABBIS Organisation"

const organisationQuery = `
	SELECT
		MAX(CASE WHEN config_key = 'company_name' THEN config_value END) AS company_name,
		MAX(CASE WHEN config_key = 'company_email' THEN config_value END) AS contact_email,
		MAX(CASE WHEN config_key = 'company_contact' THEN config_value END) AS contact_phone,
		MAX(CASE WHEN config_key = 'company_address' THEN config_value END) AS address,
		MAX(CASE WHEN config_key = 'currency' THEN config_value END) AS currency
	FROM system_config
	WHERE config_key IN ('company_name', 'company_email', 'company_contact', 'company_address', 'currency')`

const companyProfileQuery = `
	SELECT company_name, contact_email, contact_phone, industry, country, timezone
	FROM company_profile
	LIMIT 1`

// OrganisationBuilder describes the operating organisation from
// system_config, falling back to the company_profile table.
type OrganisationBuilder struct {
	db       Querier
	fallback string
}

// NewOrganisationBuilder creates an OrganisationBuilder. db may be nil, in
// which case only the fallback profile is produced.
func NewOrganisationBuilder(db Querier, fallbackName string) *OrganisationBuilder {
	if strings.TrimSpace(fallbackName) == "" {
		fallbackName = DefaultOrganisationName
	}
	return &OrganisationBuilder{db: db, fallback: fallbackName}
}

func (b *OrganisationBuilder) Key() string { return "organisation" }

func (b *OrganisationBuilder) Supports(Request) bool { return true }

// Build never fails: a missing table or empty configuration yields the
// fallback profile.
func (b *OrganisationBuilder) Build(ctx context.Context, _ Request) ([]Slice, error) {
	org := map[string]interface{}{}
	if b.db != nil {
		for _, q := range []string{organisationQuery, companyProfileQuery} {
			row, err := queryMap(ctx, b.db, q)
			if err != nil {
				continue
			}
			if org = trimmedStrings(row); len(org) > 0 {
				break
			}
		}
	}
	if _, ok := org["company_name"]; !ok {
		org["company_name"] = b.fallback
	}
	if _, ok := org["industry"]; !ok {
		org["industry"] = "Service Delivery"
	}
	if _, ok := org["timezone"]; !ok {
		org["timezone"] = timezone()
	}

	return []Slice{{Type: "organisation", Payload: org, Priority: 20, ApproxTokens: 160}}, nil
}

// trimmedStrings keeps the non-blank string values of row.
func trimmedStrings(row map[string]interface{}) map[string]interface{} {
	out := map[string]interface{}{}
	for k, v := range row {
		s, ok := v.(string)
		if !ok {
			continue
		}
		if s = strings.TrimSpace(s); s != "" {
			out[k] = s
		}
	}
	return out
}

// OrganisationName returns the organisation name from a built payload, for prompt
// rendering.
func OrganisationName(assembled []map[string]interface{}) string {
	for _, m := range assembled {
		if m["type"] != "organisation" {
			continue
		}
		if p, ok := m["payload"].(map[string]interface{}); ok {
			if s, ok := p["company_name"].(string); ok {
				return s
			}
		}
	}
	return ""
}

func timezone() string {
	if tz := os.Getenv("TZ"); tz != "" {
		return tz
	}
	if name := time.Local.String(); name != "Local" {
		return name
	}
	return "UTC"
}
