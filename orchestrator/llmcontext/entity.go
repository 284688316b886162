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
	"fmt"
	"strings"
)

// Entity types understood by EntityBuilder.
const (
	EntityFieldReport  = "field_report"
	EntityQuoteRequest = "quote_request"
	EntityRigRequest   = "rig_request"
	EntityClient       = "client"
)

// EntityBuilder loads the record the user is looking at. Queries use MySQL
// placeholders.
type EntityBuilder struct {
	db Querier
}

// NewEntityBuilder creates an EntityBuilder over the business database.
func NewEntityBuilder(db Querier) *EntityBuilder {
	return &EntityBuilder{db: db}
}

func (b *EntityBuilder) Key() string { return "entity" }

func (b *EntityBuilder) Supports(req Request) bool {
	return b.db != nil && strings.TrimSpace(req.EntityType) != "" && strings.TrimSpace(req.EntityID) != ""
}

// Build returns a single slice typed after the entity. Unknown types and
// missing rows produce no slices.
func (b *EntityBuilder) Build(ctx context.Context, req Request) ([]Slice, error) {
	entityType := strings.ToLower(strings.TrimSpace(req.EntityType))
	id := strings.TrimSpace(req.EntityID)

	var (
		payload map[string]interface{}
		err     error
	)
	switch entityType {
	case EntityFieldReport:
		payload, err = b.fieldReport(ctx, id)
	case EntityQuoteRequest:
		payload, err = b.request(ctx, quoteRequestQuery, "quote", id)
	case EntityRigRequest:
		payload, err = b.request(ctx, rigRequestQuery, "rig", id)
	case EntityClient:
		payload, err = b.client(ctx, id)
	default:
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s %s: %w", entityType, id, err)
	}
	if payload == nil {
		return nil, nil
	}
	return []Slice{{Type: entityType, Payload: payload, Priority: 30, ApproxTokens: 400}}, nil
}

const fieldReportQuery = `
	SELECT fr.id, fr.report_date, fr.project_name, fr.location, fr.status,
		fr.total_income, fr.total_expenses, fr.net_profit, c.client_name
	FROM field_reports fr
	LEFT JOIN clients c ON fr.client_id = c.id
	WHERE fr.id = ?
	LIMIT 1`

func (b *EntityBuilder) fieldReport(ctx context.Context, id string) (map[string]interface{}, error) {
	row, err := queryMap(ctx, b.db, fieldReportQuery, id)
	if err != nil || row == nil {
		return nil, err
	}
	income := toFloat(row["total_income"])
	expenses := toFloat(row["total_expenses"])
	row["financial_summary"] = map[string]interface{}{
		"income":   income,
		"expenses": expenses,
		"profit":   toFloat(row["net_profit"]),
		"margin":   percent(toFloat(row["net_profit"]), income),
	}
	return row, nil
}

const quoteRequestQuery = `
	SELECT id, name, email, phone, location, status, estimated_budget, created_at, updated_at
	FROM cms_quote_requests
	WHERE id = ?
	LIMIT 1`

const rigRequestQuery = `
	SELECT id, request_number, requester_name, location_address, status, priority,
		estimated_budget, number_of_boreholes, created_at
	FROM rig_requests
	WHERE id = ?
	LIMIT 1`

const statusHistoryQuery = `
	SELECT old_status, new_status, changed_by, notes, created_at
	FROM crm_request_status_history
	WHERE request_type = ? AND request_id = ?
	ORDER BY created_at DESC
	LIMIT 10`

func (b *EntityBuilder) request(ctx context.Context, query, requestType, id string) (map[string]interface{}, error) {
	row, err := queryMap(ctx, b.db, query, id)
	if err != nil || row == nil {
		return nil, err
	}
	// History is optional; older installations lack the table.
	if history, err := queryMaps(ctx, b.db, statusHistoryQuery, requestType, id); err == nil && len(history) > 0 {
		row["status_history"] = history
	}
	return row, nil
}

const clientQuery = `
	SELECT id, client_name, contact_person, email, phone, industry, city, country, created_at
	FROM clients
	WHERE id = ?
	LIMIT 1`

const clientValueQuery = `
	SELECT COUNT(*) AS job_count, COALESCE(SUM(net_profit), 0) AS lifetime_value
	FROM field_reports
	WHERE client_id = ?`

const clientReportsQuery = `
	SELECT id, report_date, project_name, status, net_profit
	FROM field_reports
	WHERE client_id = ?
	ORDER BY report_date DESC
	LIMIT 5`

func (b *EntityBuilder) client(ctx context.Context, id string) (map[string]interface{}, error) {
	row, err := queryMap(ctx, b.db, clientQuery, id)
	if err != nil || row == nil {
		return nil, err
	}
	value, err := queryMap(ctx, b.db, clientValueQuery, id)
	if err != nil {
		return nil, err
	}
	if value != nil {
		row["job_count"] = toInt(value["job_count"])
		row["lifetime_value"] = toFloat(value["lifetime_value"])
	}
	reports, err := queryMaps(ctx, b.db, clientReportsQuery, id)
	if err != nil {
		return nil, err
	}
	if len(reports) > 0 {
		row["recent_reports"] = reports
	}
	return row, nil
}
