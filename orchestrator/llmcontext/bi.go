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

	"github.com/malike2356/abbis-sub018/shared/logger"
)

type metric struct {
	name     string
	priority int
	tokens   int
	compute  func(ctx context.Context) (interface{}, error)
}

// BusinessIntelligenceBuilder summarises the business: top clients and rigs,
// KPIs, financial health, pending work, sales, materials, payments and the
// catalog.
type BusinessIntelligenceBuilder struct {
	db      Querier
	cache   SliceCache
	log     *logger.Logger
	metrics []metric
}

// NewBusinessIntelligenceBuilder creates the builder. cache may be nil.
func NewBusinessIntelligenceBuilder(db Querier, cache SliceCache) *BusinessIntelligenceBuilder {
	b := &BusinessIntelligenceBuilder{db: db, cache: cache, log: logger.New("llm_context")}
	b.metrics = []metric{
		{"top_clients", 25, 300, b.topClients},
		{"recent_reports", 25, 400, b.recentReports},
		{"dashboard_kpis", 20, 500, b.dashboardKPIs},
		{"todays_priorities", 30, 350, b.todaysPriorities},
		{"top_rigs", 24, 250, b.topRigs},
		{"financial_health", 22, 300, b.financialHealth},
		{"pending_quotes", 26, 200, b.pendingQuotes},
		{"operational_metrics", 23, 200, b.operationalMetrics},
		{"pos_ecommerce", 24, 400, b.posEcommerce},
		{"materials_inventory", 25, 350, b.materialsInventory},
		{"payments_transactions", 22, 300, b.paymentsTransactions},
		{"catalog_products", 21, 300, b.catalogProducts},
	}
	return b
}

func (b *BusinessIntelligenceBuilder) Key() string { return "business_intelligence" }

// Supports is true whenever a business database is configured. The
// assembler's token budget decides how much of it reaches the prompt.
func (b *BusinessIntelligenceBuilder) Supports(Request) bool {
	return b.db != nil
}

// Build emits one slice per metric that produced data. A failing metric is
// logged and omitted.
func (b *BusinessIntelligenceBuilder) Build(ctx context.Context, req Request) ([]Slice, error) {
	var slices []Slice
	for _, m := range b.metrics {
		if err := ctx.Err(); err != nil {
			return slices, err
		}
		payload, err := cached(ctx, b.cache, m.name, m.compute)
		if err != nil {
			b.log.Warn(req.UserID, "", "business metric failed", map[string]interface{}{
				"metric": m.name,
				"error":  err.Error(),
			})
			continue
		}
		if isEmpty(payload) {
			continue
		}
		slices = append(slices, Slice{Type: m.name, Payload: payload, Priority: m.priority, ApproxTokens: m.tokens})
	}
	return slices, nil
}

func (b *BusinessIntelligenceBuilder) topClients(ctx context.Context) (interface{}, error) {
	rows, err := queryMaps(ctx, b.db, `
		SELECT c.id, c.client_name AS name, c.email, c.phone,
			COUNT(fr.id) AS total_jobs,
			COALESCE(SUM(fr.total_income), 0) AS total_revenue,
			COALESCE(SUM(fr.net_profit), 0) AS total_profit,
			COALESCE(AVG(fr.net_profit), 0) AS avg_profit_per_job,
			MAX(fr.report_date) AS last_job_date
		FROM clients c
		LEFT JOIN field_reports fr ON c.id = fr.client_id
		GROUP BY c.id, c.client_name, c.email, c.phone
		HAVING total_jobs > 0
		ORDER BY total_revenue DESC
		LIMIT 5`)
	if err != nil {
		return nil, err
	}
	if len(rows) > 0 {
		return rows, nil
	}
	return queryMaps(ctx, b.db, `
		SELECT id, client_name AS name, email, phone, 0 AS total_jobs,
			0 AS total_revenue, 0 AS total_profit, 0 AS avg_profit_per_job, NULL AS last_job_date
		FROM clients
		ORDER BY client_name
		LIMIT 5`)
}

func (b *BusinessIntelligenceBuilder) recentReports(ctx context.Context) (interface{}, error) {
	return queryMaps(ctx, b.db, `
		SELECT fr.id, fr.report_date AS date, fr.project_name AS project, fr.location, fr.status,
			c.client_name AS client, fr.total_income AS income, fr.total_expenses AS expenses,
			fr.net_profit AS profit, fr.created_at AS created
		FROM field_reports fr
		LEFT JOIN clients c ON fr.client_id = c.id
		ORDER BY fr.created_at DESC
		LIMIT 10`)
}

func (b *BusinessIntelligenceBuilder) dashboardKPIs(ctx context.Context) (interface{}, error) {
	today, err := queryMap(ctx, b.db, `
		SELECT COUNT(*) AS reports, COALESCE(SUM(total_income), 0) AS income,
			COALESCE(SUM(total_expenses), 0) AS expenses, COALESCE(SUM(net_profit), 0) AS profit
		FROM field_reports
		WHERE DATE(created_at) = CURDATE()`)
	if err != nil {
		return nil, err
	}
	month, err := queryMap(ctx, b.db, `
		SELECT COUNT(*) AS reports, COALESCE(SUM(total_income), 0) AS income,
			COALESCE(SUM(total_expenses), 0) AS expenses, COALESCE(SUM(net_profit), 0) AS profit
		FROM field_reports
		WHERE YEAR(created_at) = YEAR(CURDATE()) AND MONTH(created_at) = MONTH(CURDATE())`)
	if err != nil {
		return nil, err
	}
	overall, err := queryMap(ctx, b.db, `
		SELECT COUNT(*) AS total_reports, COALESCE(SUM(total_income), 0) AS total_income,
			COALESCE(SUM(total_expenses), 0) AS total_expenses, COALESCE(SUM(net_profit), 0) AS total_profit,
			COALESCE(SUM(bank_deposit), 0) AS total_deposits, COALESCE(AVG(net_profit), 0) AS avg_profit_per_job
		FROM field_reports`)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"today":      today,
		"this_month": month,
		"overall":    overall,
	}, nil
}

// todaysPriorities tolerates missing tables; each section is optional.
func (b *BusinessIntelligenceBuilder) todaysPriorities(ctx context.Context) (interface{}, error) {
	out := map[string]interface{}{}
	sections := []struct {
		name  string
		query string
	}{
		{"followups", `
			SELECT cf.id, cf.subject, cf.type, cf.priority, cf.scheduled_date, c.client_name AS client,
				CASE
					WHEN cf.scheduled_date < NOW() THEN 'overdue'
					WHEN DATE(cf.scheduled_date) = CURDATE() THEN 'today'
					ELSE 'upcoming'
				END AS urgency
			FROM client_followups cf
			LEFT JOIN clients c ON cf.client_id = c.id
			WHERE cf.status = 'scheduled'
				AND DATE(cf.scheduled_date) <= DATE_ADD(CURDATE(), INTERVAL 1 DAY)
			ORDER BY cf.scheduled_date ASC
			LIMIT 10`},
		{"pending_quotes", `
			SELECT id, name, email, location, status, estimated_budget AS budget, created_at AS created
			FROM cms_quote_requests
			WHERE status IN ('pending', 'new', 'in_progress')
			ORDER BY created_at DESC
			LIMIT 5`},
		{"pending_rig_requests", `
			SELECT id, request_number, requester_name AS requester, location_address AS location,
				status, priority, number_of_boreholes AS boreholes, created_at AS created
			FROM rig_requests
			WHERE status IN ('pending', 'new', 'in_progress')
			ORDER BY
				CASE priority WHEN 'urgent' THEN 1 WHEN 'high' THEN 2 WHEN 'medium' THEN 3 ELSE 4 END,
				created_at DESC
			LIMIT 5`},
	}
	for _, s := range sections {
		b.optionalRows(ctx, out, s.name, s.query, nil, nil)
	}
	return out, nil
}

func (b *BusinessIntelligenceBuilder) topRigs(ctx context.Context) (interface{}, error) {
	return queryMaps(ctx, b.db, `
		SELECT r.id, r.rig_name AS name, r.rig_code AS code,
			COUNT(fr.id) AS total_jobs,
			COALESCE(SUM(fr.total_income), 0) AS total_revenue,
			COALESCE(SUM(fr.net_profit), 0) AS total_profit,
			COALESCE(AVG(fr.net_profit), 0) AS avg_profit_per_job
		FROM rigs r
		LEFT JOIN field_reports fr ON r.id = fr.rig_id
		WHERE r.status = 'active'
		GROUP BY r.id, r.rig_name, r.rig_code
		HAVING total_jobs > 0
		ORDER BY total_profit DESC
		LIMIT 5`)
}

func (b *BusinessIntelligenceBuilder) financialHealth(ctx context.Context) (interface{}, error) {
	row, err := queryMap(ctx, b.db, `
		SELECT COALESCE(SUM(total_income), 0) AS total_income,
			COALESCE(SUM(total_expenses), 0) AS total_expenses,
			COALESCE(SUM(net_profit), 0) AS total_profit,
			COALESCE(SUM(bank_deposit), 0) AS total_deposits,
			COALESCE(SUM(outstanding_rig_fee), 0) AS outstanding_fees
		FROM field_reports`)
	if err != nil || row == nil {
		return nil, err
	}
	income := toFloat(row["total_income"])
	health := map[string]interface{}{
		"total_income":          income,
		"total_expenses":        toFloat(row["total_expenses"]),
		"total_profit":          toFloat(row["total_profit"]),
		"profit_margin_percent": percent(toFloat(row["total_profit"]), income),
		"expense_ratio_percent": percent(toFloat(row["total_expenses"]), income),
		"total_deposits":        toFloat(row["total_deposits"]),
		"outstanding_fees":      toFloat(row["outstanding_fees"]),
		"materials_value":       0.0,
		"total_loans":           0.0,
	}
	// Inventory and loans are separate modules that may not be installed.
	if m, err := queryMap(ctx, b.db, `SELECT COALESCE(SUM(total_value), 0) AS total_value FROM materials_inventory`); err == nil && m != nil {
		health["materials_value"] = toFloat(m["total_value"])
	}
	if l, err := queryMap(ctx, b.db, `SELECT COALESCE(SUM(outstanding_balance), 0) AS total FROM loans WHERE status = 'active'`); err == nil && l != nil {
		health["total_loans"] = toFloat(l["total"])
	}
	return health, nil
}

func (b *BusinessIntelligenceBuilder) pendingQuotes(ctx context.Context) (interface{}, error) {
	return queryMaps(ctx, b.db, `
		SELECT id, name, email, phone, location, status, estimated_budget AS budget, created_at AS created
		FROM cms_quote_requests
		WHERE status IN ('pending', 'new', 'in_progress')
		ORDER BY created_at DESC
		LIMIT 5`)
}

func (b *BusinessIntelligenceBuilder) operationalMetrics(ctx context.Context) (interface{}, error) {
	row, err := queryMap(ctx, b.db, `
		SELECT COALESCE(AVG(total_duration), 0) AS avg_duration,
			COALESCE(AVG(total_depth), 0) AS avg_depth,
			COALESCE(SUM(total_duration), 0) AS total_minutes,
			COUNT(DISTINCT rig_id) AS active_rigs,
			COUNT(*) AS total_jobs
		FROM field_reports
		WHERE total_duration IS NOT NULL`)
	if err != nil || row == nil {
		return nil, err
	}
	rigs := toInt(row["active_rigs"])
	jobs := toInt(row["total_jobs"])
	perRig := 0.0
	if rigs > 0 {
		perRig = round2(float64(jobs) / float64(rigs))
	}
	return map[string]interface{}{
		"avg_job_duration_minutes": toFloat(row["avg_duration"]),
		"avg_depth_per_job":        toFloat(row["avg_depth"]),
		"total_operating_hours":    round2(toFloat(row["total_minutes"]) / 60),
		"active_rigs":              rigs,
		"total_jobs":               jobs,
		"jobs_per_rig":             perRig,
	}, nil
}

// optionalRows stores the rows of query under name. Missing modules and empty
// results leave out untouched.
func (b *BusinessIntelligenceBuilder) optionalRows(ctx context.Context, out map[string]interface{}, name, query string, ints, floats []string) {
	rows, err := queryMaps(ctx, b.db, query)
	if err != nil {
		b.log.Debug("", "", "business section unavailable", map[string]interface{}{
			"section": name,
			"error":   err.Error(),
		})
		return
	}
	if len(rows) == 0 {
		return
	}
	for _, r := range rows {
		castRow(r, ints, floats)
	}
	out[name] = rows
}

// optionalRow is optionalRows for single-row summaries.
func (b *BusinessIntelligenceBuilder) optionalRow(ctx context.Context, out map[string]interface{}, name, query string, ints, floats []string) {
	row, err := queryMap(ctx, b.db, query)
	if err != nil {
		b.log.Debug("", "", "business section unavailable", map[string]interface{}{
			"section": name,
			"error":   err.Error(),
		})
		return
	}
	if row != nil {
		out[name] = castRow(row, ints, floats)
	}
}

// castRow converts the named columns, which MySQL returns as text for
// DECIMAL and aggregate results.
func castRow(row map[string]interface{}, ints, floats []string) map[string]interface{} {
	for _, k := range ints {
		if _, ok := row[k]; ok {
			row[k] = toInt(row[k])
		}
	}
	for _, k := range floats {
		if _, ok := row[k]; ok {
			row[k] = toFloat(row[k])
		}
	}
	return row
}

// posEcommerce covers the last week of POS sales, the month's best sellers,
// low stock alerts and storefront orders.
func (b *BusinessIntelligenceBuilder) posEcommerce(ctx context.Context) (interface{}, error) {
	sales, err := queryMap(ctx, b.db, `
		SELECT COUNT(*) AS total_sales,
			COALESCE(SUM(total_amount), 0) AS total_revenue,
			COALESCE(AVG(total_amount), 0) AS avg_sale_amount,
			MAX(created_at) AS last_sale_date
		FROM pos_sales
		WHERE created_at >= DATE_SUB(NOW(), INTERVAL 7 DAY)`)
	if err != nil {
		return nil, err
	}
	out := map[string]interface{}{}
	if sales != nil {
		out["recent_sales"] = castRow(sales, []string{"total_sales"}, []string{"total_revenue", "avg_sale_amount"})
	}
	b.optionalRows(ctx, out, "top_products", `
		SELECT pp.product_name, SUM(psi.quantity) AS total_sold,
			COALESCE(SUM(psi.total_price), 0) AS total_revenue
		FROM pos_sale_items psi
		INNER JOIN pos_products pp ON psi.product_id = pp.id
		INNER JOIN pos_sales ps ON psi.sale_id = ps.id
		WHERE ps.created_at >= DATE_SUB(NOW(), INTERVAL 30 DAY)
		GROUP BY pp.id, pp.product_name
		ORDER BY total_sold DESC
		LIMIT 10`, []string{"total_sold"}, []string{"total_revenue"})
	b.optionalRows(ctx, out, "low_stock_alerts", `
		SELECT pp.product_name, pi.quantity AS available_quantity, pi.reorder_level, pi.store_name
		FROM pos_inventory pi
		INNER JOIN pos_products pp ON pi.product_id = pp.id
		WHERE pi.quantity <= pi.reorder_level AND pi.quantity > 0
		ORDER BY pi.quantity ASC
		LIMIT 10`, []string{"available_quantity", "reorder_level"}, nil)
	b.optionalRow(ctx, out, "cms_orders", `
		SELECT COUNT(*) AS total_orders,
			COALESCE(SUM(total_amount), 0) AS total_revenue,
			COUNT(CASE WHEN status = 'pending' THEN 1 END) AS pending_orders,
			COUNT(CASE WHEN status = 'completed' THEN 1 END) AS completed_orders
		FROM cms_orders
		WHERE created_at >= DATE_SUB(NOW(), INTERVAL 30 DAY)`,
		[]string{"total_orders", "pending_orders", "completed_orders"}, []string{"total_revenue"})
	return out, nil
}

func (b *BusinessIntelligenceBuilder) materialsInventory(ctx context.Context) (interface{}, error) {
	byType, err := queryMaps(ctx, b.db, `
		SELECT material_type, COUNT(*) AS item_count,
			SUM(quantity_received) AS total_received,
			SUM(quantity_used) AS total_used,
			SUM(quantity_remaining) AS total_remaining,
			SUM(total_value) AS total_value
		FROM materials_inventory
		GROUP BY material_type
		ORDER BY total_remaining DESC`)
	if err != nil {
		return nil, err
	}
	out := map[string]interface{}{}
	if len(byType) > 0 {
		for _, r := range byType {
			castRow(r, []string{"item_count"}, []string{"total_received", "total_used", "total_remaining", "total_value"})
		}
		out["by_type"] = byType
	}
	b.optionalRows(ctx, out, "low_stock", `
		SELECT material_type, material_name, quantity_remaining, unit_cost, total_value
		FROM materials_inventory
		WHERE quantity_remaining <= 10
		ORDER BY quantity_remaining ASC
		LIMIT 10`, nil, []string{"quantity_remaining", "unit_cost", "total_value"})
	b.optionalRow(ctx, out, "material_returns", `
		SELECT COUNT(*) AS total_returns,
			COUNT(CASE WHEN status = 'pending' THEN 1 END) AS pending_returns,
			COUNT(CASE WHEN status = 'accepted' THEN 1 END) AS accepted_returns,
			COALESCE(SUM(actual_quantity_received), 0) AS total_quantity_returned
		FROM pos_material_returns
		WHERE created_at >= DATE_SUB(NOW(), INTERVAL 30 DAY)`,
		[]string{"total_returns", "pending_returns", "accepted_returns"}, []string{"total_quantity_returned"})
	return out, nil
}

func (b *BusinessIntelligenceBuilder) paymentsTransactions(ctx context.Context) (interface{}, error) {
	payments, err := queryMap(ctx, b.db, `
		SELECT COUNT(*) AS total_payments,
			COALESCE(SUM(amount), 0) AS total_amount,
			COUNT(CASE WHEN payment_method = 'cash' THEN 1 END) AS cash_payments,
			COUNT(CASE WHEN payment_method = 'bank_transfer' THEN 1 END) AS bank_payments,
			MAX(created_at) AS last_payment_date
		FROM payments
		WHERE created_at >= DATE_SUB(NOW(), INTERVAL 30 DAY)`)
	if err != nil {
		return nil, err
	}
	out := map[string]interface{}{}
	if payments != nil {
		out["recent_payments"] = castRow(payments, []string{"total_payments", "cash_payments", "bank_payments"}, []string{"total_amount"})
	}
	b.optionalRow(ctx, out, "outstanding", `
		SELECT COALESCE(SUM(outstanding_rig_fee), 0) AS total_outstanding_fees,
			COALESCE(SUM(bank_deposit), 0) AS total_deposits,
			COUNT(CASE WHEN outstanding_rig_fee > 0 THEN 1 END) AS reports_with_outstanding
		FROM field_reports`,
		[]string{"reports_with_outstanding"}, []string{"total_outstanding_fees", "total_deposits"})
	return out, nil
}

func (b *BusinessIntelligenceBuilder) catalogProducts(ctx context.Context) (interface{}, error) {
	summary, err := queryMap(ctx, b.db, `
		SELECT COUNT(*) AS total_items,
			COUNT(CASE WHEN is_active = 1 THEN 1 END) AS active_items,
			COUNT(CASE WHEN is_active = 0 THEN 1 END) AS inactive_items,
			COUNT(CASE WHEN stock_quantity <= 0 THEN 1 END) AS out_of_stock,
			COUNT(CASE WHEN stock_quantity > 0 AND stock_quantity <= 10 THEN 1 END) AS low_stock,
			COALESCE(SUM(stock_quantity * unit_price), 0) AS total_inventory_value
		FROM catalog_items`)
	if err != nil {
		return nil, err
	}
	out := map[string]interface{}{}
	if summary != nil {
		out["summary"] = castRow(summary,
			[]string{"total_items", "active_items", "inactive_items", "out_of_stock", "low_stock"},
			[]string{"total_inventory_value"})
	}
	b.optionalRows(ctx, out, "by_category", `
		SELECT category, COUNT(*) AS item_count,
			COALESCE(SUM(stock_quantity), 0) AS total_stock,
			COALESCE(SUM(stock_quantity * unit_price), 0) AS category_value
		FROM catalog_items
		WHERE category IS NOT NULL AND category != ''
		GROUP BY category
		ORDER BY item_count DESC
		LIMIT 10`, []string{"item_count"}, []string{"total_stock", "category_value"})
	return out, nil
}
