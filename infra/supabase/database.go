package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// DatabaseClient handles Supabase Database (PostgREST) operations.
type DatabaseClient struct {
	client *Client
}

// From starts a query builder for a table.
func (d *DatabaseClient) From(table string) *QueryBuilder {
	return &QueryBuilder{
		client:  d.client,
		table:   table,
		method:  http.MethodGet,
		columns: "*",
		filters: make([]string, 0),
		headers: make(map[string]string),
	}
}

// RPC calls a Postgres function.
func (d *DatabaseClient) RPC(ctx context.Context, fn string, params interface{}) ([]byte, error) {
	return d.client.doJSON(ctx, http.MethodPost, d.client.restURL+"/rpc/"+url.PathEscape(fn), params, "")
}

// =============================================================================
// Query Builder
// =============================================================================

// QueryBuilder builds and executes database queries.
type QueryBuilder struct {
	client      *Client
	table       string
	method      string
	columns     string
	filters     []string
	orders      []string
	limitVal    *int
	offsetVal   *int
	onConflict  string
	body        []byte
	bodyErr     error
	headers     map[string]string
	count       string
	accessToken string
}

// Select specifies columns to select.
func (q *QueryBuilder) Select(columns string) *QueryBuilder {
	q.method = http.MethodGet
	q.columns = columns
	return q
}

// Insert inserts records.
func (q *QueryBuilder) Insert(data interface{}) *QueryBuilder {
	q.method = http.MethodPost
	q.setBody(data)
	q.headers["Prefer"] = "return=representation"
	return q
}

// Upsert upserts records, merging on the onConflict columns.
func (q *QueryBuilder) Upsert(data interface{}, onConflict string) *QueryBuilder {
	q.method = http.MethodPost
	q.setBody(data)
	q.headers["Prefer"] = "return=representation,resolution=merge-duplicates"
	q.onConflict = onConflict
	return q
}

// UpsertIgnore inserts records and silently skips rows that conflict on onConflict.
func (q *QueryBuilder) UpsertIgnore(data interface{}, onConflict string) *QueryBuilder {
	q.method = http.MethodPost
	q.setBody(data)
	q.headers["Prefer"] = "return=representation,resolution=ignore-duplicates"
	q.onConflict = onConflict
	return q
}

// Update updates records.
func (q *QueryBuilder) Update(data interface{}) *QueryBuilder {
	q.method = http.MethodPatch
	q.setBody(data)
	q.headers["Prefer"] = "return=representation"
	return q
}

// Delete deletes records.
func (q *QueryBuilder) Delete() *QueryBuilder {
	q.method = http.MethodDelete
	q.headers["Prefer"] = "return=representation"
	return q
}

func (q *QueryBuilder) setBody(data interface{}) {
	body, err := json.Marshal(data)
	if err != nil {
		q.bodyErr = fmt.Errorf("marshal body: %w", err)
		return
	}
	q.body = body
}

// =============================================================================
// Filters
// =============================================================================

func (q *QueryBuilder) addFilter(column string, op FilterOperator, value interface{}) *QueryBuilder {
	q.filters = append(q.filters, fmt.Sprintf("%s=%s.%s", url.QueryEscape(column), op, url.QueryEscape(fmt.Sprint(value))))
	return q
}

// Eq adds an equality filter.
func (q *QueryBuilder) Eq(column string, value interface{}) *QueryBuilder {
	return q.addFilter(column, OpEq, value)
}

// Neq adds a not-equal filter.
func (q *QueryBuilder) Neq(column string, value interface{}) *QueryBuilder {
	return q.addFilter(column, OpNeq, value)
}

// Gt adds a greater-than filter.
func (q *QueryBuilder) Gt(column string, value interface{}) *QueryBuilder {
	return q.addFilter(column, OpGt, value)
}

// Gte adds a greater-than-or-equal filter.
func (q *QueryBuilder) Gte(column string, value interface{}) *QueryBuilder {
	return q.addFilter(column, OpGte, value)
}

// Lt adds a less-than filter.
func (q *QueryBuilder) Lt(column string, value interface{}) *QueryBuilder {
	return q.addFilter(column, OpLt, value)
}

// Lte adds a less-than-or-equal filter.
func (q *QueryBuilder) Lte(column string, value interface{}) *QueryBuilder {
	return q.addFilter(column, OpLte, value)
}

// Like adds a LIKE filter.
func (q *QueryBuilder) Like(column, pattern string) *QueryBuilder {
	return q.addFilter(column, OpLike, pattern)
}

// ILike adds a case-insensitive LIKE filter.
func (q *QueryBuilder) ILike(column, pattern string) *QueryBuilder {
	return q.addFilter(column, OpILike, pattern)
}

// Is adds an IS filter (for null, true, false).
func (q *QueryBuilder) Is(column string, value interface{}) *QueryBuilder {
	return q.addFilter(column, OpIs, value)
}

// In adds an IN filter.
func (q *QueryBuilder) In(column string, values []string) *QueryBuilder {
	escaped := make([]string, len(values))
	for i, v := range values {
		escaped[i] = url.QueryEscape(v)
	}
	q.filters = append(q.filters, fmt.Sprintf("%s=in.(%s)", url.QueryEscape(column), strings.Join(escaped, ",")))
	return q
}

// Contains adds a contains filter (for arrays/jsonb). Each value is quoted as
// an array-literal element, so commas and braces stay inside one element.
func (q *QueryBuilder) Contains(column string, values []string) *QueryBuilder {
	escaped := make([]string, len(values))
	for i, v := range values {
		escaped[i] = url.QueryEscape(quoteArrayElement(v))
	}
	q.filters = append(q.filters, fmt.Sprintf("%s=cs.{%s}", url.QueryEscape(column), strings.Join(escaped, ",")))
	return q
}

var arrayElementEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

func quoteArrayElement(v string) string {
	return `"` + arrayElementEscaper.Replace(v) + `"`
}

// Or adds an OR filter group, e.g. "username.ilike.*bob*,full_name.ilike.*bob*".
func (q *QueryBuilder) Or(filters string) *QueryBuilder {
	q.filters = append(q.filters, "or=("+url.QueryEscape(filters)+")")
	return q
}

// Not negates a filter.
func (q *QueryBuilder) Not(column string, op FilterOperator, value interface{}) *QueryBuilder {
	q.filters = append(q.filters, fmt.Sprintf("%s=not.%s.%s", url.QueryEscape(column), op, url.QueryEscape(fmt.Sprint(value))))
	return q
}

// =============================================================================
// Ordering and Pagination
// =============================================================================

// Order adds an order clause.
func (q *QueryBuilder) Order(column string, opts ...OrderDirection) *QueryBuilder {
	dir := OrderAsc
	if len(opts) > 0 {
		dir = opts[0]
	}
	q.orders = append(q.orders, fmt.Sprintf("%s.%s", column, dir))
	return q
}

// Limit sets the maximum number of rows.
func (q *QueryBuilder) Limit(n int) *QueryBuilder {
	q.limitVal = &n
	return q
}

// Offset sets the number of rows to skip.
func (q *QueryBuilder) Offset(n int) *QueryBuilder {
	q.offsetVal = &n
	return q
}

// Range selects rows from..to inclusive, i.e. offset=from, limit=to-from+1.
func (q *QueryBuilder) Range(from, to int) *QueryBuilder {
	q.headers["Range"] = fmt.Sprintf("%d-%d", from, to)
	q.headers["Range-Unit"] = "items"
	return q
}

// Single expects exactly one row; zero rows yields a PGRST116 error.
func (q *QueryBuilder) Single() *QueryBuilder {
	q.headers["Accept"] = "application/vnd.pgrst.object+json"
	return q
}

// Count includes a row count in the Content-Range header.
func (q *QueryBuilder) Count(countType string) *QueryBuilder {
	q.count = countType
	return q
}

// WithToken sets the access token for RLS.
func (q *QueryBuilder) WithToken(token string) *QueryBuilder {
	q.accessToken = token
	return q
}

// =============================================================================
// Execution
// =============================================================================

func (q *QueryBuilder) run(ctx context.Context) (*response, error) {
	if q.bodyErr != nil {
		return nil, q.bodyErr
	}

	if q.count != "" {
		q.headers["Prefer"] = appendPrefer(q.headers["Prefer"], "count="+q.count)
	}

	resp, err := q.client.do(ctx, q.method, q.buildURL(), q.body, q.headers, q.accessToken)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, parseError(resp.Body, resp.StatusCode)
	}
	return resp, nil
}

// Execute executes the query and returns raw bytes.
func (q *QueryBuilder) Execute(ctx context.Context) ([]byte, error) {
	resp, err := q.run(ctx)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// ExecuteInto executes the query and unmarshals into dest.
func (q *QueryBuilder) ExecuteInto(ctx context.Context, dest interface{}) error {
	data, err := q.Execute(ctx)
	if err != nil {
		return err
	}
	if dest == nil || len(data) == 0 {
		return nil
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}

	return nil
}

// ExecuteWithCount executes the query, unmarshals into dest (if non-nil) and
// returns the total from Content-Range. The query must request a count.
func (q *QueryBuilder) ExecuteWithCount(ctx context.Context, dest interface{}) (int64, error) {
	if q.count == "" {
		q.count = CountExact
	}
	resp, err := q.run(ctx)
	if err != nil {
		return 0, err
	}
	if dest != nil && len(resp.Body) > 0 {
		if err := json.Unmarshal(resp.Body, dest); err != nil {
			return 0, fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return parseContentRangeTotal(resp.Header.Get("Content-Range")), nil
}

// buildURL builds the request URL.
func (q *QueryBuilder) buildURL() string {
	urlStr := q.client.restURL + "/" + url.PathEscape(q.table)

	params := make([]string, 0, len(q.filters)+4)

	if q.method == http.MethodGet && q.columns != "" {
		params = append(params, "select="+url.QueryEscape(q.columns))
	}

	if q.onConflict != "" {
		params = append(params, "on_conflict="+url.QueryEscape(q.onConflict))
	}

	params = append(params, q.filters...)

	if len(q.orders) > 0 {
		params = append(params, "order="+strings.Join(q.orders, ","))
	}

	if q.limitVal != nil {
		params = append(params, fmt.Sprintf("limit=%d", *q.limitVal))
	}

	if q.offsetVal != nil {
		params = append(params, fmt.Sprintf("offset=%d", *q.offsetVal))
	}

	if len(params) > 0 {
		urlStr += "?" + strings.Join(params, "&")
	}

	return urlStr
}

// appendPrefer appends to the Prefer header.
func appendPrefer(existing, addition string) string {
	if existing == "" {
		return addition
	}
	return existing + "," + addition
}

// parseContentRangeTotal parses "0-24/3573" or "*/0". Unknown totals yield -1.
func parseContentRangeTotal(header string) int64 {
	idx := strings.LastIndex(header, "/")
	if idx < 0 || idx == len(header)-1 {
		return -1
	}
	total := header[idx+1:]
	if total == "*" {
		return -1
	}
	n, err := strconv.ParseInt(total, 10, 64)
	if err != nil {
		return -1
	}
	return n
}
