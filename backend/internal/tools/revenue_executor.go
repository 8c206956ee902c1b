package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	apperrors "coyote/backend/pkg/errors"
)

// RevenueExecutor reads revenue figures from Supabase over its PostgREST API
type RevenueExecutor struct {
	baseURL    string
	apiKey     string
	location   *time.Location
	now        func() time.Time
	httpClient *http.Client
}

// NewRevenueExecutor creates a revenue executor. Day and month boundaries use loc.
func NewRevenueExecutor(supabaseURL, apiKey string, loc *time.Location) *RevenueExecutor {
	if loc == nil {
		loc = time.UTC
	}
	return &RevenueExecutor{
		baseURL:  strings.TrimRight(supabaseURL, "/"),
		apiKey:   apiKey,
		location: loc,
		now:      time.Now,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Available reports whether Supabase credentials are set
func (r *RevenueExecutor) Available(ctx context.Context) bool {
	return r.baseURL != "" && r.apiKey != ""
}

// RevenueSummary holds today's and month-to-date revenue plus MRR
type RevenueSummary struct {
	Today       float64 `json:"today"`
	MTD         float64 `json:"mtd"`
	MRR         float64 `json:"mrr"`
	Subscribers int     `json:"subscribers"`
}

// Summary sums revenue events since midnight and since the first of the month,
// and monthly rates of active subscribers.
func (r *RevenueExecutor) Summary(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	now := r.now().In(r.location)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, r.location)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, r.location)

	var summary RevenueSummary
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		rows, err := r.query(gctx, "revenue_events", url.Values{
			"select":     {"amount"},
			"created_at": {"gte." + today.Format(time.RFC3339)},
		})
		if err != nil {
			return err
		}
		summary.Today = sumColumn(rows, "amount")
		return nil
	})

	g.Go(func() error {
		rows, err := r.query(gctx, "revenue_events", url.Values{
			"select":     {"amount"},
			"created_at": {"gte." + monthStart.Format(time.RFC3339)},
		})
		if err != nil {
			return err
		}
		summary.MTD = sumColumn(rows, "amount")
		return nil
	})

	g.Go(func() error {
		rows, err := r.query(gctx, "subscribers", url.Values{
			"select": {"monthly_rate"},
			"status": {"eq.active"},
		})
		if err != nil {
			return err
		}
		summary.MRR = sumColumn(rows, "monthly_rate")
		summary.Subscribers = len(rows)
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, upstreamFailure(ToolRevenueSummary, err)
	}
	return &summary, nil
}

func (r *RevenueExecutor) query(ctx context.Context, table string, params url.Values) ([]map[string]json.Number, error) {
	endpoint := fmt.Sprintf("%s/rest/v1/%s?%s", r.baseURL, table, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, apperrors.NewToolUpstreamError(ToolRevenueSummary, "bad Supabase URL", err)
	}
	req.Header.Set("apikey", r.apiKey)
	req.Header.Set("Authorization", "Bearer "+r.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusFailure(ToolRevenueSummary, resp.StatusCode, postgrestMessage(body),
			fmt.Errorf("supabase %s returned %d", table, resp.StatusCode))
	}

	var rows []map[string]json.Number
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, apperrors.NewToolUpstreamError(ToolRevenueSummary, "unexpected Supabase response", err)
	}
	return rows, nil
}

// sumColumn adds up a numeric column; null and unparsable values count as zero
func sumColumn(rows []map[string]json.Number, column string) float64 {
	var total float64
	for _, row := range rows {
		if v, err := row[column].Float64(); err == nil {
			total += v
		}
	}
	return total
}

func postgrestMessage(body []byte) string {
	var e struct {
		Message string `json:"message"`
	}
	_ = json.Unmarshal(body, &e)
	return e.Message
}
