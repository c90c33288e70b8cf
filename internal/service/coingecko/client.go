package coingecko

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"SignalPulse/internal/domain/models"
	drepo "SignalPulse/internal/domain/repository"
	pkghttp "SignalPulse/pkg/http"
)

// maxIDsPerRequest is the documented page size ceiling of /coins/markets.
const maxIDsPerRequest = 250

// ErrMalformed is returned when the provider answered 2xx with a body we cannot use.
var ErrMalformed = errors.New("coingecko: malformed response")

// Client implements PriceProvider against a CoinGecko compatible REST API.
// It performs exactly one HTTP call per method invocation and never retries.
type Client struct {
	http         *pkghttp.Client
	baseURL      string
	apiKey       string
	apiKeyHeader string
	vsCurrency   string
	now          func() time.Time
}

type Option func(*Client)

func WithAPIKey(header, key string) Option {
	return func(c *Client) {
		c.apiKeyHeader = header
		c.apiKey = key
	}
}

func WithVsCurrency(cur string) Option {
	return func(c *Client) {
		if cur != "" {
			c.vsCurrency = cur
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// New creates a provider client. The HTTP client carries the request timeout.
func New(httpClient *pkghttp.Client, baseURL string, opts ...Option) drepo.PriceProvider {
	c := &Client{
		http:       httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		vsCurrency: "usd",
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) MaxBatchSize() int { return maxIDsPerRequest }

type marketRow struct {
	ID             string   `json:"id"`
	Symbol         string   `json:"symbol"`
	CurrentPrice   *float64 `json:"current_price"`
	MarketCap      *float64 `json:"market_cap"`
	TotalVolume    *float64 `json:"total_volume"`
	Change1h       *float64 `json:"price_change_percentage_1h_in_currency"`
	Change24h      *float64 `json:"price_change_percentage_24h_in_currency"`
	Change24hPlain *float64 `json:"price_change_percentage_24h"`
	Change7d       *float64 `json:"price_change_percentage_7d_in_currency"`
}

// FetchQuotes calls /coins/markets for up to MaxBatchSize ids. Rows with a missing, null or
// non-positive price are left out of the result.
func (c *Client) FetchQuotes(ctx context.Context, ids []string) (map[string]models.PriceSnapshot, error) {
	if len(ids) == 0 {
		return map[string]models.PriceSnapshot{}, nil
	}
	if len(ids) > maxIDsPerRequest {
		return nil, fmt.Errorf("coingecko markets: %d ids exceeds batch limit %d", len(ids), maxIDsPerRequest)
	}

	var rows []marketRow
	err := c.http.SendAndParse(ctx, &pkghttp.RequestOptions{
		Method:  pkghttp.MethodGet,
		URL:     c.baseURL + "/coins/markets",
		Headers: c.headers(),
		QueryParams: map[string][]string{
			"vs_currency":             {c.vsCurrency},
			"ids":                     {strings.Join(ids, ",")},
			"per_page":                {strconv.Itoa(maxIDsPerRequest)},
			"price_change_percentage": {"1h,24h,7d"},
		},
	}, &rows)
	if err != nil {
		return nil, fmt.Errorf("coingecko markets: %w", err)
	}

	fetchedAt := c.now().UTC()
	out := make(map[string]models.PriceSnapshot, len(rows))
	for _, r := range rows {
		if r.ID == "" || !validPrice(r.CurrentPrice) {
			continue
		}
		change24h := r.Change24h
		if change24h == nil {
			change24h = r.Change24hPlain
		}
		out[r.ID] = models.PriceSnapshot{
			ProviderID: r.ID,
			Price:      *r.CurrentPrice,
			Change1h:   finiteOrZero(r.Change1h),
			Change24h:  finiteOrZero(change24h),
			Change7d:   finiteOrZero(r.Change7d),
			Volume24h:  finiteOrZero(r.TotalVolume),
			MarketCap:  finiteOrZero(r.MarketCap),
			FetchedAt:  fetchedAt,
		}
	}
	return out, nil
}

type chartResponse struct {
	Prices       [][]float64 `json:"prices"`
	TotalVolumes [][]float64 `json:"total_volumes"`
}

// FetchHistory calls /coins/{id}/market_chart and returns points ordered by time.
// Volumes are matched to prices by timestamp; unmatched points carry zero volume.
func (c *Client) FetchHistory(ctx context.Context, id string, days int) ([]models.PricePoint, error) {
	if days < 1 {
		days = 1
	}
	var chart chartResponse
	err := c.http.SendAndParse(ctx, &pkghttp.RequestOptions{
		Method:  pkghttp.MethodGet,
		URL:     c.baseURL + "/coins/" + id + "/market_chart",
		Headers: c.headers(),
		QueryParams: map[string][]string{
			"vs_currency": {c.vsCurrency},
			"days":        {strconv.Itoa(days)},
		},
	}, &chart)
	if err != nil {
		return nil, fmt.Errorf("coingecko market_chart %s: %w", id, err)
	}
	if chart.Prices == nil {
		return nil, fmt.Errorf("coingecko market_chart %s: %w", id, ErrMalformed)
	}

	volumes := make(map[int64]float64, len(chart.TotalVolumes))
	for _, v := range chart.TotalVolumes {
		if len(v) == 2 && isFinite(v[1]) {
			volumes[int64(v[0])] = v[1]
		}
	}
	points := make([]models.PricePoint, 0, len(chart.Prices))
	var last int64
	for _, p := range chart.Prices {
		if len(p) != 2 || !isFinite(p[1]) || p[1] <= 0 {
			continue
		}
		ms := int64(p[0])
		if ms <= last {
			continue
		}
		last = ms
		points = append(points, models.PricePoint{
			Time:   time.UnixMilli(ms).UTC(),
			Price:  p[1],
			Volume: volumes[ms],
		})
	}
	return points, nil
}

func (c *Client) headers() map[string]string {
	h := map[string]string{"Accept": "application/json"}
	if c.apiKey != "" && c.apiKeyHeader != "" {
		h[c.apiKeyHeader] = c.apiKey
	}
	return h
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func validPrice(p *float64) bool {
	return p != nil && isFinite(*p) && *p > 0
}

func finiteOrZero(p *float64) float64 {
	if p == nil || !isFinite(*p) {
		return 0
	}
	return *p
}
