// Package client queries the climate metrics HTTP API and renders the results.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/kushnirDev98/climate-metrics-dashboard/internal/model"
)

// Output formats accepted by Render.
const (
	FormatJSON  = "json"
	FormatTable = "table"
)

var (
	ErrUnauthorized  = errors.New("unauthorized")
	ErrUnknownFormat = errors.New("unknown output format")
)

// Client talks to a climate metrics server.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New returns a client for the server at baseURL. An empty token sends no
// Authorization header.
func New(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

// Candles fetches the hourly candles for city.
func (c *Client) Candles(ctx context.Context, city string) ([]model.Candle, error) {
	var out []model.Candle
	if err := c.get(ctx, "/api/climate-metrics/"+url.PathEscape(city), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Cities fetches the list of cities with data.
func (c *Client) Cities(ctx context.Context) ([]string, error) {
	var out []string
	if err := c.get(ctx, "/api/climate-metrics", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Render writes the candle series for city to w in the given format.
func Render(w io.Writer, city string, candles []model.Candle, format string) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(candles)
	case FormatTable:
		t := table.NewWriter()
		t.SetOutputMirror(w)
		t.SetTitle(city)
		t.AppendHeader(table.Row{"Hour (UTC)", "Open", "High", "Low", "Close"})
		for _, c := range candles {
			t.AppendRow(table.Row{
				c.Timestamp,
				fmt.Sprintf("%.1f", c.Open),
				fmt.Sprintf("%.1f", c.High),
				fmt.Sprintf("%.1f", c.Low),
				fmt.Sprintf("%.1f", c.Close),
			})
		}
		t.AppendFooter(table.Row{"", "", "", "Candles", len(candles)})
		t.SetStyle(table.StyleLight)
		t.Render()
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}
