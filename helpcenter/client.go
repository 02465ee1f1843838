// Package helpcenter talks to the Zendesk Help Center REST API.
package helpcenter

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/aluiziolira/kb-backup/config"
	"github.com/aluiziolira/kb-backup/metrics"
	"github.com/aluiziolira/kb-backup/models"
	"github.com/gocolly/colly/v2"
)

// Client issues authenticated listing calls against the help center.
type Client struct {
	cfg       *config.Config
	baseURL   string
	auth      string
	collector *colly.Collector
	transport http.RoundTripper
	metrics   *metrics.Metrics

	requestCount int64
}

// NewClient builds a client configured from cfg. m may be nil.
func NewClient(cfg *config.Config, m *metrics.Metrics) (*Client, error) {
	baseURL := cfg.HelpCenterURL()
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("base url must include a host")
	}

	collector := colly.NewCollector(
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
	)
	collector.MaxBodySize = 0
	collector.SetRequestTimeout(cfg.Timeout)

	if cfg.Delay > 0 || cfg.RandomDelay > 0 {
		if err := collector.Limit(&colly.LimitRule{
			DomainGlob:  "*",
			Parallelism: 1,
			Delay:       cfg.Delay,
			RandomDelay: cfg.RandomDelay,
		}); err != nil {
			return nil, fmt.Errorf("configure rate limits: %w", err)
		}
	}

	c := &Client{
		cfg:       cfg,
		baseURL:   baseURL,
		auth:      basicAuth(cfg.Email, cfg.APIToken),
		collector: collector,
		metrics:   m,
	}
	c.WithTransport(newTransport(cfg))
	return c, nil
}

func newTransport(cfg *config.Config) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
}

// WithTransport swaps the round tripper used by the listing calls and by
// HTTPClient.
func (c *Client) WithTransport(rt http.RoundTripper) {
	c.transport = rt
	c.collector.WithTransport(rt)
}

// HTTPClient returns a plain client sharing the listing transport, for
// streaming downloads.
func (c *Client) HTTPClient() *http.Client {
	return &http.Client{Transport: c.transport, Timeout: c.cfg.Timeout}
}

// RequestCount reports how many listing calls were issued.
func (c *Client) RequestCount() int {
	return int(atomic.LoadInt64(&c.requestCount))
}

// ListCategories returns every category. The endpoint is read as a single page.
func (c *Client) ListCategories(ctx context.Context) ([]models.Category, error) {
	var res struct {
		Categories []models.Category `json:"categories"`
	}
	if err := c.getJSON(ctx, "categories", c.baseURL+"/categories.json", &res); err != nil {
		return nil, err
	}
	return res.Categories, nil
}

// ListSections returns every section. The endpoint is read as a single page.
func (c *Client) ListSections(ctx context.Context) ([]models.Section, error) {
	var res struct {
		Sections []models.Section `json:"sections"`
	}
	if err := c.getJSON(ctx, "sections", c.baseURL+"/sections.json", &res); err != nil {
		return nil, err
	}
	return res.Sections, nil
}

// FirstArticlesURL is the first page of the localized article listing.
func (c *Client) FirstArticlesURL() string {
	return fmt.Sprintf("%s/%s/articles.json", c.baseURL, c.cfg.Locale)
}

// ListArticles fetches one listing page. pageURL is either FirstArticlesURL or
// a next_page link returned by the previous page.
func (c *Client) ListArticles(ctx context.Context, pageURL string) (*models.ArticlePage, error) {
	var page models.ArticlePage
	if err := c.getJSON(ctx, "articles", pageURL, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// ListAttachments returns an article's attachments. The endpoint is read as a
// single page.
func (c *Client) ListAttachments(ctx context.Context, articleID int64) ([]models.Attachment, error) {
	var res struct {
		Attachments []models.Attachment `json:"article_attachments"`
	}
	endpoint := fmt.Sprintf("%s/articles/%d/attachments.json", c.baseURL, articleID)
	if err := c.getJSON(ctx, "attachments", endpoint, &res); err != nil {
		return nil, err
	}
	return res.Attachments, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint, rawURL string, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// Clones share the HTTP backend but not callbacks, so each call gets its
	// own response capture.
	collector := c.collector.Clone()
	var (
		body   []byte
		status int
	)
	collector.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		body = r.Body
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			status = r.StatusCode
		}
	})

	hdr := http.Header{}
	hdr.Set("Accept", "application/json")
	if c.auth != "" {
		hdr.Set("Authorization", c.auth)
	}

	atomic.AddInt64(&c.requestCount, 1)
	c.metrics.IncRequest(endpoint)
	start := time.Now()
	err := collector.Request(http.MethodGet, rawURL, nil, nil, hdr)
	c.metrics.ObserveDuration(time.Since(start))
	if err != nil {
		classified := ClassifyError(err, status)
		c.metrics.IncError(ErrorLabel(classified))
		return fmt.Errorf("get %s: %w", rawURL, classified)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	return nil
}

func basicAuth(user, password string) string {
	if user == "" && password == "" {
		return ""
	}
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+password))
}
