package providers

import (
	"context"
	"net/http"
	"time"
)

// Crawler calls the crawl service that fetches and screenshots web pages.
type Crawler struct {
	client client
}

func NewCrawler(baseURL, apiKey string, timeout time.Duration) *Crawler {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Crawler{client: newClient(baseURL, apiKey, timeout)}
}

// CrawlRequest asks for one page fetch. With CallbackURL set the service
// acknowledges immediately and POSTs the result to the callback when done.
type CrawlRequest struct {
	URL         string `json:"url"`
	Method      string `json:"method" enum:"direct,browser"`
	CallbackURL string `json:"callback_url,omitempty"`
}

// CrawlResult carries the fetched page and extracted brand material.
type CrawlResult struct {
	PageSource string         `json:"page_source"`
	Screenshot string         `json:"screenshot,omitempty"`
	BrandData  map[string]any `json:"brand_data,omitempty"`
}

// Crawl fetches a page and waits for the result. The browser method renders
// JavaScript and takes a screenshot; direct is a plain GET.
func (c *Crawler) Crawl(ctx context.Context, pageURL, method string) (*CrawlResult, error) {
	var resp CrawlResult
	err := c.client.do(ctx, http.MethodPost, "v1/crawl", CrawlRequest{URL: pageURL, Method: method}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// Submit queues a crawl; the service reports back to callbackURL.
func (c *Crawler) Submit(ctx context.Context, pageURL, method, callbackURL string) error {
	req := CrawlRequest{URL: pageURL, Method: method, CallbackURL: callbackURL}
	return c.client.do(ctx, http.MethodPost, "v1/crawl", req, nil)
}
