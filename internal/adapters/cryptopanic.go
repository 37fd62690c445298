package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/signalpipe/signalpipe/internal/model"
)

// CryptoPanicNewsSource satisfies NewsSource against the CryptoPanic
// public posts feed — grounded on
// cmd/agents/sentiment-agent/main.go's fetchNews, stripped of its BDI
// belief-base/NATS publishing and reduced to a plain score per article:
// community votes stand in for the teacher's LLM sentiment
// classification, since there's no LLM gateway wired into this package.
type CryptoPanicNewsSource struct {
	apiKey   string
	client   *http.Client
	endpoint string // overridable in tests; defaults to the real CryptoPanic posts feed
}

const cryptoPanicEndpoint = "https://cryptopanic.com/api/v1/posts/"

func NewCryptoPanicNewsSource(apiKey string, client *http.Client) *CryptoPanicNewsSource {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &CryptoPanicNewsSource{apiKey: apiKey, client: client, endpoint: cryptoPanicEndpoint}
}

type cryptoPanicResponse struct {
	Results []struct {
		PublishedAt string `json:"published_at"`
		Votes       struct {
			Positive int `json:"positive"`
			Negative int `json:"negative"`
			Liked    int `json:"liked"`
		} `json:"votes"`
	} `json:"results"`
}

// RecentArticles fetches posts tagged with symbol's ticker and scores
// each one from its vote counts: score in [-1, 1] from the
// positive/negative vote balance, confidence from total vote volume —
// a post nobody voted on carries no weight in the aggregate.
func (c *CryptoPanicNewsSource) RecentArticles(ctx context.Context, symbol model.Symbol, lookback time.Duration) ([]Article, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("cryptopanic: no API key configured")
	}

	endpoint := c.endpoint
	if endpoint == "" {
		endpoint = cryptoPanicEndpoint
	}
	url := fmt.Sprintf("%s?auth_token=%s&currencies=%s&kind=news", endpoint, c.apiKey, symbol.Ticker)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("cryptopanic: build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cryptopanic: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("cryptopanic: status %d", resp.StatusCode)
	}

	var parsed cryptoPanicResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("cryptopanic: decode response: %w", err)
	}

	cutoff := time.Now().Add(-lookback)
	articles := make([]Article, 0, len(parsed.Results))
	for _, item := range parsed.Results {
		publishedAt, err := time.Parse(time.RFC3339, item.PublishedAt)
		if err != nil || publishedAt.Before(cutoff) {
			continue
		}

		total := item.Votes.Positive + item.Votes.Negative + item.Votes.Liked
		if total == 0 {
			continue
		}

		score := float64(item.Votes.Positive-item.Votes.Negative) / float64(total)
		confidence := clamp01(float64(total) / 20.0)

		articles = append(articles, Article{Score: score, Confidence: confidence})
	}

	return articles, nil
}
