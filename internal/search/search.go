package search

import (
	"context"
	"errors"

	"github.com/mohammad-safakhou/newscheck/internal/search/brave"
	"github.com/mohammad-safakhou/newscheck/internal/search/models"
	"github.com/mohammad-safakhou/newscheck/internal/search/serper"
)

// WebSearcher finds up to k web results for a query.
type WebSearcher interface {
	Discover(ctx context.Context, q string, k int) ([]models.Result, error)
}

type Provider string

const (
	SerperProvider Provider = "serper"
	BraveProvider  Provider = "brave"
)

var ErrUnsupportedProvider = errors.New("unsupported search provider")

func NewWebSearcher(provider Provider, apiKey string) (WebSearcher, error) {
	switch provider {
	case SerperProvider:
		return serper.Search{ApiKey: apiKey}, nil
	case BraveProvider:
		return brave.Search{ApiKey: apiKey}, nil
	default:
		return nil, ErrUnsupportedProvider
	}
}
