package index

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve"
)

// Document is one indexed analysis.
type Document struct {
	URL          string    `json:"url"`
	Title        string    `json:"title"`
	Content      string    `json:"content"`
	Explanations string    `json:"explanations"`
	CachedAt     time.Time `json:"cached_at"`
}

// Hit is one search result.
type Hit struct {
	URL   string  `json:"url"`
	Title string  `json:"title"`
	Score float64 `json:"score"`
}

// Index is an in-memory full-text index over cached analyses, warmed from
// the store at startup and updated as analyses complete.
type Index struct {
	mu  sync.Mutex
	idx bleve.Index
}

func New() (*Index, error) {
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("create search index: %w", err)
	}
	return &Index{idx: idx}, nil
}

// Add indexes one analysis keyed by URL; re-adding replaces the previous
// document.
func (i *Index) Add(doc Document) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if err := i.idx.Index(doc.URL, doc); err != nil {
		return fmt.Errorf("index %s: %w", doc.URL, err)
	}
	return nil
}

// Remove drops a document from the index.
func (i *Index) Remove(url string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.idx.Delete(url)
}

// Search runs a match query over all fields and returns up to limit hits.
func (i *Index) Search(query string, limit int) ([]Hit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}
	req := bleve.NewSearchRequestOptions(bleve.NewMatchQuery(query), limit, 0, false)
	req.Fields = []string{"title"}

	i.mu.Lock()
	res, err := i.idx.Search(req)
	i.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", query, err)
	}

	hits := make([]Hit, 0, len(res.Hits))
	for _, hit := range res.Hits {
		h := Hit{URL: hit.ID, Score: hit.Score}
		if title, ok := hit.Fields["title"].(string); ok {
			h.Title = title
		}
		hits = append(hits, h)
	}
	return hits, nil
}

// Close releases index resources.
func (i *Index) Close() error { return i.idx.Close() }
