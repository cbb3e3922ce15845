package index

import (
	"testing"
	"time"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := New()
	if err != nil {
		t.Fatalf("index create failed: %v", err)
	}
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestIndexSearch(t *testing.T) {
	idx := newTestIndex(t)
	docs := []Document{
		{URL: "https://news.example/budget", Title: "Budget vote splits council", Content: "The council approved the budget.", Explanations: "The figure is disputed.", CachedAt: time.Now()},
		{URL: "https://news.example/storm", Title: "Storm closes schools", Content: "Heavy snow shut schools across the region.", CachedAt: time.Now()},
	}
	for _, d := range docs {
		if err := idx.Add(d); err != nil {
			t.Fatalf("add failed: %v", err)
		}
	}

	hits, err := idx.Search("budget", 10)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(hits))
	}
	if hits[0].URL != "https://news.example/budget" {
		t.Fatalf("unexpected hit %+v", hits[0])
	}
	if hits[0].Title != "Budget vote splits council" {
		t.Fatalf("hit missing stored title: %+v", hits[0])
	}
}

func TestIndexReAddReplaces(t *testing.T) {
	idx := newTestIndex(t)
	doc := Document{URL: "https://x", Title: "original headline"}
	if err := idx.Add(doc); err != nil {
		t.Fatal(err)
	}
	doc.Title = "revised headline"
	if err := idx.Add(doc); err != nil {
		t.Fatal(err)
	}

	hits, err := idx.Search("original", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 0 {
		t.Fatalf("stale document still indexed: %+v", hits)
	}
	hits, err = idx.Search("revised", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected replacement to be searchable, got %d hits", len(hits))
	}
}

func TestIndexEmptyQuery(t *testing.T) {
	idx := newTestIndex(t)
	hits, err := idx.Search("   ", 10)
	if err != nil {
		t.Fatal(err)
	}
	if hits != nil {
		t.Fatalf("expected no hits for blank query, got %v", hits)
	}
}

func TestIndexRemove(t *testing.T) {
	idx := newTestIndex(t)
	if err := idx.Add(Document{URL: "https://x", Title: "transient story"}); err != nil {
		t.Fatal(err)
	}
	if err := idx.Remove("https://x"); err != nil {
		t.Fatal(err)
	}
	hits, err := idx.Search("transient", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 0 {
		t.Fatalf("removed document still indexed: %+v", hits)
	}
}
