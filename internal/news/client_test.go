package news

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestDemoHeadlinesByCategory(t *testing.T) {
	c := NewClient("", "", nil)
	if !c.DemoMode() {
		t.Fatal("expected demo mode with empty API key")
	}

	digest, err := c.TopHeadlines(context.Background(), "Business")
	if err != nil {
		t.Fatalf("TopHeadlines: %v", err)
	}
	if !digest.Demo {
		t.Error("digest should be flagged as demo")
	}
	if len(digest.Headlines) != 3 {
		t.Fatalf("got %d headlines, want 3", len(digest.Headlines))
	}
	if digest.Headlines[0] != "Tech Stocks Rise on AI Innovation News" {
		t.Errorf("unexpected first headline: %q", digest.Headlines[0])
	}
}

func TestDemoUnknownCategoryFallsBackToGeneral(t *testing.T) {
	c := NewClient("", "", nil)
	digest, err := c.TopHeadlines(context.Background(), "sports")
	if err != nil {
		t.Fatalf("TopHeadlines: %v", err)
	}
	if digest.Headlines[0] != demoHeadlines["general"][0] {
		t.Errorf("expected general fallback, got %q", digest.Headlines[0])
	}
	if digest.Category != "sports" {
		t.Errorf("Category = %q, want sports", digest.Category)
	}
}

func TestSummaryJoinsWithBullets(t *testing.T) {
	d := &Digest{Category: "technology", Headlines: []string{"First", "Second"}}
	got := d.Summary()
	want := "Here are the latest technology headlines: First • Second"
	if got != want {
		t.Errorf("Summary = %q, want %q", got, want)
	}
}

func TestSummaryDemoSuffix(t *testing.T) {
	d := &Digest{Category: "general", Headlines: []string{"Only"}, Demo: true}
	if !strings.Contains(d.Summary(), "(Demo mode") {
		t.Errorf("demo summary missing suffix: %q", d.Summary())
	}
}

func TestTopHeadlinesParsesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if got := q.Get("category"); got != "technology" {
			t.Errorf("category = %q, want technology", got)
		}
		if got := q.Get("country"); got != "us" {
			t.Errorf("country = %q, want us", got)
		}
		if got := q.Get("pageSize"); got != "5" {
			t.Errorf("pageSize = %q, want 5", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"status": "ok",
			"totalResults": 42,
			"articles": [{"title": "Alpha"}, {"title": "Beta"}]
		}`))
	}))
	defer srv.Close()

	c := NewClient("test-key", srv.URL, nil)
	digest, err := c.TopHeadlines(context.Background(), "Technology")
	if err != nil {
		t.Fatalf("TopHeadlines: %v", err)
	}
	if digest.Total != 42 {
		t.Errorf("Total = %d, want 42", digest.Total)
	}
	if len(digest.Headlines) != 2 || digest.Headlines[1] != "Beta" {
		t.Errorf("unexpected headlines: %v", digest.Headlines)
	}
	if digest.Demo {
		t.Error("live digest should not be flagged as demo")
	}
}

func TestTopHeadlinesAPIStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status": "error", "message": "apiKeyInvalid"}`))
	}))
	defer srv.Close()

	c := NewClient("bad-key", srv.URL, nil)
	_, err := c.TopHeadlines(context.Background(), "technology")
	if err == nil || !strings.Contains(err.Error(), "apiKeyInvalid") {
		t.Fatalf("expected apiKeyInvalid error, got %v", err)
	}
}
