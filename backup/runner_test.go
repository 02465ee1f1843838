package backup

import (
	"context"
	"encoding/csv"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/aluiziolira/kb-backup/config"
	"github.com/aluiziolira/kb-backup/helpcenter"
	"github.com/aluiziolira/kb-backup/metrics"
	"github.com/aluiziolira/kb-backup/pipeline"
	"github.com/jarcoal/httpmock"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

const testBaseURL = "http://example.test/api/v2/help_center"

type harness struct {
	cfg       *config.Config
	runner    *Runner
	transport *httpmock.MockTransport
	metrics   *metrics.Metrics
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	root := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.BaseURL = testBaseURL
	cfg.Email = "ops@example.com"
	cfg.APIToken = "secret"
	cfg.OutputRoot = filepath.Join(root, "KB_Backup")
	cfg.ManifestFile = filepath.Join(cfg.OutputRoot, "manifest.csv")

	m := metrics.New()
	client, err := helpcenter.NewClient(cfg, m)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	transport := httpmock.NewMockTransport()
	client.WithTransport(transport)

	runner, err := NewRunnerWith(cfg, client, helpcenter.NewDownloader(client.HTTPClient(), m), m)
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	return &harness{cfg: cfg, runner: runner, transport: transport, metrics: m}
}

func (h *harness) registerTaxonomy() {
	h.transport.RegisterResponder("GET", testBaseURL+"/categories.json",
		httpmock.NewStringResponder(http.StatusOK, `{"categories":[{"id":1,"name":"General"}]}`))
	h.transport.RegisterResponder("GET", testBaseURL+"/sections.json",
		httpmock.NewStringResponder(http.StatusOK, `{"sections":[{"id":10,"name":"Getting Started","category_id":1}]}`))
}

func (h *harness) newPipeline(t *testing.T) *pipeline.Pipeline {
	t.Helper()
	writer, err := pipeline.NewCSVWriter(h.cfg.ManifestFile)
	if err != nil {
		t.Fatalf("create manifest writer: %v", err)
	}
	p := pipeline.NewPipeline(context.Background(), writer, h.cfg)
	p.Start()
	return p
}

func readManifest(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open manifest: %v", err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	return rows
}

func TestRunSetupGuideEndToEnd(t *testing.T) {
	h := newHarness(t)
	h.registerTaxonomy()

	first := testBaseURL + "/en-us/articles.json"
	h.transport.RegisterResponder("GET", first, httpmock.NewStringResponder(http.StatusOK,
		`{"articles":[{"id":1,"title":"Setup Guide","body":"<p>See video</p><img src=\"http://x/img.png\">","section_id":10,"draft":false,"updated_at":"2024-03-01T10:00:00Z"}],
		  "next_page":"`+first+`?page=2"}`))
	h.transport.RegisterResponder("GET", first+"?page=2", httpmock.NewStringResponder(http.StatusOK,
		`{"articles":[{"id":2,"title":"Internal Notes","body":"<iframe src=\"https://player.vimeo.com/video/9\"></iframe>","section_id":999,"draft":true,"updated_at":"2024-04-02T08:30:00Z"}],
		  "next_page":null}`))
	h.transport.RegisterResponder("GET", testBaseURL+"/articles/1/attachments.json", httpmock.NewStringResponder(http.StatusOK,
		`{"article_attachments":[{"id":100,"content_url":"http://x/img.png","file_name":"img.png","size":2097152}]}`))
	h.transport.RegisterResponder("GET", testBaseURL+"/articles/2/attachments.json", httpmock.NewStringResponder(http.StatusOK,
		`{"article_attachments":[]}`))

	var downloadAuth string
	h.transport.RegisterResponder("GET", "http://x/img.png", func(req *http.Request) (*http.Response, error) {
		downloadAuth = req.Header.Get("Authorization")
		return httpmock.NewStringResponse(http.StatusOK, "PNGDATA"), nil
	})

	p := h.newPipeline(t)
	result, err := h.runner.Run(context.Background(), p)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close pipeline: %v", err)
	}

	guideDir := filepath.Join(h.cfg.OutputRoot, "General", "Getting Started", "Published", "Setup Guide")
	asset, err := os.ReadFile(filepath.Join(guideDir, "assets", "img.png"))
	if err != nil || string(asset) != "PNGDATA" {
		t.Fatalf("asset = %q, err = %v", asset, err)
	}
	page, err := os.ReadFile(filepath.Join(guideDir, "index.html"))
	if err != nil {
		t.Fatalf("read index.html: %v", err)
	}
	if !strings.Contains(string(page), `<img src="assets/img.png">`) {
		t.Fatalf("body not rewritten:\n%s", page)
	}
	if downloadAuth != "" {
		t.Fatalf("attachment download should not carry credentials, got %q", downloadAuth)
	}

	notesDir := filepath.Join(h.cfg.OutputRoot, "Uncategorized", "Uncategorized-Section", "Unpublished", "Internal Notes")
	links, err := os.ReadFile(filepath.Join(notesDir, "video_links.txt"))
	if err != nil || string(links) != "https://player.vimeo.com/video/9" {
		t.Fatalf("video_links.txt = %q, err = %v", links, err)
	}

	want := [][]string{
		{"ID", "Original_Title", "Category", "Section", "Videos", "Video_Count", "Updated_Date"},
		{"1", "Setup Guide", "General", "Getting Started", "", "0", "2024-03-01T10:00:00Z"},
		{"2", "Internal Notes", "Uncategorized", "Uncategorized-Section", "https://player.vimeo.com/video/9", "1", "2024-04-02T08:30:00Z"},
	}
	if rows := readManifest(t, h.cfg.ManifestFile); !reflect.DeepEqual(rows, want) {
		t.Fatalf("manifest = %v, want %v", rows, want)
	}

	if result.PageCount != 2 || result.ArticleCount != 2 {
		t.Fatalf("pages=%d articles=%d, want 2 and 2", result.PageCount, result.ArticleCount)
	}
	if result.AttachmentsSaved != 1 || result.VideoCount != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.RequestCount != 6 {
		t.Fatalf("request count = %d, want 6", result.RequestCount)
	}
	if got := testutil.ToFloat64(h.metrics.ArticlesExportedTotal); got != 2 {
		t.Fatalf("exported metric = %v, want 2", got)
	}
}

func TestRunAbortsOnAttachmentListingError(t *testing.T) {
	h := newHarness(t)
	h.registerTaxonomy()

	first := testBaseURL + "/en-us/articles.json"
	h.transport.RegisterResponder("GET", first, httpmock.NewStringResponder(http.StatusOK,
		`{"articles":[{"id":1,"title":"One","body":"","section_id":10},{"id":2,"title":"Two","body":"","section_id":10}],"next_page":null}`))
	h.transport.RegisterResponder("GET", testBaseURL+"/articles/1/attachments.json",
		httpmock.NewStringResponder(http.StatusForbidden, ""))

	p := h.newPipeline(t)
	result, err := h.runner.Run(context.Background(), p)
	if err == nil {
		t.Fatalf("expected run to fail")
	}
	var forbidden helpcenter.ErrForbidden
	if !errors.As(err, &forbidden) {
		t.Fatalf("expected forbidden error, got %v", err)
	}
	if result.ArticleCount != 0 {
		t.Fatalf("articles = %d, want 0", result.ArticleCount)
	}
	if calls := h.transport.GetCallCountInfo()["GET "+testBaseURL+"/articles/2/attachments.json"]; calls != 0 {
		t.Fatalf("second article should not be visited, got %d calls", calls)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close pipeline: %v", err)
	}
	if rows := readManifest(t, h.cfg.ManifestFile); len(rows) != 1 {
		t.Fatalf("manifest rows = %d, want header only", len(rows))
	}
}

func TestRunFailsWhenHierarchyUnavailable(t *testing.T) {
	h := newHarness(t)
	h.transport.RegisterResponder("GET", testBaseURL+"/categories.json",
		httpmock.NewStringResponder(http.StatusUnauthorized, ""))

	p := h.newPipeline(t)
	defer p.Close()

	_, err := h.runner.Run(context.Background(), p)
	var unauthorized helpcenter.ErrUnauthorized
	if !errors.As(err, &unauthorized) {
		t.Fatalf("expected unauthorized error, got %v", err)
	}
	if calls := h.transport.GetCallCountInfo()["GET "+testBaseURL+"/en-us/articles.json"]; calls != 0 {
		t.Fatalf("articles should not be listed, got %d calls", calls)
	}
}

func TestPrepareFetchesHierarchyOnce(t *testing.T) {
	h := newHarness(t)
	h.registerTaxonomy()
	h.transport.RegisterResponder("GET", testBaseURL+"/en-us/articles.json",
		httpmock.NewStringResponder(http.StatusOK, `{"articles":[],"next_page":null}`))

	if err := h.runner.Prepare(context.Background()); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if info, err := os.Stat(h.cfg.OutputRoot); err != nil || !info.IsDir() {
		t.Fatalf("output root missing after prepare: %v", err)
	}

	p := h.newPipeline(t)
	if _, err := h.runner.Run(context.Background(), p); err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close pipeline: %v", err)
	}
	if calls := h.transport.GetCallCountInfo()["GET "+testBaseURL+"/categories.json"]; calls != 1 {
		t.Fatalf("categories fetched %d times, want 1", calls)
	}
}

func TestPrepareFailureLeavesOutputUntouched(t *testing.T) {
	h := newHarness(t)
	h.transport.RegisterResponder("GET", testBaseURL+"/categories.json",
		httpmock.NewStringResponder(http.StatusUnauthorized, ""))

	err := h.runner.Prepare(context.Background())
	var unauthorized helpcenter.ErrUnauthorized
	if !errors.As(err, &unauthorized) {
		t.Fatalf("expected unauthorized error, got %v", err)
	}
	if _, err := os.Stat(h.cfg.OutputRoot); !os.IsNotExist(err) {
		t.Fatalf("output root should not exist, stat err = %v", err)
	}
}

func TestRunStopsWhenCanceled(t *testing.T) {
	h := newHarness(t)
	h.registerTaxonomy()

	ctx, cancel := context.WithCancel(context.Background())
	first := testBaseURL + "/en-us/articles.json"
	h.transport.RegisterResponder("GET", first, func(req *http.Request) (*http.Response, error) {
		cancel()
		return httpmock.NewStringResponse(http.StatusOK,
			`{"articles":[{"id":1,"title":"One","body":"","section_id":10}],"next_page":null}`), nil
	})

	p := h.newPipeline(t)
	defer p.Close()

	result, err := h.runner.Run(ctx, p)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if result.ArticleCount != 0 {
		t.Fatalf("articles = %d, want 0", result.ArticleCount)
	}
}

func TestRunEmptyListingCreatesOutputRoot(t *testing.T) {
	h := newHarness(t)
	h.registerTaxonomy()
	h.transport.RegisterResponder("GET", testBaseURL+"/en-us/articles.json",
		httpmock.NewStringResponder(http.StatusOK, `{"articles":[],"next_page":null}`))

	p := h.newPipeline(t)
	result, err := h.runner.Run(context.Background(), p)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close pipeline: %v", err)
	}
	if info, err := os.Stat(h.cfg.OutputRoot); err != nil || !info.IsDir() {
		t.Fatalf("output root missing: %v", err)
	}
	if result.PageCount != 1 || result.ArticleCount != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
}
