// Package backup drives a full help center export.
package backup

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/aluiziolira/kb-backup/config"
	"github.com/aluiziolira/kb-backup/exporter"
	"github.com/aluiziolira/kb-backup/helpcenter"
	"github.com/aluiziolira/kb-backup/metrics"
	"github.com/aluiziolira/kb-backup/models"
	"github.com/aluiziolira/kb-backup/pipeline"
)

// API is the subset of the help center client a run needs.
type API interface {
	exporter.TaxonomyLister
	exporter.AttachmentLister
	FirstArticlesURL() string
	ListArticles(ctx context.Context, pageURL string) (*models.ArticlePage, error)
	RequestCount() int
}

// Runner walks the article listing and exports every article it returns.
type Runner struct {
	cfg      *config.Config
	api      API
	exporter *exporter.Exporter
	Metrics  *metrics.Metrics

	hierarchy *models.Hierarchy
}

// NewRunner wires a help center client, downloader and exporter from cfg.
func NewRunner(cfg *config.Config) (*Runner, error) {
	m := metrics.New()
	client, err := helpcenter.NewClient(cfg, m)
	if err != nil {
		return nil, fmt.Errorf("create help center client: %w", err)
	}
	downloader := helpcenter.NewDownloader(client.HTTPClient(), m)
	return NewRunnerWith(cfg, client, downloader, m)
}

// NewRunnerWith builds a runner around an existing API and downloader.
func NewRunnerWith(cfg *config.Config, api API, downloader exporter.AssetDownloader, m *metrics.Metrics) (*Runner, error) {
	exp, err := exporter.New(cfg, api, downloader, m)
	if err != nil {
		return nil, err
	}
	return &Runner{
		cfg:      cfg,
		api:      api,
		exporter: exp,
		Metrics:  m,
	}, nil
}

// Prepare fetches the category/section hierarchy and creates the output root.
// It runs at most once; Run calls it when the caller has not.
func (r *Runner) Prepare(ctx context.Context) error {
	if r.hierarchy != nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	h, err := exporter.BuildHierarchy(ctx, r.api)
	if err != nil {
		return fmt.Errorf("build hierarchy: %w", err)
	}
	if err := os.MkdirAll(r.cfg.OutputRoot, 0o755); err != nil {
		return fmt.Errorf("create output root %q: %w", r.cfg.OutputRoot, err)
	}
	r.hierarchy = h
	return nil
}

// Run follows next_page links until the listing ends, exporting each article
// and pushing its manifest row into p. The first error aborts the run. Rows
// already pushed stay in the pipeline.
func (r *Runner) Run(ctx context.Context, p *pipeline.Pipeline) (*models.BackupResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	result := &models.BackupResult{StartTime: time.Now()}
	defer r.finish(result)

	if err := r.Prepare(ctx); err != nil {
		return result, err
	}
	h := r.hierarchy

	pageURL := r.api.FirstArticlesURL()
	for pageURL != "" {
		page, err := r.api.ListArticles(ctx, pageURL)
		if err != nil {
			return result, fmt.Errorf("list articles: %w", err)
		}
		result.PageCount++
		slog.Debug("fetched article page",
			slog.Int("page", result.PageCount),
			slog.Int("articles", len(page.Articles)),
			slog.String("url", pageURL),
		)

		for _, article := range page.Articles {
			if err := ctx.Err(); err != nil {
				return result, fmt.Errorf("backup interrupted: %w", err)
			}
			record, err := r.exporter.Export(ctx, article, h)
			if err != nil {
				return result, fmt.Errorf("export article %d: %w", article.ID, err)
			}
			result.ArticleCount++
			if err := p.Process(record); err != nil {
				return result, fmt.Errorf("queue manifest row: %w", err)
			}
		}

		pageURL = ""
		if page.NextPage != nil {
			pageURL = *page.NextPage
		}
	}

	return result, nil
}

func (r *Runner) finish(result *models.BackupResult) {
	stats := r.exporter.Stats()
	result.EndTime = time.Now()
	result.AttachmentsSaved = stats.AttachmentsSaved
	result.AttachmentsSkipped = stats.AttachmentsSkipped
	result.VideoCount = stats.Videos
	result.PathCollisions = stats.Collisions
	result.RequestCount = r.api.RequestCount()
}
