// Package exporter writes one help center article to its offline bundle.
package exporter

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/aluiziolira/kb-backup/config"
	"github.com/aluiziolira/kb-backup/metrics"
	"github.com/aluiziolira/kb-backup/models"
	"github.com/aluiziolira/kb-backup/parser"
	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	indexFile      = "index.html"
	markdownFile   = "index.md"
	videoLinksFile = "video_links.txt"

	publishedDir   = "Published"
	unpublishedDir = "Unpublished"
)

// AttachmentLister lists an article's attachments.
type AttachmentLister interface {
	ListAttachments(ctx context.Context, articleID int64) ([]models.Attachment, error)
}

// AssetDownloader saves one remote file; see helpcenter.Downloader.
type AssetDownloader interface {
	Download(ctx context.Context, rawURL, dir, filename string) (string, bool)
}

// Stats counts per-run exporter outcomes.
type Stats struct {
	AttachmentsSaved   int
	AttachmentsSkipped int
	Videos             int
	Collisions         int
	// EvictedClaims counts directories dropped from the collision cache.
	// Articles landing in an evicted directory are no longer detected.
	EvictedClaims int
}

// Exporter renders articles under cfg.OutputRoot.
type Exporter struct {
	cfg         *config.Config
	attachments AttachmentLister
	downloader  AssetDownloader
	metrics     *metrics.Metrics
	converter   *md.Converter

	// claims maps an output directory to the article that first wrote it.
	claims *lru.Cache[string, int64]
	stats  Stats
}

// New builds an exporter. m may be nil.
func New(cfg *config.Config, attachments AttachmentLister, downloader AssetDownloader, m *metrics.Metrics) (*Exporter, error) {
	e := &Exporter{
		cfg:         cfg,
		attachments: attachments,
		downloader:  downloader,
		metrics:     m,
	}
	if cfg.ResolveCollisions {
		claims, err := lru.NewWithEvict(cfg.CollisionCacheSize, e.evictClaim)
		if err != nil {
			return nil, fmt.Errorf("create collision cache: %w", err)
		}
		e.claims = claims
	}
	if cfg.Markdown {
		e.converter = md.NewConverter("", true, nil)
	}
	return e, nil
}

// evictClaim warns the first time the cache fills up, since collisions with
// evicted directories go unnoticed from then on.
func (e *Exporter) evictClaim(dir string, owner int64) {
	e.stats.EvictedClaims++
	if e.stats.EvictedClaims == 1 {
		slog.Warn("collision cache full, older output directories are no longer guarded",
			slog.Int("cache_size", e.cfg.CollisionCacheSize),
			slog.String("dir", dir),
			slog.Int64("owner", owner),
		)
	}
}

// Stats returns the counters accumulated so far.
func (e *Exporter) Stats() Stats {
	return e.stats
}

// Export writes the article's directory, assets, video links and page, and
// returns its manifest row. Any error other than a failed attachment download
// is returned.
func (e *Exporter) Export(ctx context.Context, article models.Article, h *models.Hierarchy) (*models.ExportRecord, error) {
	// Whitespace-only titles get DefaultTitle too, not only missing ones.
	title := parser.NormalizeTitle(article.Title)
	category, section := h.Resolve(article.SectionID)

	dir, err := e.articleDir(category, section, article.Draft, title, article.ID)
	if err != nil {
		return nil, err
	}
	assetsDir := filepath.Join(dir, parser.AssetsDir)
	if err := os.MkdirAll(assetsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create directory %q: %w", assetsDir, err)
	}

	attachments, err := e.attachments.ListAttachments(ctx, article.ID)
	if err != nil {
		return nil, fmt.Errorf("list attachments for article %d: %w", article.ID, err)
	}

	body, downloads := e.saveAttachments(ctx, article.Body, assetsDir, attachments)

	videos := parser.ExtractVideoLinks(body)
	if len(videos) > 0 {
		path := filepath.Join(dir, videoLinksFile)
		if err := os.WriteFile(path, []byte(strings.Join(videos, "\n")), 0o644); err != nil {
			return nil, fmt.Errorf("write %s: %w", path, err)
		}
		e.stats.Videos += len(videos)
		e.metrics.AddVideos(len(videos))
	}

	if err := writeHTML(filepath.Join(dir, indexFile), title, body, downloads); err != nil {
		return nil, err
	}
	if e.converter != nil {
		content, err := renderMarkdown(e.converter, title, body, downloads)
		if err != nil {
			return nil, fmt.Errorf("render markdown for article %d: %w", article.ID, err)
		}
		if err := os.WriteFile(filepath.Join(dir, markdownFile), []byte(content), 0o644); err != nil {
			return nil, fmt.Errorf("write %s: %w", markdownFile, err)
		}
	}

	e.metrics.IncExported()
	slog.Info("exported article",
		slog.Int64("id", article.ID),
		slog.String("title", title),
	)

	return &models.ExportRecord{
		ID:            article.ID,
		OriginalTitle: title,
		Category:      category,
		Section:       section,
		Videos:        strings.Join(videos, "|"),
		VideoCount:    len(videos),
		UpdatedAt:     article.UpdatedAt,
		Directory:     dir,
	}, nil
}

// saveAttachments downloads each usable attachment and points the body at the
// local copies. Failed or unusable attachments are left out of the listing.
func (e *Exporter) saveAttachments(ctx context.Context, body, assetsDir string, attachments []models.Attachment) (string, []models.DownloadEntry) {
	var downloads []models.DownloadEntry
	for _, a := range attachments {
		if a.ContentURL == "" || a.FileName == "" {
			e.skipAttachment()
			continue
		}

		name := a.FileName
		if e.cfg.SanitizeAttachmentNames {
			name = parser.SanitizeFileName(a.FileName)
			if name == "" {
				slog.Warn("skipping attachment with unusable file name",
					slog.String("file_name", a.FileName),
					slog.String("url", a.ContentURL),
				)
				e.skipAttachment()
				continue
			}
		}

		saved, ok := e.downloader.Download(ctx, a.ContentURL, assetsDir, name)
		if !ok {
			e.stats.AttachmentsSkipped++
			continue
		}
		e.stats.AttachmentsSaved++

		body = parser.RewriteAssetLinks(body, a.ContentURL, saved)
		downloads = append(downloads, models.DownloadEntry{
			Title:        a.FileName,
			Link:         parser.AssetPath(saved),
			SizeMB:       parser.FormatSizeMB(a.Size),
			DownloadLink: parser.AssetPath(saved),
		})
	}
	return body, downloads
}

func (e *Exporter) skipAttachment() {
	e.stats.AttachmentsSkipped++
	e.metrics.IncAttachment("skipped")
}

// articleDir derives root/category/section/state/title. When the collision
// guard is on and another article already owns that path in this run, the
// title segment gets the article id appended, then a counter until the path
// is free.
func (e *Exporter) articleDir(category, section string, draft bool, title string, id int64) (string, error) {
	state := publishedDir
	if draft {
		state = unpublishedDir
	}
	leaf := segment(title, strconv.FormatInt(id, 10))
	parent := filepath.Join(
		e.cfg.OutputRoot,
		segment(category, models.Uncategorized),
		segment(section, models.UncategorizedSection),
		state,
	)

	abs, err := filepath.Abs(filepath.Join(parent, leaf))
	if err != nil {
		return "", fmt.Errorf("resolve output directory: %w", err)
	}

	if e.claims != nil {
		dir := filepath.Dir(abs)
		for attempt := 1; ; attempt++ {
			owner, ok := e.claims.Get(abs)
			if !ok || owner == id {
				break
			}
			next := filepath.Join(dir, suffixLeaf(leaf, id, attempt))
			slog.Warn("output directory already used by another article",
				slog.String("dir", abs),
				slog.Int64("owner", owner),
				slog.Int64("article", id),
				slog.String("using", next),
			)
			e.stats.Collisions++
			e.metrics.IncCollision()
			abs = next
		}
		e.claims.Add(abs, id)
	}

	return longPath(abs), nil
}

// suffixLeaf yields leaf-id on the first attempt and leaf-id-n afterwards.
func suffixLeaf(leaf string, id int64, attempt int) string {
	if attempt == 1 {
		return fmt.Sprintf("%s-%d", leaf, id)
	}
	return fmt.Sprintf("%s-%d-%d", leaf, id, attempt)
}

// segment sanitizes name, falling back when nothing survives.
func segment(name, fallback string) string {
	if s := parser.Sanitize(name); s != "" {
		return s
	}
	return parser.Sanitize(fallback)
}
