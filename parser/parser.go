package parser

import (
	"fmt"
	"math"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/aluiziolira/kb-backup/models"
)

// MaxNameLength bounds every sanitized path segment, in characters.
const MaxNameLength = 50

// DefaultTitle replaces empty article titles.
const DefaultTitle = "No Title"

// AssetsDir is the per-article directory holding downloaded attachments.
const AssetsDir = "assets"

var (
	restrictedChars = strings.NewReplacer(
		`\`, "", "/", "", "*", "", "?", "", ":", "",
		`"`, "", "<", "", ">", "", "|", "",
	)
	videoSrcPattern = regexp.MustCompile(`src="([^"]*(?:youtube\.com|vimeo\.com|player\.vimeo)[^"]*)"`)
)

// Sanitize turns a display name into a filesystem-safe path segment.
func Sanitize(name string) string {
	clean := restrictedChars.Replace(name)
	return strings.TrimSpace(truncate(clean, MaxNameLength))
}

// SanitizeFileName is Sanitize for attachment names: the extension survives
// truncation. Names that reduce to nothing, "." or ".." return "".
func SanitizeFileName(name string) string {
	clean := strings.TrimSpace(restrictedChars.Replace(name))
	if clean == "." || clean == ".." {
		return ""
	}
	if len([]rune(clean)) <= MaxNameLength {
		return clean
	}

	ext := filepath.Ext(clean)
	extLen := len([]rune(ext))
	if extLen == 0 || extLen >= MaxNameLength {
		return strings.TrimSpace(truncate(clean, MaxNameLength))
	}
	stem := strings.TrimSpace(truncate(strings.TrimSuffix(clean, ext), MaxNameLength-extLen))
	if stem == "" {
		return ""
	}
	return stem + ext
}

// NormalizeTitle substitutes DefaultTitle for blank titles.
func NormalizeTitle(title string) string {
	if strings.TrimSpace(title) == "" {
		return DefaultTitle
	}
	return title
}

// ExtractVideoLinks returns embedded YouTube and Vimeo sources in document order.
func ExtractVideoLinks(body string) []string {
	matches := videoSrcPattern.FindAllStringSubmatch(body, -1)
	if len(matches) == 0 {
		return nil
	}
	links := make([]string, 0, len(matches))
	for _, m := range matches {
		links = append(links, m[1])
	}
	return links
}

// AssetPath is the page-relative link to a downloaded attachment.
func AssetPath(filename string) string {
	return AssetsDir + "/" + filename
}

// RewriteAssetLinks replaces every occurrence of contentURL with the local asset path.
func RewriteAssetLinks(body, contentURL, filename string) string {
	if contentURL == "" {
		return body
	}
	return strings.ReplaceAll(body, contentURL, AssetPath(filename))
}

// FormatSizeMB renders a byte count in megabytes with one decimal.
func FormatSizeMB(size int64) string {
	mb := float64(size) / (1024 * 1024)
	return strconv.FormatFloat(math.Round(mb*10)/10, 'f', 1, 64)
}

// ValidateRecord ensures a manifest row carries a resolved taxonomy.
func ValidateRecord(r *models.ExportRecord) error {
	if r == nil {
		return fmt.Errorf("record is nil")
	}
	if strings.TrimSpace(r.Category) == "" {
		return fmt.Errorf("record %d missing category", r.ID)
	}
	if strings.TrimSpace(r.Section) == "" {
		return fmt.Errorf("record %d missing section", r.ID)
	}
	return nil
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
