// Package models defines data structures for the help center backup.
package models

import "time"

// Category is a top-level help center grouping.
type Category struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Section belongs to a category and groups articles.
type Section struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	CategoryID *int64 `json:"category_id"`
}

// Article is a single help center article as returned by the listing API.
type Article struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	SectionID *int64    `json:"section_id"`
	Draft     bool      `json:"draft"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ArticlePage is one page of the article listing.
type ArticlePage struct {
	Articles []Article `json:"articles"`
	NextPage *string   `json:"next_page"`
}

// Attachment is a file attached to an article.
type Attachment struct {
	ID         int64  `json:"id"`
	ContentURL string `json:"content_url"`
	FileName   string `json:"file_name"`
	Size       int64  `json:"size"`
}

// DownloadEntry describes one downloaded attachment in the rendered page.
type DownloadEntry struct {
	Title        string
	Link         string
	SizeMB       string
	DownloadLink string
}

// ExportRecord is one manifest row per exported article.
type ExportRecord struct {
	ID            int64     `csv:"ID" json:"id"`
	OriginalTitle string    `csv:"Original_Title" json:"original_title"`
	Category      string    `csv:"Category" json:"category"`
	Section       string    `csv:"Section" json:"section"`
	Videos        string    `csv:"Videos" json:"videos"`
	VideoCount    int       `csv:"Video_Count" json:"video_count"`
	UpdatedAt     time.Time `csv:"Updated_Date" json:"updated_at"`
	Directory     string    `csv:"-" json:"directory"`
}

// BackupResult holds the overall result of a backup run.
type BackupResult struct {
	StartTime          time.Time
	EndTime            time.Time
	PageCount          int
	ArticleCount       int
	AttachmentsSaved   int
	AttachmentsSkipped int
	VideoCount         int
	PathCollisions     int
	RequestCount       int
}
