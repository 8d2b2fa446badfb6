package service

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/azkastekom/massweb/internal/models"
	"github.com/azkastekom/massweb/internal/storage"
)

type ExportFormat string

const (
	ExportCSV      ExportFormat = "csv"
	ExportJSON     ExportFormat = "json"
	ExportHTML     ExportFormat = "html"
	ExportMarkdown ExportFormat = "markdown"
)

const exportPageSize = 200

// ParseExportFormat validates a user supplied format name
func ParseExportFormat(s string) (ExportFormat, error) {
	switch f := ExportFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case ExportCSV, ExportJSON, ExportHTML, ExportMarkdown:
		return f, nil
	case "md":
		return ExportMarkdown, nil
	}
	return "", fmt.Errorf("%w: unknown export format %q", ErrInvalidArgument, s)
}

func (f ExportFormat) ContentType() string {
	switch f {
	case ExportCSV:
		return "text/csv"
	case ExportJSON:
		return "application/json"
	default:
		return "application/zip"
	}
}

func (f ExportFormat) Extension() string {
	switch f {
	case ExportCSV:
		return "csv"
	case ExportJSON:
		return "json"
	default:
		return "zip"
	}
}

// StoredExport points at an export bundle in the blob store
type StoredExport struct {
	Key         string `json:"key"`
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
}

type ExportService struct {
	logger   *zap.Logger
	contents *ContentService
	store    storage.Store
}

func NewExportService(logger *zap.Logger, contents *ContentService, store storage.Store) *ExportService {
	return &ExportService{
		logger:   logger,
		contents: contents,
		store:    store,
	}
}

// Filename is the suggested download name of an export
func (s *ExportService) Filename(projectID uint, format ExportFormat) string {
	return fmt.Sprintf("project-%d-contents.%s", projectID, format.Extension())
}

// Export writes every matching item of the project to w
func (s *ExportService) Export(ctx context.Context, projectID uint, format ExportFormat, status models.PublishStatus, w io.Writer) error {
	each := func(fn func(*models.GeneratedContent) error) error {
		filter := ContentFilter{ProjectID: projectID, Status: status}
		for page := 1; ; page++ {
			items, _, err := s.contents.FindAndCount(ctx, filter, page, exportPageSize)
			if err != nil {
				return err
			}
			for i := range items {
				if err := fn(&items[i]); err != nil {
					return err
				}
			}
			if len(items) < exportPageSize {
				return nil
			}
		}
	}

	switch format {
	case ExportCSV:
		return exportCSV(w, each)
	case ExportJSON:
		return exportJSON(w, each)
	case ExportHTML:
		return exportZip(w, each, "html", renderHTMLPage)
	case ExportMarkdown:
		return exportZip(w, each, "md", renderMarkdownPage)
	}
	return fmt.Errorf("%w: unknown export format %q", ErrInvalidArgument, format)
}

// ExportToStorage renders an export and uploads it to the blob store
func (s *ExportService) ExportToStorage(ctx context.Context, projectID uint, format ExportFormat, status models.PublishStatus) (*StoredExport, error) {
	var buf bytes.Buffer
	if err := s.Export(ctx, projectID, format, status, &buf); err != nil {
		return nil, err
	}

	key := fmt.Sprintf("projects/%d/exports/%s-%s.%s",
		projectID, time.Now().UTC().Format("20060102T150405"), uuid.NewString()[:8], format.Extension())
	url, err := s.store.Put(ctx, key, format.ContentType(), &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to store export: %w", err)
	}

	s.logger.Info("Stored export", zap.Uint("project_id", projectID), zap.String("key", key), zap.String("format", string(format)))
	return &StoredExport{Key: key, URL: url, ContentType: format.ContentType()}, nil
}

type iterator func(fn func(*models.GeneratedContent) error) error

var csvHeader = []string{"id", "slug", "title", "meta_description", "tags", "thumbnail_url", "publish_status", "published_at", "created_at", "content"}

func exportCSV(w io.Writer, each iterator) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}

	err := each(func(c *models.GeneratedContent) error {
		publishedAt := ""
		if c.PublishedAt != nil {
			publishedAt = c.PublishedAt.UTC().Format(time.RFC3339)
		}
		return cw.Write([]string{
			strconv.FormatUint(uint64(c.ID), 10),
			c.Slug,
			c.Title,
			deref(c.MetaDescription),
			strings.Join(c.Tags, ","),
			deref(c.ThumbnailURL),
			string(c.PublishStatus),
			publishedAt,
			c.CreatedAt.UTC().Format(time.RFC3339),
			c.Content,
		})
	})
	if err != nil {
		return err
	}

	cw.Flush()
	return cw.Error()
}

func exportJSON(w io.Writer, each iterator) error {
	if _, err := io.WriteString(w, "["); err != nil {
		return err
	}

	first := true
	err := each(func(c *models.GeneratedContent) error {
		if !first {
			if _, err := io.WriteString(w, ","); err != nil {
				return err
			}
		}
		first = false

		data, err := json.Marshal(c)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	})
	if err != nil {
		return err
	}

	_, err = io.WriteString(w, "]")
	return err
}

func exportZip(w io.Writer, each iterator, ext string, render func(*models.GeneratedContent) ([]byte, error)) error {
	zw := zip.NewWriter(w)

	err := each(func(c *models.GeneratedContent) error {
		body, err := render(c)
		if err != nil {
			return err
		}
		f, err := zw.Create(c.Slug + "." + ext)
		if err != nil {
			return err
		}
		_, err = f.Write(body)
		return err
	})
	if err != nil {
		return err
	}

	return zw.Close()
}

func renderHTMLPage(c *models.GeneratedContent) ([]byte, error) {
	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n")
	fmt.Fprintf(&b, "<title>%s</title>\n", html.EscapeString(c.Title))
	if c.MetaDescription != nil {
		fmt.Fprintf(&b, "<meta name=\"description\" content=\"%s\">\n", html.EscapeString(*c.MetaDescription))
	}
	if len(c.Tags) > 0 {
		fmt.Fprintf(&b, "<meta name=\"keywords\" content=\"%s\">\n", html.EscapeString(strings.Join(c.Tags, ", ")))
	}
	if c.ThumbnailURL != nil {
		fmt.Fprintf(&b, "<meta property=\"og:image\" content=\"%s\">\n", html.EscapeString(*c.ThumbnailURL))
	}
	b.WriteString("</head>\n<body>\n")
	b.WriteString(c.Content)
	b.WriteString("\n</body>\n</html>\n")
	return []byte(b.String()), nil
}

type frontMatter struct {
	Title       string     `yaml:"title"`
	Slug        string     `yaml:"slug"`
	Description string     `yaml:"description,omitempty"`
	Tags        []string   `yaml:"tags,omitempty"`
	Thumbnail   string     `yaml:"thumbnail,omitempty"`
	Date        *time.Time `yaml:"date,omitempty"`
}

func renderMarkdownPage(c *models.GeneratedContent) ([]byte, error) {
	fm := frontMatter{
		Title:       c.Title,
		Slug:        c.Slug,
		Description: deref(c.MetaDescription),
		Tags:        c.Tags,
		Thumbnail:   deref(c.ThumbnailURL),
		Date:        c.PublishedAt,
	}

	header, err := yaml.Marshal(&fm)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal front matter: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString("---\n")
	buf.Write(header)
	buf.WriteString("---\n\n")
	buf.WriteString(c.Content)
	buf.WriteString("\n")
	return buf.Bytes(), nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
