package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/azkastekom/massweb/internal/models"
	"github.com/azkastekom/massweb/internal/storage"
)

const rowInsertBatchSize = 500

// ImportResult describes a dataset that replaced a project's previous one
type ImportResult struct {
	Columns    []string `json:"columns"`
	Rows       int      `json:"rows"`
	ArchiveURL string   `json:"archive_url,omitempty"`
}

// DatasetService is the tabular store: columns and rows per project
type DatasetService struct {
	db     *gorm.DB
	logger *zap.Logger
	store  storage.Store
}

func NewDatasetService(db *gorm.DB, logger *zap.Logger, store storage.Store) *DatasetService {
	return &DatasetService{
		db:     db,
		logger: logger,
		store:  store,
	}
}

func (s *DatasetService) CountRows(ctx context.Context, projectID uint) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Row{}).Where("project_id = ?", projectID).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count rows: %w", err)
	}
	return count, nil
}

// FindRows pages through a project's rows in upload order
func (s *DatasetService) FindRows(ctx context.Context, projectID uint, offset, limit int) ([]models.Row, error) {
	var rows []models.Row
	if err := s.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("position ASC, id ASC").
		Offset(offset).
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load rows: %w", err)
	}
	return rows, nil
}

func (s *DatasetService) FindColumns(ctx context.Context, projectID uint) ([]models.Column, error) {
	var columns []models.Column
	if err := s.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("position ASC, id ASC").
		Find(&columns).Error; err != nil {
		return nil, fmt.Errorf("failed to load columns: %w", err)
	}
	return columns, nil
}

// ReplaceDataset swaps a project's columns and rows inside one transaction so
// readers never observe a half-replaced dataset
func (s *DatasetService) ReplaceDataset(ctx context.Context, projectID uint, headers []string, records [][]string) (*ImportResult, error) {
	headers, err := normalizeHeaders(headers)
	if err != nil {
		return nil, err
	}

	columns := make([]models.Column, len(headers))
	for i, h := range headers {
		columns[i] = models.Column{ProjectID: projectID, Name: h, Order: i}
	}

	rows := make([]models.Row, 0, len(records))
	for _, record := range records {
		if isBlankRecord(record) {
			continue
		}
		data := make(map[string]string, len(headers))
		for j, h := range headers {
			val := ""
			if j < len(record) {
				val = record[j]
			}
			data[h] = val
		}
		rows = append(rows, models.Row{
			ProjectID: projectID,
			Data:      datatypes.NewJSONType(data),
			Order:     len(rows),
		})
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("project_id = ?", projectID).Delete(&models.Row{}).Error; err != nil {
			return fmt.Errorf("failed to delete rows: %w", err)
		}
		if err := tx.Where("project_id = ?", projectID).Delete(&models.Column{}).Error; err != nil {
			return fmt.Errorf("failed to delete columns: %w", err)
		}
		if err := tx.Create(&columns).Error; err != nil {
			return fmt.Errorf("failed to insert columns: %w", err)
		}
		if len(rows) > 0 {
			if err := tx.CreateInBatches(&rows, rowInsertBatchSize).Error; err != nil {
				return fmt.Errorf("failed to insert rows: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Replaced dataset",
		zap.Uint("project_id", projectID),
		zap.Int("columns", len(columns)),
		zap.Int("rows", len(rows)))

	return &ImportResult{Columns: headers, Rows: len(rows)}, nil
}

// Import parses an uploaded CSV or XLSX file, archives the original and
// replaces the project's dataset with it
func (s *DatasetService) Import(ctx context.Context, projectID uint, filename string, r io.Reader) (*ImportResult, error) {
	var project models.Project
	if err := s.db.WithContext(ctx).First(&project, projectID).Error; err != nil {
		return nil, notFound(err, "project %d", projectID)
	}

	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(filename))
	var headers []string
	var records [][]string

	switch ext {
	case ".csv":
		headers, records, err = parseCSV(bytes.NewReader(raw))
	case ".xlsx":
		headers, records, err = parseXLSX(bytes.NewReader(raw))
	default:
		return nil, fmt.Errorf("%w: unsupported file type %q", ErrInvalidArgument, ext)
	}
	if err != nil {
		return nil, err
	}

	result, err := s.ReplaceDataset(ctx, projectID, headers, records)
	if err != nil {
		return nil, err
	}

	if s.store != nil {
		key := fmt.Sprintf("projects/%d/uploads/%s%s", projectID, uuid.NewString(), ext)
		url, err := s.store.Put(ctx, key, contentTypeFor(ext), bytes.NewReader(raw))
		if err != nil {
			s.logger.Warn("Failed to archive dataset upload", zap.Uint("project_id", projectID), zap.Error(err))
		} else {
			result.ArchiveURL = url
		}
	}

	return result, nil
}

func parseCSV(r io.Reader) ([]string, [][]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	all, err := reader.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: failed to parse csv: %v", ErrInvalidArgument, err)
	}
	if len(all) < 1 {
		return nil, nil, fmt.Errorf("%w: csv file is empty", ErrInvalidArgument)
	}

	headers := all[0]
	if len(headers) > 0 {
		headers[0] = strings.TrimPrefix(headers[0], "\ufeff")
	}
	return headers, all[1:], nil
}

func parseXLSX(r io.Reader) ([]string, [][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: failed to parse excel file: %v", ErrInvalidArgument, err)
	}
	defer f.Close()

	sheetName := f.GetSheetName(0)
	rows, err := f.GetRows(sheetName)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read rows: %w", err)
	}
	if len(rows) < 1 {
		return nil, nil, fmt.Errorf("%w: excel file is empty", ErrInvalidArgument)
	}

	return rows[0], rows[1:], nil
}

func normalizeHeaders(headers []string) ([]string, error) {
	out := make([]string, 0, len(headers))
	seen := make(map[string]struct{}, len(headers))

	for i, h := range headers {
		h = strings.TrimSpace(h)
		if h == "" {
			return nil, fmt.Errorf("%w: column %d has an empty header", ErrInvalidArgument, i+1)
		}
		if _, dup := seen[h]; dup {
			return nil, fmt.Errorf("%w: duplicate column %q", ErrInvalidArgument, h)
		}
		seen[h] = struct{}{}
		out = append(out, h)
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("%w: dataset has no columns", ErrInvalidArgument)
	}
	return out, nil
}

func isBlankRecord(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func contentTypeFor(ext string) string {
	switch ext {
	case ".csv":
		return "text/csv"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "application/octet-stream"
	}
}
