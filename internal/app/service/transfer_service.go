package service

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sifan077/SpeedDial/config"
	"github.com/sifan077/SpeedDial/internal/app/validator"
	infraPrometheus "github.com/sifan077/SpeedDial/internal/infra/prometheus"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// CSVHeader is the column order used by both import and export.
var CSVHeader = []string{"number", "title", "url", "note", "is_active"}

const (
	ActionCreated = "created"
	ActionUpdated = "updated"
	ActionSkipped = "skipped"

	StatusSuccess = "success"
	StatusError   = "error"
)

// RowDetail reports what happened to one data row. Row is 1-based and
// excludes the header line.
type RowDetail struct {
	Row     int    `json:"row"`
	Number  string `json:"number"`
	Action  string `json:"action"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type ImportResult struct {
	SuccessCount int         `json:"success_count"`
	ErrorCount   int         `json:"error_count"`
	SkippedCount int         `json:"skipped_count"`
	Details      []RowDetail `json:"per_row_detail"`
}

func (r *ImportResult) record(d RowDetail) {
	switch {
	case d.Status == StatusSuccess:
		r.SuccessCount++
	case d.Action == ActionSkipped:
		r.SkippedCount++
		r.ErrorCount++
	default:
		r.ErrorCount++
	}
	r.Details = append(r.Details, d)
}

// ImportRow is a parsed and validated data row.
type ImportRow struct {
	Number   string
	Title    string
	URL      string
	Note     string
	IsActive bool
}

// TransferService moves entries in and out as CSV.
type TransferService struct {
	logger    *zap.Logger
	entries   EntryService
	metrics   *infraPrometheus.Metrics
	validator *validator.Validator
	maxRows   int
	now       func() time.Time
}

func NewTransferService(logger *zap.Logger, entries EntryService, metrics *infraPrometheus.Metrics, cfg config.SpeedDialConfig) *TransferService {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.WithDefaults()
	return &TransferService{
		logger:    logger,
		entries:   entries,
		metrics:   metrics,
		validator: validator.New(cfg.MaxDigits),
		maxRows:   cfg.ImportMaxRows,
		now:       time.Now,
	}
}

// ExportFilename names an export taken at t, e.g. speed-dial-export-2024-05-01-130405.csv.
func ExportFilename(t time.Time) string {
	return "speed-dial-export-" + t.Format("2006-01-02-150405") + ".csv"
}

// Export writes a UTF-8 BOM, the header and every entry ordered by number.
func (s *TransferService) Export(ctx context.Context, w io.Writer) (int, error) {
	rows, err := s.entries.ExportAll(ctx)
	if err != nil {
		return 0, err
	}

	bom := transform.NewWriter(w, unicode.UTF8BOM.NewEncoder())
	cw := csv.NewWriter(bom)
	if err := cw.Write(CSVHeader); err != nil {
		return 0, fmt.Errorf("write csv header: %w", err)
	}
	for _, row := range rows {
		active := "0"
		if row.IsActive {
			active = "1"
		}
		if err := cw.Write([]string{row.Number, row.Title, row.URL, row.Note, active}); err != nil {
			return 0, fmt.Errorf("write csv row %s: %w", row.Number, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return 0, fmt.Errorf("flush csv: %w", err)
	}
	if err := bom.Close(); err != nil {
		return 0, fmt.Errorf("flush csv: %w", err)
	}
	return len(rows), nil
}

// ReadCSV decodes r into data rows, dropping a leading BOM and a header line.
func (s *TransferService) ReadCSV(r io.Reader) ([][]string, error) {
	reader := csv.NewReader(transform.NewReader(r, unicode.UTF8BOM.NewDecoder()))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	var rows [][]string
	first := true
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, invalid("csv_file", fmt.Sprintf("malformed csv: %v", err))
		}
		if first {
			first = false
			if isHeader(record) {
				continue
			}
		}
		rows = append(rows, record)
		if len(rows) > s.maxRows {
			return nil, fmt.Errorf("%w: more than %d rows", ErrImportTooLarge, s.maxRows)
		}
	}
	return rows, nil
}

// ImportCSV reads r and applies every row.
func (s *TransferService) ImportCSV(ctx context.Context, r io.Reader) (*ImportResult, error) {
	rows, err := s.ReadCSV(r)
	if err != nil {
		return nil, err
	}
	return s.Import(ctx, rows)
}

// Import upserts each row by number. A bad row is reported and skipped;
// it never stops the rows after it.
func (s *TransferService) Import(ctx context.Context, rows [][]string) (*ImportResult, error) {
	if len(rows) > s.maxRows {
		return nil, fmt.Errorf("%w: %d rows, limit %d", ErrImportTooLarge, len(rows), s.maxRows)
	}

	result := &ImportResult{Details: make([]RowDetail, 0, len(rows))}
	for i, raw := range rows {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		detail := s.importRow(ctx, i+1, raw)
		s.metrics.ObserveImportRow(detail.Action)
		result.record(detail)
	}

	s.logger.Info("csv import finished",
		zap.Int("rows", len(rows)),
		zap.Int("success", result.SuccessCount),
		zap.Int("errors", result.ErrorCount),
		zap.Int("skipped", result.SkippedCount),
	)
	return result, nil
}

func (s *TransferService) importRow(ctx context.Context, index int, raw []string) RowDetail {
	row, err := s.ParseRow(raw)
	if err != nil {
		return RowDetail{
			Row:     index,
			Number:  validator.NormalizeNumber(column(raw, 0)),
			Action:  ActionSkipped,
			Status:  StatusError,
			Message: err.Error(),
		}
	}

	detail := RowDetail{Row: index, Number: row.Number}
	existing, err := s.entries.FindByNumber(ctx, row.Number)
	switch {
	case err == nil:
		detail.Action = ActionUpdated
		_, err = s.entries.Update(ctx, existing.ID, EntryPatch{
			Title:    &row.Title,
			URL:      &row.URL,
			Note:     &row.Note,
			IsActive: &row.IsActive,
		})
	case errors.Is(err, ErrEntryNotFound):
		detail.Action = ActionCreated
		_, err = s.entries.Create(ctx, EntryInput{
			Number:   row.Number,
			Title:    row.Title,
			URL:      row.URL,
			Note:     row.Note,
			IsActive: &row.IsActive,
		})
	default:
		detail.Action = ActionUpdated
	}

	if err != nil {
		detail.Status = StatusError
		detail.Message = rowMessage(err)
		if !errors.Is(err, ErrValidation) {
			s.logger.Error("csv import row failed", zap.Int("row", index), zap.String("number", row.Number), zap.Error(err))
		}
		return detail
	}
	detail.Status = StatusSuccess
	return detail
}

// ParseRow validates one CSV record laid out as CSVHeader. A missing
// is_active column means active.
func (s *TransferService) ParseRow(raw []string) (ImportRow, error) {
	row := ImportRow{
		Number: validator.NormalizeNumber(column(raw, 0)),
		Title:  validator.SanitizeTitle(column(raw, 1)),
		URL:    validator.NormalizeURL(column(raw, 2)),
		Note:   validator.SanitizeNote(column(raw, 3)),
	}

	if !s.validator.IsValidNumber(row.Number) {
		return row, invalid("number", fmt.Sprintf("number must be 1 to %d digits", s.validator.MaxDigits()))
	}
	if err := validateTitle(row.Title); err != nil {
		return row, err
	}
	if err := validateURL(row.URL); err != nil {
		return row, err
	}

	active, ok := ParseActiveFlag(column(raw, 4))
	if !ok {
		return row, invalid("is_active", fmt.Sprintf("unrecognised active flag %q", column(raw, 4)))
	}
	row.IsActive = active
	return row, nil
}

// ParseActiveFlag reads the is_active column. Empty means active.
func ParseActiveFlag(raw string) (bool, bool) {
	v := strings.ToLower(strings.TrimSpace(raw))
	switch v {
	case "", "1", "true", "yes", "y", "on", "active":
		return true, true
	case "0", "false", "no", "n", "off", "inactive":
		return false, true
	}
	return false, false
}

func rowMessage(err error) string {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr.Error()
	}
	return "storage error"
}

func column(row []string, i int) string {
	if i < len(row) {
		return strings.TrimSpace(row[i])
	}
	return ""
}

func isHeader(record []string) bool {
	if len(record) < 3 {
		return false
	}
	for i := 0; i < 3; i++ {
		if !strings.EqualFold(strings.TrimSpace(record[i]), CSVHeader[i]) {
			return false
		}
	}
	return true
}
