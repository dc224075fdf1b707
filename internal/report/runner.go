// Package report executes report definitions: query, CSV, mail, clean up.
package report

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/reportmail/internal/catalog"
	"github.com/reportmail/internal/mailer"
	"github.com/reportmail/internal/store"
)

// DateLayout is the DD-MM-YYYY stamp used in file names and subjects.
const DateLayout = "02-01-2006"

// Querier runs a query and returns every row.
type Querier interface {
	Query(ctx context.Context, query string) (*store.Result, error)
}

// Sender mails a file to the given recipients.
type Sender interface {
	SendReport(to []string, subject, body, path string) error
}

// Outcome describes what happened to one definition.
type Outcome struct {
	Rows    int
	Path    string
	Subject string
	Skipped bool
}

// Summary counts the outcomes of a batch.
type Summary struct {
	Sent    int
	Skipped int
}

// Runner executes definitions one at a time against a shared connection.
type Runner struct {
	db        Querier
	mail      Sender
	outputDir string
	now       func() time.Time
	logger    *slog.Logger
}

// NewRunner returns a Runner writing CSV files under outputDir.
func NewRunner(db Querier, mail Sender, outputDir string, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{db: db, mail: mail, outputDir: outputDir, now: time.Now, logger: logger}
}

// WithClock returns a copy of r that reads the current time from now.
func (r *Runner) WithClock(now func() time.Time) *Runner {
	cp := *r
	cp.now = now
	return &cp
}

// ReportDate returns the stamp for a run at t: the previous calendar day.
func ReportDate(t time.Time) string {
	return t.AddDate(0, 0, -1).Format(DateLayout)
}

// Run executes def. A query with no rows produces no file and no mail. On
// success the CSV file has been mailed and removed. A definition without
// recipients fails before the query runs.
func (r *Runner) Run(ctx context.Context, def catalog.Definition) (Outcome, error) {
	logger := r.logger.With("report", def.Filename, "cadence", string(def.Cadence))
	start := time.Now()

	if def.To.Empty() {
		return Outcome{}, catalog.ErrNoRecipients
	}

	res, err := r.db.Query(ctx, def.QueryString())
	if err != nil {
		return Outcome{}, err
	}
	if len(res.Rows) == 0 {
		logger.Info("report skipped, empty result")
		return Outcome{Skipped: true}, nil
	}

	table, err := NewTable(def.Headers, res.Rows)
	if err != nil {
		return Outcome{}, err
	}

	date := ReportDate(r.now())
	path := filepath.Join(r.outputDir, def.Filename+date+".csv")
	size, err := writeFile(path, table)
	if err != nil {
		return Outcome{}, err
	}
	logger.Debug("report written", "path", path, "rows", len(table.Rows), "size", humanize.Bytes(uint64(size)))

	values := map[string]string{
		"date":     date,
		"rows":     strconv.Itoa(len(table.Rows)),
		"filename": filepath.Base(path),
	}
	subject := SubjectFor(def.Subject, values)
	body := mailer.RenderTemplate(def.Body, values)

	if err := r.mail.SendReport(def.To.List(), subject, body, path); err != nil {
		return Outcome{}, fmt.Errorf("sending %s: %w", filepath.Base(path), err)
	}

	if err := os.Remove(path); err != nil {
		return Outcome{}, fmt.Errorf("removing %s: %w", path, err)
	}

	logger.Info("report sent",
		"rows", len(table.Rows),
		"to", def.To.Header(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return Outcome{Rows: len(table.Rows), Path: path, Subject: subject}, nil
}

// RunAll executes defs in order and stops at the first failure.
func (r *Runner) RunAll(ctx context.Context, defs []catalog.Definition) (Summary, error) {
	var sum Summary
	for _, def := range defs {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		out, err := r.Run(ctx, def)
		if err != nil {
			return sum, fmt.Errorf("report %q: %w", def.Filename, err)
		}
		if out.Skipped {
			sum.Skipped++
		} else {
			sum.Sent++
		}
	}
	return sum, nil
}

// SubjectFor renders a subject template. Templates without a {{date}} token
// get ": <date>" appended.
func SubjectFor(tmpl string, values map[string]string) string {
	if !mailer.HasToken(tmpl, "date") {
		tmpl += ": {{date}}"
	}
	return mailer.RenderTemplate(tmpl, values)
}

func writeFile(path string, t *Table) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("creating output dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("creating %s: %w", path, err)
	}
	if err := WriteCSV(f, t); err != nil {
		f.Close()
		os.Remove(path)
		return 0, fmt.Errorf("writing %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return 0, err
	}
	if err := f.Close(); err != nil {
		return 0, err
	}
	return info.Size(), nil
}
