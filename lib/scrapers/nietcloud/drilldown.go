package nietcloud

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"attendbot-backend/lib/htmlutil"
	"attendbot-backend/lib/timezone"

	"github.com/PuerkitoBio/goquery"
	"github.com/antzucaro/matchr"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// DayStatus classifies one subject's attendance on one calendar date.
type DayStatus int

const (
	StatusUnknown DayStatus = iota
	StatusPresent
	StatusAbsent
	StatusNoClass
	StatusError
)

func (s DayStatus) String() string {
	switch s {
	case StatusPresent:
		return "Present"
	case StatusAbsent:
		return "Absent"
	case StatusNoClass:
		return "No Class"
	case StatusError:
		return "Error"
	}
	return "Unknown"
}

// the portal stamps log rows with this calendar format
const logDateLayout = "Jan 2, 2006"

const subjectNameSimilarity = 0.85

type logEntry struct {
	date   time.Time
	status string
}

// ScanDay follows one subject's drill-down link and derives its status
// for the target date.
func (c *Client) ScanDay(ctx context.Context, subject SubjectRecord, target time.Time) (DayStatus, error) {
	ctx, span := tracer.Start(ctx, "client:ScanDay")
	defer span.End()
	span.SetAttributes(
		attribute.String("subject", subject.Name),
		attribute.String("target", target.Format(logDateLayout)),
	)

	if subject.detailHref == "" {
		err := fmt.Errorf("subject %q has no drill-down link", subject.Name)
		span.SetStatus(codes.Error, err.Error())
		return StatusError, err
	}

	doc, err := c.getDocument(ctx, subject.detailHref)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch the drill-down fragment")
		return StatusError, err
	}

	table := findSubjectLogTable(doc, subject.Name)
	if table.Length() == 0 {
		err := fmt.Errorf("no day log table for subject %q", subject.Name)
		span.SetStatus(codes.Error, err.Error())
		return StatusError, err
	}

	entries := parseLogRows(table)
	if len(entries) == 0 {
		err := fmt.Errorf("day log for subject %q had no dated rows", subject.Name)
		span.SetStatus(codes.Error, err.Error())
		return StatusError, err
	}

	status := scanLog(entries, target, timezone.Now())
	span.SetAttributes(attribute.String("status", status.String()))
	return status, nil
}

// ScanAllSubjects drills into every subject sequentially. One broken
// subject records StatusError and the scan moves on.
func (c *Client) ScanAllSubjects(ctx context.Context, snapshot Snapshot, target time.Time) map[string]DayStatus {
	ctx, span := tracer.Start(ctx, "client:ScanAllSubjects")
	defer span.End()

	statuses := make(map[string]DayStatus, len(snapshot.Subjects))
	for _, subject := range snapshot.Subjects {
		status, err := c.ScanDay(ctx, subject, target)
		if err != nil {
			slog.WarnContext(
				ctx, "drill-down failed",
				"subject", subject.Name,
				"err", err,
			)
		}
		statuses[subject.Name] = status
	}
	return statuses
}

// findSubjectLogTable locates the day log scoped to one subject. The
// page keeps stale detail tables from previously expanded subjects
// around, so a global table search would risk reading the wrong one:
// the table following a header naming this subject wins, and only when
// no header matches does the first dated table count.
func findSubjectLogTable(doc *goquery.Document, subjectName string) *goquery.Selection {
	var found *goquery.Selection
	doc.Find("table").EachWithBreak(func(_ int, table *goquery.Selection) bool {
		if !tableHasDatedRow(table) {
			return true
		}
		heading := precedingHeading(table)
		if heading == "" {
			return true
		}
		if strings.EqualFold(heading, subjectName) ||
			matchr.JaroWinkler(strings.ToLower(heading), strings.ToLower(subjectName), false) >= subjectNameSimilarity {
			found = table
			return false
		}
		return true
	})
	if found != nil {
		return found
	}

	doc.Find("table").EachWithBreak(func(_ int, table *goquery.Selection) bool {
		if tableHasDatedRow(table) {
			found = table
			return false
		}
		return true
	})
	if found == nil {
		return doc.Find("table.__none__")
	}
	return found
}

func precedingHeading(table *goquery.Selection) string {
	for prev := table.Prev(); prev.Length() > 0; prev = prev.Prev() {
		text := htmlutil.NormalizeSpace(prev.Text())
		if text != "" {
			return text
		}
	}
	caption := table.Find("caption").First()
	return htmlutil.CellText(caption)
}

func tableHasDatedRow(table *goquery.Selection) bool {
	ok := false
	table.Find("tr").EachWithBreak(func(_ int, row *goquery.Selection) bool {
		if _, valid := parseLogRow(htmlutil.RowCells(row)); valid {
			ok = true
			return false
		}
		return true
	})
	return ok
}

func parseLogRows(table *goquery.Selection) []logEntry {
	var entries []logEntry
	table.Find("tr").Each(func(_ int, row *goquery.Selection) {
		entry, ok := parseLogRow(htmlutil.RowCells(row))
		if ok {
			entries = append(entries, entry)
		}
	})
	return entries
}

// parseLogRow accepts the date in either of the first two cells and
// takes the last non-empty cell as the P/A status.
func parseLogRow(cells []string) (logEntry, bool) {
	if len(cells) < 2 {
		return logEntry{}, false
	}

	var date time.Time
	ok := false
	for _, cell := range cells[:2] {
		parsed, err := time.ParseInLocation(logDateLayout, cell, timezone.Location)
		if err == nil {
			date = parsed
			ok = true
			break
		}
	}
	if !ok {
		return logEntry{}, false
	}

	status := ""
	for i := len(cells) - 1; i >= 0; i-- {
		if cells[i] != "" {
			status = cells[i]
			break
		}
	}
	return logEntry{date: date, status: status}, true
}

func entryPresent(status string) bool {
	status = strings.ToUpper(strings.TrimSpace(status))
	return status == "P" || strings.HasPrefix(status, "PRESENT")
}

// scanLog walks the descending day log. Rows dated today are skipped,
// rows on the target date aggregate (all present wins, any other mark
// loses), and the first row strictly older than the target stops the
// scan since nothing past it can match.
func scanLog(entries []logEntry, target, today time.Time) DayStatus {
	sawTarget := false
	allPresent := true

	for _, entry := range entries {
		if timezone.SameDay(entry.date, today) {
			continue
		}
		if timezone.SameDay(entry.date, target) {
			sawTarget = true
			if !entryPresent(entry.status) {
				allPresent = false
			}
			continue
		}
		if entry.date.Before(target) {
			break
		}
	}

	if !sawTarget {
		return StatusNoClass
	}
	if allPresent {
		return StatusPresent
	}
	return StatusAbsent
}
