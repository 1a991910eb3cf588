package nietcloud

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"attendbot-backend/lib/htmlutil"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// LowAttendanceThreshold flags subjects for visual emphasis in the
// report.
const LowAttendanceThreshold = 75.0

var (
	summaryRowDeadline = time.Second * 20
	summaryRowInterval = time.Millisecond * 1500
)

// summary table anchor, the one stable landmark across portal
// revisions
const summaryHeaderMarker = "course name"

type SubjectRecord struct {
	Name        string
	Count       string
	Attended    int
	Delivered   int
	Percent     float64
	PercentText string

	detailHref string
}

// Low reports whether the subject should be emphasized in the report.
func (r SubjectRecord) Low() bool {
	return r.Percent < LowAttendanceThreshold
}

type Snapshot struct {
	OverallText string
	Overall     float64
	Subjects    []SubjectRecord
	// the synthetic GRAND TOTAL row, reported separately, never part
	// of per-subject math
	Total *SubjectRecord
}

// TotalAttended sums subject-level counts. The grand-total row is kept
// out so nothing is double counted.
func (s Snapshot) TotalAttended() (attended, delivered int) {
	for _, sub := range s.Subjects {
		attended += sub.Attended
		delivered += sub.Delivered
	}
	return attended, delivered
}

var percentRegex = regexp.MustCompile(`(\d+\.\d+)%`)

// ScrapeSummary extracts the overall percentage and the per-subject
// table from an authenticated session.
func (c *Client) ScrapeSummary(ctx context.Context) (Snapshot, error) {
	ctx, span := tracer.Start(ctx, "client:ScrapeSummary")
	defer span.End()

	if c.dashboard == nil {
		doc, err := c.getDocument(ctx, dashboardPath)
		if err != nil {
			span.SetStatus(codes.Error, "failed to fetch dashboard")
			return Snapshot{}, err
		}
		c.dashboard = doc
	}

	body := htmlutil.NormalizeSpace(c.dashboard.Find("body").Text())
	groups := percentRegex.FindStringSubmatch(body)
	if len(groups) < 2 {
		span.SetStatus(codes.Error, "overall percentage not found")
		return Snapshot{}, fmt.Errorf("could not find an overall percentage on the dashboard")
	}
	overallText := groups[0]
	overall, err := strconv.ParseFloat(groups[1], 64)
	if err != nil {
		return Snapshot{}, fmt.Errorf("malformed overall percentage %q: %w", groups[0], err)
	}
	span.SetAttributes(attribute.String("overall", overallText))

	summaryDoc, err := c.revealSummary(ctx, overallText)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to reveal the summary table")
		return Snapshot{}, err
	}
	c.summary = summaryDoc

	snapshot := parseSummaryTable(findSummaryTable(summaryDoc))
	snapshot.OverallText = overallText
	snapshot.Overall = overall

	if len(snapshot.Subjects) == 0 && snapshot.Total == nil {
		span.SetStatus(codes.Error, "summary table had no usable rows")
		return Snapshot{}, fmt.Errorf("summary table had no usable rows")
	}
	return snapshot, nil
}

// revealSummary resolves and loads the document holding the detailed
// table. The table is not a separate page on every portal revision:
// when the dashboard itself already carries the "Course Name" table it
// is polled in place, otherwise the fragment behind the percentage
// widget is followed.
func (c *Client) revealSummary(ctx context.Context, overallText string) (*goquery.Document, error) {
	if findSummaryTable(c.dashboard).Length() > 0 {
		return c.waitForStableRows(ctx, func(ctx context.Context) (*goquery.Document, error) {
			return c.getDocument(ctx, dashboardPath)
		})
	}

	href := summaryFragmentHref(c.dashboard, overallText)
	if href == "" {
		return nil, fmt.Errorf("could not resolve the attendance detail fragment")
	}
	return c.waitForStableRows(ctx, func(ctx context.Context) (*goquery.Document, error) {
		return c.getDocument(ctx, href)
	})
}

// summaryFragmentHref finds the link the percentage widget loads. The
// exact clickable target is unreliable across page versions, so after
// anchors carrying the percentage text it climbs the ancestors of the
// element owning that text.
func summaryFragmentHref(doc *goquery.Document, overallText string) string {
	href := ""
	doc.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		if strings.Contains(htmlutil.CellText(a), overallText) {
			href = a.AttrOr("href", "")
			return false
		}
		return true
	})
	if href != "" {
		return href
	}

	var owner *goquery.Selection
	doc.Find("body *").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if strings.Contains(htmlutil.CellText(sel), overallText) && sel.Children().Length() == 0 {
			owner = sel
			return false
		}
		return true
	})
	for depth := 0; owner != nil && owner.Length() > 0 && depth < 4; depth++ {
		if h, ok := owner.Attr("href"); ok && h != "" {
			return h
		}
		if h, ok := owner.Attr("data-url"); ok && h != "" {
			return h
		}
		if a := owner.Find("a[href]").First(); a.Length() > 0 {
			return a.AttrOr("href", "")
		}
		owner = owner.Parent()
	}
	return ""
}

// waitForStableRows polls until the summary table holds at least one
// row and the row count stops changing between consecutive polls. The
// table populates in batches, reading on first sight truncates it.
func (c *Client) waitForStableRows(ctx context.Context, fetch func(context.Context) (*goquery.Document, error)) (*goquery.Document, error) {
	deadline := time.Now().Add(summaryRowDeadline)

	prevCount := -1
	var lastDoc *goquery.Document
	for {
		doc, err := fetch(ctx)
		if err == nil {
			lastDoc = doc
			count := findSummaryTable(doc).Find("tr").Length()
			if count > 0 && count == prevCount {
				return doc, nil
			}
			prevCount = count
		}

		if time.Now().After(deadline) {
			if lastDoc != nil && prevCount > 0 {
				return lastDoc, nil
			}
			return nil, fmt.Errorf("timed out waiting for the summary table to appear")
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(summaryRowInterval):
		}
	}
}

// findSummaryTable locates the per-subject table by its header, with a
// structural fallback for revisions that drop the header text.
func findSummaryTable(doc *goquery.Document) *goquery.Selection {
	var found *goquery.Selection
	doc.Find("table").EachWithBreak(func(_ int, table *goquery.Selection) bool {
		header := strings.ToLower(htmlutil.NormalizeSpace(table.Find("th,thead").Text()))
		if strings.Contains(header, summaryHeaderMarker) {
			found = table
			return false
		}
		return true
	})
	if found != nil {
		return found
	}

	doc.Find("table").EachWithBreak(func(_ int, table *goquery.Selection) bool {
		ok := false
		table.Find("tr").EachWithBreak(func(_ int, row *goquery.Selection) bool {
			if row.Find("td").Length() >= 4 {
				ok = true
				return false
			}
			return true
		})
		if ok {
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

type rowKind int

const (
	rowSkip rowKind = iota
	rowSubject
	rowTotal
)

// parseSubjectRow applies the fixed row policy: at least 4 cells, cell
// 1 is the subject name, the second-to-last cell the "A/B" count, the
// last cell the percentage. Malformed cells skip the row, they never
// error.
func parseSubjectRow(cells []string) (SubjectRecord, rowKind) {
	if len(cells) < 4 {
		return SubjectRecord{}, rowSkip
	}

	kind := rowSubject
	name := cells[1]
	if strings.Contains(cells[0], "Total") {
		kind = rowTotal
		name = "GRAND TOTAL"
	} else if name == "" {
		return SubjectRecord{}, rowSkip
	}

	count := cells[len(cells)-2]
	attended, delivered, ok := parseCount(count)
	if !ok {
		return SubjectRecord{}, rowSkip
	}

	percentText := strings.TrimSuffix(cells[len(cells)-1], "%")
	percent, err := strconv.ParseFloat(percentText, 64)
	if err != nil {
		// header leakage and decorative rows end up here
		return SubjectRecord{}, rowSkip
	}

	return SubjectRecord{
		Name:        name,
		Count:       count,
		Attended:    attended,
		Delivered:   delivered,
		Percent:     percent,
		PercentText: percentText,
	}, kind
}

func parseCount(count string) (attended, delivered int, ok bool) {
	parts := strings.SplitN(count, "/", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	attended, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, false
	}
	delivered, err = strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, false
	}
	return attended, delivered, true
}

func parseSummaryTable(table *goquery.Selection) Snapshot {
	var snapshot Snapshot
	seen := map[string]bool{}

	table.Find("tr").Each(func(_ int, row *goquery.Selection) {
		cells := htmlutil.RowCells(row)
		record, kind := parseSubjectRow(cells)
		switch kind {
		case rowSkip:
			return
		case rowTotal:
			total := record
			snapshot.Total = &total
			return
		}

		// at most one entry per subject per run
		if seen[record.Name] {
			return
		}
		seen[record.Name] = true

		record.detailHref = rowDetailHref(row)
		snapshot.Subjects = append(snapshot.Subjects, record)
	})

	return snapshot
}

// rowDetailHref pulls the drill-down link out of the count cell,
// falling back to any link on the row.
func rowDetailHref(row *goquery.Selection) string {
	cells := row.Find("td")
	if cells.Length() >= 2 {
		countCell := cells.Eq(cells.Length() - 2)
		if a := countCell.Find("a[href]").First(); a.Length() > 0 {
			return a.AttrOr("href", "")
		}
	}
	if a := row.Find("a[href]").First(); a.Length() > 0 {
		return a.AttrOr("href", "")
	}
	return ""
}
