package scrapers

import (
	"math"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/fenilmodi00/ipo-aggregator/normalize"
	"github.com/gocolly/colly/v2"
	"github.com/sirupsen/logrus"
)

// TableRow is one labelled row of a key/value table. Values holds every
// cell after the label, so multi-period tables keep all their columns.
type TableRow struct {
	Label      string
	Values     []string
	Confidence float64
}

// Value returns the first value cell
func (r TableRow) Value() string {
	if len(r.Values) == 0 {
		return ""
	}
	return r.Values[0]
}

// LastValue returns the last value cell
func (r TableRow) LastValue() string {
	if len(r.Values) == 0 {
		return ""
	}
	return r.Values[len(r.Values)-1]
}

// ParseLabelledTable reads a key/value table where the first cell of each
// row is the label.
func ParseLabelledTable(table *colly.HTMLElement) []TableRow {
	var rows []TableRow

	table.ForEach("tr", func(_ int, tr *colly.HTMLElement) {
		var cells []string
		tr.ForEach("td, th", func(_ int, cell *colly.HTMLElement) {
			cells = append(cells, extractCellValue(cell))
		})

		if len(cells) < 2 {
			return
		}

		label := cells[0]
		values := cells[1:]
		if label == "" && strings.Join(values, "") == "" {
			return
		}

		rows = append(rows, TableRow{
			Label:      label,
			Values:     values,
			Confidence: labelConfidence(label),
		})
	})

	return rows
}

func extractCellValue(cell *colly.HTMLElement) string {
	text := normalize.CleanText(cell.Text)
	if text == "" {
		cell.ForEach("span, div, p, a", func(_ int, nested *colly.HTMLElement) {
			if text == "" {
				text = normalize.CleanText(nested.Text)
			}
		})
	}
	return text
}

// FindTableRowByLabel returns the row whose label best matches one of the
// target labels. Only exact or whole-word containment matches qualify; the
// label confidence breaks ties between equally good matches.
func FindTableRowByLabel(rows []TableRow, targetLabels []string) (TableRow, bool) {
	var bestMatch TableRow
	bestScore := 0.0

	for _, row := range rows {
		rowLabel := normalizeLabel(row.Label)
		for _, target := range targetLabels {
			score := matchScore(rowLabel, normalizeLabel(target))
			if score < 0.6 {
				continue
			}
			combined := score + 0.1*row.Confidence
			if combined > bestScore {
				bestScore = combined
				bestMatch = row
			}
		}
	}

	if bestScore == 0 {
		return TableRow{}, false
	}

	logrus.Debugf("Best label match: '%s' with score %.2f", bestMatch.Label, bestScore)
	return bestMatch, true
}

func normalizeLabel(label string) string {
	normalized := strings.ToLower(label)
	normalized = strings.NewReplacer(
		":", " ", ".", " ", ",", " ", "(", " ", ")", " ",
		"-", " ", "_", " ", "*", " ", "₹", " ",
	).Replace(normalized)
	return strings.Join(strings.Fields(normalized), " ")
}

// matchScore compares two normalized labels: 1 for equality, 0.8 when one
// contains the other as whole words, otherwise a word-overlap ratio.
func matchScore(label, target string) float64 {
	if label == "" || target == "" {
		return 0
	}
	if label == target {
		return 1.0
	}

	padded, paddedTarget := " "+label+" ", " "+target+" "
	if strings.Contains(padded, paddedTarget) || strings.Contains(paddedTarget, padded) {
		return 0.8
	}

	words1 := strings.Fields(label)
	words2 := strings.Fields(target)
	matching := 0
	for _, w1 := range words1 {
		for _, w2 := range words2 {
			if w1 == w2 {
				matching++
				break
			}
		}
	}
	union := len(words1) + len(words2) - matching
	if union == 0 {
		return 0
	}
	return math.Min(float64(matching)/float64(union), 0.5)
}

var labelKeywords = []string{
	"date", "price", "size", "issue", "lot", "symbol", "listing", "open", "close",
	"roe", "roce", "margin", "equity", "holding", "p/e", "book", "revenue", "income", "offer",
}

func labelConfidence(label string) float64 {
	normalized := normalizeLabel(label)
	if normalized == "" {
		return 0
	}

	confidence := 0.5
	for _, keyword := range labelKeywords {
		if strings.Contains(normalized, keyword) {
			confidence += 0.3
			break
		}
	}
	if len(normalized) < 3 {
		confidence -= 0.2
	}
	if normalize.IsNotAvailable(label) {
		confidence -= 0.3
	}
	return math.Max(0, math.Min(1, confidence))
}

// columnDef names a logical column and the header labels it may carry,
// most specific first.
type columnDef struct {
	name   string
	labels []string
}

// gridTable is a list-style table with a header row
type gridTable struct {
	headers []string
	rows    [][]string
	links   []string
}

// readGridTable splits a goquery table into header cells, body rows and
// the first link of each body row.
func readGridTable(table *goquery.Selection) gridTable {
	var grid gridTable

	headerRow := table.Find("thead tr").First()
	if headerRow.Length() == 0 {
		headerRow = table.Find("tr").FilterFunction(func(_ int, tr *goquery.Selection) bool {
			return tr.Find("th").Length() > 0
		}).First()
	}
	headerRow.Find("th, td").Each(func(_ int, cell *goquery.Selection) {
		grid.headers = append(grid.headers, normalize.CleanText(cell.Text()))
	})

	table.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		if headerRow.Length() > 0 && tr.IsSelection(headerRow) {
			return
		}
		cells := tr.Find("td")
		if cells.Length() == 0 {
			return
		}
		var row []string
		cells.Each(func(_ int, cell *goquery.Selection) {
			row = append(row, normalize.CleanText(cell.Text()))
		})
		href, _ := tr.Find("a[href]").First().Attr("href")
		grid.rows = append(grid.rows, row)
		grid.links = append(grid.links, strings.TrimSpace(href))
	})

	return grid
}

// mapColumns assigns each column to the first unclaimed header it matches
func mapColumns(headers []string, defs []columnDef) map[string]int {
	columns := make(map[string]int, len(defs))
	claimed := make(map[int]bool, len(headers))

	normalized := make([]string, len(headers))
	for i, h := range headers {
		normalized[i] = normalizeLabel(h)
	}

	for _, def := range defs {
	labels:
		for _, label := range def.labels {
			target := normalizeLabel(label)
			for i, header := range normalized {
				if claimed[i] {
					continue
				}
				if matchScore(header, target) >= 0.8 {
					columns[def.name] = i
					claimed[i] = true
					break labels
				}
			}
		}
	}
	return columns
}

// cell returns row[columns[name]] or "" when the column is absent
func cell(row []string, columns map[string]int, name string) string {
	idx, ok := columns[name]
	if !ok || idx >= len(row) {
		return ""
	}
	return row[idx]
}

// skipRow applies the shared row filter: header rows, short rows and
// names under three characters are dropped.
func skipRow(row []string, minCells int, name string) bool {
	if len(row) < minCells {
		return true
	}
	if len(row) > 0 && normalize.IsHeaderLabel(row[0]) {
		return true
	}
	return len([]rune(strings.TrimSpace(name))) < 3
}
