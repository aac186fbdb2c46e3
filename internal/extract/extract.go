// Package extract locates named values inside scraped markup using keyword
// heuristics. Every helper returns nil instead of failing when nothing matches.
package extract

import (
	"errors"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"chain-tracker/internal/numeric"
)

const (
	candidateSelector = "div, section, article, li, tr"
	labelSelector     = "div, span, p, td, strong"
	cellSelector      = "td, th"
)

// ErrNoStructure reports a document without the rows or cards a source expects.
var ErrNoStructure = errors.New("no recognizable rows or cards in document")

var datePattern = regexp.MustCompile(`\d{2}/\d{2}/\d{4}|\d{4}-\d{2}-\d{2}`)

// Parse builds a goquery document from raw markup.
func Parse(r io.Reader) (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(r)
}

// NormalizeText collapses runs of whitespace and trims the result.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// FlatText returns the whitespace-collapsed visible text of a selection.
func FlatText(sel *goquery.Selection) string {
	if sel == nil {
		return ""
	}
	// Text() concatenates adjacent text nodes without separators; re-join
	// them with spaces so "Compra</div><div>$1.250" stays two tokens.
	var parts []string
	sel.Contents().Each(func(_ int, child *goquery.Selection) {
		if goquery.NodeName(child) == "#text" {
			parts = append(parts, child.Text())
			return
		}
		parts = append(parts, FlatText(child))
	})
	return NormalizeText(strings.Join(parts, " "))
}

// FindNode returns the first candidate node, in document order, whose text
// contains any of the keywords (case-insensitive). Outer containers come
// before their children, so a wrapper holding every card wins over the card.
func FindNode(doc *goquery.Document, keywords ...string) *goquery.Selection {
	if doc == nil {
		return nil
	}
	lowered := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			lowered = append(lowered, k)
		}
	}

	var found *goquery.Selection
	doc.Find(candidateSelector).EachWithBreak(func(_ int, node *goquery.Selection) bool {
		text := strings.ToLower(FlatText(node))
		if text == "" {
			return true
		}
		for _, k := range lowered {
			if strings.Contains(text, k) {
				found = node
				return false
			}
		}
		return true
	})
	return found
}

// HasCards reports whether doc contains any card-like candidate node.
func HasCards(doc *goquery.Document) bool {
	return doc != nil && doc.Find(candidateSelector).Length() > 0
}

// PairedValues reads a buy/sell pair from a card. Descendants labelled
// "compra" or "venta" contribute their first number; later descendants
// override earlier ones. A side left unresolved is filled positionally from
// the card's flattened numbers: first is compra, second is venta.
func PairedValues(node *goquery.Selection) (compra, venta *float64) {
	if node == nil {
		return nil, nil
	}

	node.Find(labelSelector).Each(func(_ int, child *goquery.Selection) {
		text := strings.ToLower(FlatText(child))
		numbers := numeric.Numbers(text)
		if len(numbers) == 0 {
			return
		}
		if strings.Contains(text, "compra") {
			compra = ptr(numbers[0])
		}
		if strings.Contains(text, "venta") {
			venta = ptr(numbers[0])
		}
	})

	if compra != nil && venta != nil {
		return compra, venta
	}

	fallback := numeric.Numbers(FlatText(node))
	if compra == nil && len(fallback) >= 1 {
		compra = ptr(fallback[0])
	}
	if venta == nil && len(fallback) >= 2 {
		venta = ptr(fallback[1])
	}
	return compra, venta
}

// SingleValue returns the last number of a card's text when there are
// several (headline values trail introductory figures), the only one when
// there is one, and nil otherwise.
func SingleValue(node *goquery.Selection) *float64 {
	if node == nil {
		return nil
	}
	numbers := numeric.Numbers(FlatText(node))
	if len(numbers) == 0 {
		return nil
	}
	return ptr(numbers[len(numbers)-1])
}

// Row is a table row matched by keyword.
type Row struct {
	Cells []string
	Value *float64
	Date  string
}

// Rows returns the normalized cells of every non-empty table row.
func Rows(doc *goquery.Document) ([][]string, error) {
	if doc == nil {
		return nil, ErrNoStructure
	}
	trs := doc.Find("tr")
	if trs.Length() == 0 {
		return nil, ErrNoStructure
	}

	rows := make([][]string, 0, trs.Length())
	trs.Each(func(_ int, tr *goquery.Selection) {
		var cells []string
		tr.Find(cellSelector).Each(func(_ int, cell *goquery.Selection) {
			cells = append(cells, FlatText(cell))
		})
		if len(cells) > 0 {
			rows = append(rows, cells)
		}
	})
	return rows, nil
}

// RowValue scans rows whose joined text contains keyword and reads the first
// number after the label cell. The first matching row with a number wins; a
// matching row without one is returned only when no later row has a number.
// It returns nil when no row matches at all.
func RowValue(rows [][]string, keyword string) *Row {
	keyword = strings.ToLower(keyword)
	var first *Row
	for _, cells := range rows {
		joined := strings.Join(cells, " | ")
		if !strings.Contains(strings.ToLower(joined), keyword) {
			continue
		}
		valueCells := cells
		if len(cells) > 1 {
			valueCells = cells[1:]
		}
		row := &Row{Cells: cells, Date: ExtractDate(joined)}
		for _, cell := range valueCells {
			if isDateCell(cell) {
				continue
			}
			if numbers := numeric.Numbers(cell); len(numbers) > 0 {
				row.Value = ptr(numbers[0])
				break
			}
		}
		if row.Value != nil {
			return row
		}
		if first == nil {
			first = row
		}
	}
	return first
}

// ExtractDate returns the first dd/mm/yyyy or yyyy-mm-dd date in text as
// yyyy-mm-dd, or "" when none parses.
func ExtractDate(text string) string {
	for _, match := range datePattern.FindAllString(text, -1) {
		if t, err := time.Parse("02/01/2006", match); err == nil {
			return t.Format(time.DateOnly)
		}
		if t, err := time.Parse(time.DateOnly, match); err == nil {
			return t.Format(time.DateOnly)
		}
	}
	return ""
}

func isDateCell(cell string) bool {
	cell = strings.TrimSpace(cell)
	return cell != "" && datePattern.FindString(cell) == cell
}

func ptr(v float64) *float64 {
	return &v
}
