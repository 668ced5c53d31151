package artifact

import (
	"bytes"
	"fmt"

	"github.com/go-pdf/fpdf"

	"issuedigest/internal/issue"
)

const (
	DefaultTitle = "AI Jira Summarizer Report"

	pdfMargin  = 15.0
	pdfLineH   = 5.0
	pdfCellPad = 1.5
	pdfHeaderH = 8.0
)

var (
	pdfHeaders = []string{"Key", "Summary", "Assignee", "Status"}
	pdfWidths  = []float64{25, 100, 30, 25}
)

// EncodePDF renders an A4 report: title, generation time, status
// breakdown and one table of Key, Summary, Assignee and Status. The
// header row repeats at the top of every page.
func EncodePDF(items []issue.SummarizedIssue, opts EncodeOptions) ([]byte, error) {
	title := opts.Title
	if title == "" {
		title = DefaultTitle
	}
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(pdfMargin, pdfMargin, pdfMargin)
	pdf.SetAutoPageBreak(false, pdfMargin)
	if !opts.GeneratedAt.IsZero() {
		pdf.SetCreationDate(opts.GeneratedAt)
		pdf.SetModificationDate(opts.GeneratedAt)
	}
	pdf.SetTitle(title, true)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 18)
	pdf.CellFormat(0, 12, tr(title), "", 1, "C", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	pdf.CellFormat(0, 6, tr("Generated on: "+opts.GeneratedAt.Format("2006-01-02 15:04:05")), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 6, tr(issue.Stats(items).String()), "", 1, "L", false, 0, "")
	pdf.Ln(4)

	header := func() {
		pdf.SetFont("Helvetica", "B", 10)
		pdf.SetFillColor(173, 216, 230)
		pdf.SetTextColor(255, 255, 255)
		pdf.SetDrawColor(128, 128, 128)
		pdf.SetLineWidth(0.2)
		for i, h := range pdfHeaders {
			pdf.CellFormat(pdfWidths[i], pdfHeaderH, h, "1", 0, "L", true, 0, "")
		}
		pdf.Ln(-1)
		pdf.SetFont("Helvetica", "", 9)
		pdf.SetTextColor(0, 0, 0)
	}
	header()

	_, pageH := pdf.GetPageSize()
	bottom := pageH - pdfMargin
	for _, it := range items {
		cells := []string{tr(it.Key), tr(it.SummaryGenerated), tr(it.Assignee), tr(it.Status)}
		lines := make([][][]byte, len(cells))
		maxLines := 1
		for i, c := range cells {
			lines[i] = pdf.SplitLines([]byte(c), pdfWidths[i]-2*pdfCellPad)
			if n := len(lines[i]); n > maxLines {
				maxLines = n
			}
		}
		rowH := float64(maxLines)*pdfLineH + 2*pdfCellPad

		if pdf.GetY()+rowH > bottom {
			pdf.AddPage()
			header()
		}
		x, y := pdf.GetXY()
		for i := range cells {
			pdf.Rect(x, y, pdfWidths[i], rowH, "D")
			for j, line := range lines[i] {
				pdf.SetXY(x+pdfCellPad, y+pdfCellPad+float64(j)*pdfLineH)
				pdf.CellFormat(pdfWidths[i]-2*pdfCellPad, pdfLineH, string(line), "", 0, "L", false, 0, "")
			}
			x += pdfWidths[i]
		}
		pdf.SetXY(pdfMargin, y+rowH)
	}

	if err := pdf.Error(); err != nil {
		return nil, fmt.Errorf("encode pdf: %w", err)
	}
	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("encode pdf: %w", err)
	}
	return buf.Bytes(), nil
}
