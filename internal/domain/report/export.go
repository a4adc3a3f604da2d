package report

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/mediclear/mediclear/internal/domain/patient"
	"github.com/mediclear/mediclear/pkg/format"
)

const (
	FormatCSV = "csv"
	FormatPDF = "pdf"

	ContentTypeCSV = "text/csv; charset=utf-8"
	ContentTypePDF = "application/pdf"
)

// CSVHeader is the fixed export header.
var CSVHeader = []string{
	"Case Number",
	"Patient Name",
	"Age/Gender",
	"Ward",
	"Admission Date",
	"Status",
	"Attending Physician",
	"Contact",
}

// Filename stamps an export name with the local time it was generated.
func Filename(now time.Time, ext string) string {
	return fmt.Sprintf("patient_report_%s.%s", now.Format("2006-01-02_15-04-05"), ext)
}

func csvRow(p *patient.Patient) []string {
	return []string{
		p.CaseNumber,
		p.PatientName,
		p.AgeGender,
		p.Ward,
		format.ISODate(p.AdmissionDate, "N/A"),
		string(p.Status),
		format.OrDefault(p.AttendingDoctorName, "Not Assigned"),
		format.OrDefault(p.ContactNumber, "N/A"),
	}
}

func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// WriteCSV writes the header and one row per patient, in order, separated by
// newlines. Every data cell is quoted.
func WriteCSV(w io.Writer, patients []*patient.Patient) error {
	bw := bufio.NewWriter(w)
	bw.WriteString(strings.Join(CSVHeader, ","))
	for _, p := range patients {
		row := csvRow(p)
		for i := range row {
			row[i] = quote(row[i])
		}
		bw.WriteString("\n")
		bw.WriteString(strings.Join(row, ","))
	}
	return bw.Flush()
}

var pdfHeadFill = [3]int{33, 150, 243}

// WritePDF renders the title block, the status summary and the patient table.
func WritePDF(w io.Writer, r Report) error {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetCreationDate(r.Summary.GeneratedAt)
	pdf.SetTitle("MediClear Patient Report", true)
	pdf.SetMargins(14, 14, 14)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetFont("Helvetica", "", 18)
	pdf.Text(14, 20, "MediClear Patient Report")

	pdf.SetFont("Helvetica", "", 10)
	pdf.Text(14, 28, "Generated: "+r.Summary.GeneratedAt.Format("January 02, 2006 15:04"))
	pdf.Text(14, 34, "Total Patients: "+strconv.Itoa(r.Summary.Total))
	if f := r.Summary.Filter; f.HasDateRange() {
		pdf.Text(14, 40, fmt.Sprintf("Date Range: %s - %s", f.From.Format("Jan 02, 2006"), f.To.Format("Jan 02, 2006")))
	}

	pdf.SetFont("Helvetica", "", 12)
	pdf.Text(14, 50, "Summary Statistics")

	pdf.SetY(55)
	summary := [][]string{}
	for _, b := range r.Summary.ByStatus {
		summary = append(summary, []string{b.Label, strconv.Itoa(b.Count)})
	}
	summary = append(summary, []string{"", ""}, []string{"Average Age", strconv.Itoa(r.Summary.AverageAge)})
	table(pdf, tr, []string{"Status", "Count"}, []float64{91, 91}, summary, 10, false)

	pdf.Ln(6)
	pdf.SetFont("Helvetica", "", 12)
	pdf.CellFormat(0, 6, "Patient Details", "", 1, "L", false, 0, "")
	pdf.Ln(2)

	rows := make([][]string, len(r.Patients))
	for i, p := range r.Patients {
		rows[i] = csvRow(p)[:6]
	}
	table(pdf, tr, []string{"Case #", "Name", "Age/Gender", "Ward", "Admission", "Status"},
		[]float64{26, 44, 24, 32, 24, 32}, rows, 8, true)

	return pdf.Output(w)
}

func table(pdf *fpdf.Fpdf, tr func(string) string, head []string, widths []float64, rows [][]string, size float64, striped bool) {
	const h = 7
	pdf.SetFont("Helvetica", "B", size)
	pdf.SetFillColor(pdfHeadFill[0], pdfHeadFill[1], pdfHeadFill[2])
	pdf.SetTextColor(255, 255, 255)
	for i, col := range head {
		pdf.CellFormat(widths[i], h, col, "1", 0, "L", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", size)
	pdf.SetTextColor(0, 0, 0)
	pdf.SetFillColor(245, 245, 245)
	for n, row := range rows {
		fill := striped && n%2 == 1
		for i, cell := range row {
			pdf.CellFormat(widths[i], h, tr(cell), "1", 0, "L", fill, 0, "")
		}
		pdf.Ln(-1)
	}
}

// Write renders r in the given format.
func Write(w io.Writer, kind string, r Report) error {
	switch kind {
	case FormatCSV:
		return WriteCSV(w, r.Patients)
	case FormatPDF:
		return WritePDF(w, r)
	}
	return fmt.Errorf("unsupported export format %q", kind)
}

// ContentType returns the MIME type for an export format.
func ContentType(kind string) string {
	if kind == FormatPDF {
		return ContentTypePDF
	}
	return ContentTypeCSV
}

// WriteFile saves r under dir with a generated name and returns its path.
func WriteFile(dir, kind string, r Report) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}
	path := filepath.Join(dir, Filename(r.Summary.GeneratedAt, kind))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create export file: %w", err)
	}
	if err := Write(f, kind, r); err != nil {
		f.Close()
		os.Remove(path)
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close export file: %w", err)
	}
	return path, nil
}
