package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"ecomed/libs/reportflow"

	"github.com/gin-gonic/gin"
	"github.com/go-pdf/fpdf"
)

const (
	exportFormatCSV          = "csv"
	exportFormatPDF          = "pdf"
	exportFileNamePrefix     = "ecomed_reportes_"
	exportDescriptionMaxRune = 60
	exportTimeZone           = "America/Bogota"

	pdfPageWidth    = 297.0
	pdfPageHeight   = 210.0
	pdfMargin       = 14.0
	pdfBandHeight   = 30.0
	pdfTableStartY  = 35.0
	pdfRowHeight    = 8.0
	pdfFooterOffset = 5.0
	pdfFontSize     = 8.0
)

var (
	csvHeader       = []string{"ID", "Descripción", "Latitud", "Longitud", "Foto", "Fecha"}
	pdfHeader       = []string{"#", "Descripción", "Latitud", "Longitud", "Foto", "Fecha"}
	pdfColumnWidths = []float64{10, 100, 25, 25, 15, 40}
	pdfColumnAlign  = []string{"C", "L", "C", "C", "C", "L"}

	spanishMonths = [...]string{"enero", "febrero", "marzo", "abril", "mayo", "junio", "julio", "agosto", "septiembre", "octubre", "noviembre", "diciembre"}

	exportLocationOnce sync.Once
	exportLocation     *time.Location
)

func exportTimeLocation() *time.Location {
	exportLocationOnce.Do(func() {
		location, err := time.LoadLocation(exportTimeZone)
		if err != nil {
			// Colombia has no daylight saving time.
			exportLocation = time.FixedZone("COT", -5*60*60)
			return
		}
		exportLocation = location
	})
	return exportLocation
}

func exportFileName(format string, now time.Time) string {
	return exportFileNamePrefix + now.UTC().Format("2006-01-02") + "." + format
}

func meridiem(t time.Time) (int, string) {
	hour := t.Hour() % 12
	if hour == 0 {
		hour = 12
	}
	if t.Hour() < 12 {
		return hour, "a. m."
	}
	return hour, "p. m."
}

// formatColombianDateTime renders the es-CO default timestamp, e.g.
// "1/3/2025, 7:05:09 a. m.".
func formatColombianDateTime(t time.Time) string {
	local := t.In(exportTimeLocation())
	hour, suffix := meridiem(local)
	return fmt.Sprintf("%d/%d/%d, %d:%02d:%02d %s", local.Day(), int(local.Month()), local.Year(), hour, local.Minute(), local.Second(), suffix)
}

// formatColombianShortDateTime renders the es-CO short date and time, e.g.
// "1/03/25, 7:05 a. m.".
func formatColombianShortDateTime(t time.Time) string {
	local := t.In(exportTimeLocation())
	hour, suffix := meridiem(local)
	return fmt.Sprintf("%d/%02d/%02d, %d:%02d %s", local.Day(), int(local.Month()), local.Year()%100, hour, local.Minute(), suffix)
}

// formatColombianLongDate renders e.g. "1 de marzo de 2025".
func formatColombianLongDate(t time.Time) string {
	local := t.In(exportTimeLocation())
	return fmt.Sprintf("%d de %s de %d", local.Day(), spanishMonths[local.Month()-1], local.Year())
}

func formatCoordinate(value float64) string {
	return strconv.FormatFloat(value, 'f', 5, 64)
}

func truncateDescription(description string) string {
	if utf8.RuneCountInString(description) <= exportDescriptionMaxRune {
		return description
	}
	runes := []rune(description)
	return string(runes[:exportDescriptionMaxRune]) + "…"
}

func csvQuote(field string) string {
	return `"` + strings.ReplaceAll(field, `"`, `""`) + `"`
}

func csvField(field string) string {
	if field == "" {
		return field
	}
	if strings.ContainsAny(field, ",\"\r\n") || field[0] == ' ' || field[0] == '\t' {
		return csvQuote(field)
	}
	return field
}

// buildReportsCSV writes one row per report, newest first as given. The
// description column is always quoted; other cells only when they need it.
func buildReportsCSV(reports []reportflow.Report) []byte {
	var buffer bytes.Buffer
	buffer.WriteString(strings.Join(csvHeader, ","))
	for _, report := range reports {
		photo := ""
		if report.PhotoURL != nil {
			photo = *report.PhotoURL
		}
		row := []string{
			csvField(report.ID),
			csvQuote(report.Description),
			strconv.FormatFloat(report.Lat, 'f', -1, 64),
			strconv.FormatFloat(report.Lng, 'f', -1, 64),
			csvField(photo),
			csvField(formatColombianDateTime(report.CreatedAt)),
		}
		buffer.WriteByte('\n')
		buffer.WriteString(strings.Join(row, ","))
	}
	return buffer.Bytes()
}

func pdfFooterText(page int, total string) string {
	return fmt.Sprintf("Página %d de %s  ·  EcoMed", page, total)
}

// pdfCellText turns line breaks and tabs into spaces one for one so a cell
// stays on a single line.
func pdfCellText(text string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', '\t':
			return ' '
		}
		return r
	}, text)
}

func pdfRow(index int, report reportflow.Report) []string {
	photo := "—"
	if report.PhotoURL != nil {
		photo = "Sí"
	}
	return []string{
		strconv.Itoa(index),
		pdfCellText(truncateDescription(report.Description)),
		formatCoordinate(report.Lat),
		formatCoordinate(report.Lng),
		photo,
		formatColombianShortDateTime(report.CreatedAt),
	}
}

func renderReportsPDF(reports []reportflow.Report, generatedAt time.Time) *fpdf.Fpdf {
	pdf := fpdf.New("L", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetMargins(pdfMargin, pdfTableStartY, pdfMargin)
	pdf.SetAutoPageBreak(false, 0)
	pdf.AliasNbPages("")
	pdf.SetFooterFunc(func() {
		pdf.SetY(pdfPageHeight - pdfFooterOffset - 3)
		pdf.SetFont("Helvetica", "", 7)
		pdf.SetTextColor(180, 180, 180)
		pdf.CellFormat(0, 4, tr(pdfFooterText(pdf.PageNo(), "{nb}")), "", 0, "C", false, 0, "")
	})

	pdf.AddPage()
	pdf.SetFillColor(30, 30, 30)
	pdf.Rect(0, 0, pdfPageWidth, pdfBandHeight, "F")
	pdf.SetFont("Helvetica", "B", 16)
	pdf.SetTextColor(255, 255, 255)
	pdf.Text(pdfMargin, 13, tr("EcoMed — Reporte de acumulaciones de basura"))
	pdf.SetFont("Helvetica", "", 9)
	pdf.SetTextColor(180, 180, 180)
	pdf.Text(pdfMargin, 22, tr(fmt.Sprintf("Generado el %s  ·  %d reportes", formatColombianLongDate(generatedAt), len(reports))))

	writeHeader := func() {
		pdf.SetXY(pdfMargin, pdfTableStartY)
		pdf.SetFont("Helvetica", "B", pdfFontSize)
		pdf.SetFillColor(50, 50, 50)
		pdf.SetTextColor(255, 255, 255)
		for i, title := range pdfHeader {
			pdf.CellFormat(pdfColumnWidths[i], pdfRowHeight, tr(title), "", 0, pdfColumnAlign[i], true, 0, "")
		}
		pdf.Ln(-1)
		pdf.SetFont("Helvetica", "", pdfFontSize)
		pdf.SetTextColor(50, 50, 50)
	}
	writeHeader()

	bottom := pdfPageHeight - pdfMargin
	for i, report := range reports {
		if pdf.GetY()+pdfRowHeight > bottom {
			pdf.AddPage()
			writeHeader()
		}
		fill := i%2 == 1
		if fill {
			pdf.SetFillColor(248, 248, 248)
		}
		pdf.SetX(pdfMargin)
		for col, value := range pdfRow(i+1, report) {
			pdf.CellFormat(pdfColumnWidths[col], pdfRowHeight, tr(value), "", 0, pdfColumnAlign[col], fill, 0, "")
		}
		pdf.Ln(-1)
	}

	return pdf
}

func buildReportsPDF(reports []reportflow.Report, generatedAt time.Time) ([]byte, error) {
	pdf := renderReportsPDF(reports, generatedAt)
	buffer := bytes.NewBuffer(nil)
	if err := pdf.Output(buffer); err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}

func (a *App) buildReportsExport(ctx context.Context, format string) (contentType string, body []byte, fileName string, err error) {
	reports, err := a.listReports(ctx)
	if err != nil {
		return "", nil, "", err
	}
	now := a.clock()

	switch format {
	case exportFormatCSV:
		body = buildReportsCSV(reports)
		contentType = "text/csv; charset=utf-8"
	case exportFormatPDF:
		body, err = buildReportsPDF(reports, now)
		if err != nil {
			return "", nil, "", err
		}
		contentType = "application/pdf"
	default:
		return "", nil, "", &apiError{Status: http.StatusBadRequest, Code: "validation_error", Message: "format must be csv or pdf"}
	}

	a.metrics.exportGenerated(format)
	return contentType, body, exportFileName(format, now), nil
}

func (a *App) exportReportsToFile(ctx context.Context, format, path string) error {
	_, body, _, err := a.buildReportsExport(ctx, strings.ToLower(strings.TrimSpace(format)))
	if err != nil {
		return err
	}
	return os.WriteFile(path, body, 0o644)
}

func (a *App) reportsExportHandler(format string) gin.HandlerFunc {
	return func(c *gin.Context) {
		contentType, body, fileName, err := a.buildReportsExport(c.Request.Context(), format)
		if err != nil {
			a.log.Error("report export failed", "format", format, "err", err)
			writeAPIError(c, err)
			return
		}
		c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, fileName))
		c.Header("Cache-Control", "no-store")
		c.Data(http.StatusOK, contentType, body)
	}
}
