package main

import (
	"ecomed/libs/reportflow"
)

const (
	adminAppTitle            = "EcoMed · Panel"
	adminTemplateLoginPath   = "templates/admin/login.tmpl"
	adminTemplateReportsPath = "templates/admin/reports.tmpl"
)

type adminBaseViewData struct {
	AppTitle      string
	Title         string
	Session       *AdminSession
	CurrentPath   string
	ErrorMessage  string
	NoticeMessage string
}

type adminLoginViewData struct {
	adminBaseViewData
	Email string
	Next  string
}

type adminReportRowView struct {
	Index       int
	ID          string
	Description string
	Latitude    string
	Longitude   string
	MapURL      string
	PhotoURL    string
	CreatedAt   string
}

type adminReportsViewData struct {
	adminBaseViewData
	Rows         []adminReportRowView
	Count        int
	CounterLabel string
	ExportCSVURL string
	ExportPDFURL string
}

func toAdminReportRows(reports []reportflow.Report, offset int) []adminReportRowView {
	rows := make([]adminReportRowView, 0, len(reports))
	for i, report := range reports {
		row := adminReportRowView{
			Index:       offset + i + 1,
			ID:          report.ID,
			Description: report.Description,
			Latitude:    formatCoordinate(report.Lat),
			Longitude:   formatCoordinate(report.Lng),
			MapURL:      reportMapURL(report.Lat, report.Lng),
			CreatedAt:   formatColombianShortDateTime(report.CreatedAt),
		}
		if report.PhotoURL != nil {
			row.PhotoURL = *report.PhotoURL
		}
		rows = append(rows, row)
	}
	return rows
}
