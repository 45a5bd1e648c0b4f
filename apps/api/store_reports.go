package main

import (
	"context"
	"database/sql"
	"time"

	"ecomed/libs/reportflow"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func (a *App) storeInsertReport(ctx context.Context, in reportflow.NewReport) (reportflow.Report, error) {
	var photoURL sql.NullString
	if in.PhotoURL != nil {
		photoURL = sql.NullString{String: *in.PhotoURL, Valid: true}
	}

	row := a.db.QueryRowContext(ctx, `
		INSERT INTO reports (description, lat, lng, location, photo_url)
		VALUES ($1, $2, $3, ST_SetSRID(ST_MakePoint($3, $2), 4326)::geography, $4)
		RETURNING id::text, description, lat, lng, photo_url, created_at
	`, in.Description, in.Location.Lat, in.Location.Lng, photoURL)
	return scanReport(row)
}

func (a *App) storeListReports(ctx context.Context) ([]reportflow.Report, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT id::text, description, lat, lng, photo_url, created_at
		FROM reports
		ORDER BY created_at DESC, id DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	reports := make([]reportflow.Report, 0)
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, report)
	}
	return reports, rows.Err()
}

func scanReport(scanner rowScanner) (reportflow.Report, error) {
	var (
		report    reportflow.Report
		photoURL  sql.NullString
		createdAt time.Time
	)
	if err := scanner.Scan(&report.ID, &report.Description, &report.Lat, &report.Lng, &photoURL, &createdAt); err != nil {
		return reportflow.Report{}, err
	}
	if photoURL.Valid && photoURL.String != "" {
		value := photoURL.String
		report.PhotoURL = &value
	}
	report.CreatedAt = createdAt.UTC()
	return report, nil
}

// createReport stores a report and runs the post-write side effects: cache
// invalidation, metrics and the optional notification email.
func (a *App) createReport(ctx context.Context, in reportflow.NewReport, source string) (reportflow.Report, error) {
	var (
		report reportflow.Report
		err    error
	)
	if a.reportsInsert != nil {
		report, err = a.reportsInsert(ctx, in)
	} else {
		report, err = a.storeInsertReport(ctx, in)
	}
	if err != nil {
		return reportflow.Report{}, err
	}

	a.invalidateReportCache(ctx)
	a.metrics.reportCreated(source, report.PhotoURL != nil)
	a.notifyNewReportAsync(report)
	return report, nil
}

func (a *App) uploadPhoto(ctx context.Context, name, contentType string, data []byte) (string, error) {
	var (
		url string
		err error
	)
	if a.photosUpload != nil {
		url, err = a.photosUpload(ctx, name, contentType, data)
	} else {
		url, err = a.photos.UploadPhoto(ctx, name, contentType, data)
	}
	if err != nil {
		a.metrics.photoUpload("error")
		return "", err
	}
	a.metrics.photoUpload("ok")
	return url, nil
}

// appRecords adapts the App to the submission pipeline's storage interfaces.
type appRecords struct {
	app    *App
	source string
}

func (r appRecords) InsertReport(ctx context.Context, in reportflow.NewReport) (reportflow.Report, error) {
	return r.app.createReport(ctx, in, r.source)
}

func (r appRecords) UploadPhoto(ctx context.Context, name, contentType string, data []byte) (string, error) {
	return r.app.uploadPhoto(ctx, name, contentType, data)
}

func (r appRecords) ListReports(ctx context.Context) ([]reportflow.Report, error) {
	return r.app.listReports(ctx)
}
