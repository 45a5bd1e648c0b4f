package main

import (
	"context"
	"fmt"
	"html"

	"ecomed/libs/mailer"
	"ecomed/libs/reportflow"
)

// reportMapURL points at the report on OpenStreetMap with a marker.
func reportMapURL(lat, lng float64) string {
	latText, lngText := formatCoordinate(lat), formatCoordinate(lng)
	return fmt.Sprintf("https://www.openstreetmap.org/?mlat=%s&mlon=%s#map=17/%s/%s", latText, lngText, latText, lngText)
}

func (a *App) buildNewReportEmail(report reportflow.Report) mailer.Message {
	subject := fmt.Sprintf("Nuevo reporte de basura (%s, %s)", formatCoordinate(report.Lat), formatCoordinate(report.Lng))
	mapURL := reportMapURL(report.Lat, report.Lng)
	adminURL := buildPublicURL(a.cfg.PublicBaseURL, "/admin")
	created := formatColombianDateTime(report.CreatedAt)

	photoHTML := ""
	photoText := "Sin foto"
	if report.PhotoURL != nil {
		photoHTML = fmt.Sprintf(`<p><a href="%s">Ver foto</a></p>`, html.EscapeString(*report.PhotoURL))
		photoText = *report.PhotoURL
	}

	body := fmt.Sprintf(`
		<div style="font-family: sans-serif; max-width: 600px; margin: 0 auto; line-height: 1.6; color: #333;">
			<h2>Nuevo reporte en EcoMed</h2>
			<p style="white-space: pre-wrap;">%s</p>
			<p>Ubicación: <a href="%s">%s, %s</a><br />Fecha: %s</p>
			%s
			<p style="margin: 30px 0;">
				<a href="%s" style="background-color: #16a34a; color: white; padding: 12px 24px; text-decoration: none; border-radius: 4px; font-weight: bold; display: inline-block;">
					Abrir panel
				</a>
			</p>
		</div>
	`, html.EscapeString(report.Description), mapURL, formatCoordinate(report.Lat), formatCoordinate(report.Lng), created, photoHTML, adminURL)

	text := fmt.Sprintf(
		"Nuevo reporte en EcoMed\n\n%s\n\nUbicación: %s, %s (%s)\nFecha: %s\nFoto: %s\n\nPanel: %s",
		report.Description, formatCoordinate(report.Lat), formatCoordinate(report.Lng), mapURL, created, photoText, adminURL,
	)

	return mailer.Message{
		To:      []string{a.cfg.ReportNotifyEmail},
		Subject: subject,
		HTML:    body,
		Text:    text,
		Tags:    map[string]string{"category": "new_report"},
	}
}

func (a *App) notifyNewReport(ctx context.Context, report reportflow.Report) error {
	if a.mailer == nil || a.cfg.ReportNotifyEmail == "" {
		return nil
	}
	result, err := a.mailer.Send(ctx, a.buildNewReportEmail(report))
	if err != nil {
		a.metrics.notification("error")
		return fmt.Errorf("send report notification: %w", err)
	}
	a.metrics.notification("sent")
	a.log.Info("report notification sent", "report_id", report.ID, "provider_message_id", result.ProviderMessageID)
	return nil
}

// notifyNewReportAsync sends the notification off the request path; a failed
// email never fails the report.
func (a *App) notifyNewReportAsync(report reportflow.Report) {
	if a.mailer == nil || a.cfg.ReportNotifyEmail == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := a.notifyNewReport(ctx, report); err != nil {
			a.log.Error("report notification failed", "report_id", report.ID, "err", err)
		}
	}()
}
