package main

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"ecomed/libs/mailer"
	"ecomed/libs/reportflow"
)

type capturingMailProvider struct {
	mu   sync.Mutex
	sent []mailer.Message
	err  error
}

func (p *capturingMailProvider) Name() string { return "capture" }

func (p *capturingMailProvider) Send(ctx context.Context, msg mailer.Message) (mailer.SendResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return mailer.SendResult{}, p.err
	}
	p.sent = append(p.sent, msg)
	return mailer.SendResult{ProviderMessageID: "capture-1"}, nil
}

func (p *capturingMailProvider) messages() []mailer.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]mailer.Message(nil), p.sent...)
}

func TestBuildNewReportEmail(t *testing.T) {
	app, _ := newAdminTestServer(t)
	app.cfg.ReportNotifyEmail = "aseo@medellin.gov.co"
	photo := "https://ecomed.test/media/reports/1740841445000-abc.jpg"

	msg := app.buildNewReportEmail(reportflow.Report{
		ID:          "r-1",
		Description: `Colchón <viejo> & "bolsas"`,
		Lat:         6.2442,
		Lng:         -75.5812,
		PhotoURL:    &photo,
		CreatedAt:   testNow,
	})

	if len(msg.To) != 1 || msg.To[0] != "aseo@medellin.gov.co" {
		t.Fatalf("unexpected recipients %v", msg.To)
	}
	if msg.Subject != "Nuevo reporte de basura (6.24420, -75.58120)" {
		t.Fatalf("unexpected subject %q", msg.Subject)
	}
	if strings.Contains(msg.HTML, "<viejo>") || !strings.Contains(msg.HTML, "Colchón &lt;viejo&gt; &amp; &#34;bolsas&#34;") {
		t.Fatal("expected escaped description in html body")
	}
	if !strings.Contains(msg.HTML, "https://ecomed.test/admin") || !strings.Contains(msg.HTML, "Ver foto") {
		t.Fatal("expected admin link and photo link")
	}
	if !strings.Contains(msg.Text, "mlat=6.24420&mlon=-75.58120") || !strings.Contains(msg.Text, "1/3/2025, 10:04:05 a. m.") {
		t.Fatalf("unexpected text body %q", msg.Text)
	}
}

func TestNotifyNewReportSkippedWithoutRecipient(t *testing.T) {
	app, _ := newAdminTestServer(t)
	provider := &capturingMailProvider{}
	app.mailer = mailer.New(provider, "reportes@ecomed.local")

	if err := app.notifyNewReport(context.Background(), reportflow.Report{ID: "r-1", CreatedAt: testNow}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(provider.messages()) != 0 {
		t.Fatal("expected no email without a configured recipient")
	}
}

func TestNotifyNewReportSendsAndReportsErrors(t *testing.T) {
	app, _ := newAdminTestServer(t)
	app.cfg.ReportNotifyEmail = "aseo@medellin.gov.co"
	provider := &capturingMailProvider{}
	app.mailer = mailer.New(provider, "reportes@ecomed.local")

	if err := app.notifyNewReport(context.Background(), reportflow.Report{ID: "r-1", Description: "bolsas", CreatedAt: testNow}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	sent := provider.messages()
	if len(sent) != 1 || sent[0].From != "reportes@ecomed.local" {
		t.Fatalf("unexpected sent messages %+v", sent)
	}

	provider.err = errors.New("provider down")
	if err := app.notifyNewReport(context.Background(), reportflow.Report{ID: "r-2", CreatedAt: testNow}); err == nil {
		t.Fatal("expected provider error")
	}
}

func TestCreateReportNotifiesAsynchronously(t *testing.T) {
	app, _ := newAdminTestServer(t)
	app.cfg.ReportNotifyEmail = "aseo@medellin.gov.co"
	provider := &capturingMailProvider{}
	app.mailer = mailer.New(provider, "reportes@ecomed.local")
	app.reportsInsert = func(ctx context.Context, in reportflow.NewReport) (reportflow.Report, error) {
		return reportflow.Report{ID: "r-1", Description: in.Description, CreatedAt: testNow}, nil
	}

	if _, err := app.createReport(context.Background(), reportflow.NewReport{Description: "bolsas"}, "json"); err != nil {
		t.Fatalf("create: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(provider.messages()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("expected notification email")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
