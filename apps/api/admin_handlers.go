package main

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"ecomed/libs/reportflow"

	"github.com/gin-gonic/gin"
)

func (a *App) registerAdminRoutes(r *gin.Engine) {
	staticFS, err := a.adminTemplates.staticFiles()
	if err != nil {
		panic(err)
	}
	r.StaticFS("/admin/static", staticFS)

	loginLimit := a.rateLimit("login", loginRateLimitRequests, loginRateLimitWindow)

	r.GET("/admin/login", a.adminLoginPageHandler)
	r.POST("/admin/login", loginLimit, a.adminLoginSubmitHandler)
	r.POST("/admin/logout", a.adminLogoutSubmitHandler)

	admin := r.Group("/admin")
	admin.Use(a.requireAdminSessionHTML())
	{
		admin.GET("", a.adminReportsPageHandler)
		admin.GET("/", a.adminReportsPageHandler)
		admin.GET("/reports/export.csv", a.reportsExportHandler(exportFormatCSV))
		admin.GET("/reports/export.pdf", a.reportsExportHandler(exportFormatPDF))
	}

	api := r.Group("/api/v1/admin")
	{
		api.POST("/session", loginLimit, a.adminSessionCreateHandler)
		api.DELETE("/session", a.adminSessionDeleteHandler)
		api.GET("/session", a.requireAdminSession(), a.adminSessionShowHandler)
	}
	protected := api.Group("")
	protected.Use(a.requireAdminSession())
	{
		protected.GET("/reports", a.adminReportsJSONHandler)
		protected.GET("/reports/export.csv", a.reportsExportHandler(exportFormatCSV))
		protected.GET("/reports/export.pdf", a.reportsExportHandler(exportFormatPDF))
	}
}

func (a *App) adminLoginPageHandler(c *gin.Context) {
	if _, err := a.adminSessionFromCookie(c); err == nil {
		c.Redirect(http.StatusSeeOther, "/admin")
		return
	}

	data := adminLoginViewData{
		adminBaseViewData: a.adminBaseData(c, "Acceso"),
		Next:              sanitizeAdminRedirectTarget(c.Query("next")),
	}
	a.renderAdminTemplate(c, http.StatusOK, adminTemplateLoginPath, data)
}

func (a *App) adminLoginSubmitHandler(c *gin.Context) {
	email := strings.TrimSpace(c.PostForm("email"))
	password := c.PostForm("password")
	next := sanitizeAdminRedirectTarget(c.PostForm("next"))

	if err := a.adminAuthenticate(c.Request.Context(), email, password); err != nil {
		status := http.StatusInternalServerError
		errorMessage := "No se pudo iniciar sesión."
		var apiErr *apiError
		if errors.As(err, &apiErr) {
			status = apiErr.Status
			errorMessage = apiErr.Message
		} else {
			a.log.Error("admin login failed", "err", err)
		}

		base := a.adminBaseData(c, "Acceso")
		base.ErrorMessage = errorMessage
		data := adminLoginViewData{
			adminBaseViewData: base,
			Email:             email,
			Next:              next,
		}
		a.renderAdminTemplate(c, status, adminTemplateLoginPath, data)
		return
	}

	if err := a.startAdminSession(c, AdminSession{Email: strings.ToLower(email)}); err != nil {
		c.String(http.StatusInternalServerError, "session error")
		return
	}
	a.log.Info("admin signed in", "email", strings.ToLower(email))
	c.Redirect(http.StatusSeeOther, next)
}

func (a *App) adminLogoutSubmitHandler(c *gin.Context) {
	a.clearAdminSession(c)
	c.Redirect(http.StatusSeeOther, "/admin/login")
}

func (a *App) adminReportsPageHandler(c *gin.Context) {
	base := a.adminBaseData(c, "Reportes")
	status := http.StatusOK

	reports, err := a.listReports(c.Request.Context())
	if err != nil {
		a.log.Error("admin list reports failed", "err", err)
		base.ErrorMessage = reportflow.UserMessage(reportflow.ErrFetchFailed)
		status = http.StatusInternalServerError
		reports = nil
	}

	data := adminReportsViewData{
		adminBaseViewData: base,
		Rows:              toAdminReportRows(reports, 0),
		Count:             len(reports),
		CounterLabel:      reportflow.ReportCounterLabel(len(reports)),
		ExportCSVURL:      "/admin/reports/export.csv",
		ExportPDFURL:      "/admin/reports/export.pdf",
	}
	a.renderAdminTemplate(c, status, adminTemplateReportsPath, data)
}

type adminSessionRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (a *App) adminSessionCreateHandler(c *gin.Context) {
	var req adminSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeAPIError(c, invalidCredentialsError())
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if err := a.adminAuthenticate(c.Request.Context(), email, req.Password); err != nil {
		var apiErr *apiError
		if !errors.As(err, &apiErr) {
			a.log.Error("admin session create failed", "err", err)
		}
		writeAPIError(c, err)
		return
	}
	if err := a.startAdminSession(c, AdminSession{Email: email}); err != nil {
		writeAPIError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"email": email})
}

func (a *App) adminSessionDeleteHandler(c *gin.Context) {
	a.clearAdminSession(c)
	c.Status(http.StatusNoContent)
}

func (a *App) adminSessionShowHandler(c *gin.Context) {
	session, err := getAdminSession(c)
	if err != nil {
		writeAPIError(c, &apiError{Status: http.StatusUnauthorized, Code: "unauthorized", Message: "Admin session required"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"email": session.Email})
}

func (a *App) adminReportsJSONHandler(c *gin.Context) {
	reports, err := a.listReports(c.Request.Context())
	if err != nil {
		a.log.Error("admin list reports failed", "err", err)
		writeAPIError(c, &apiError{Status: http.StatusInternalServerError, Code: "fetch_failed", Message: reportflow.UserMessage(reportflow.ErrFetchFailed)})
		return
	}

	total := len(reports)
	response := gin.H{
		"count": total,
		"label": reportflow.ReportCounterLabel(total),
	}
	if rawPage := strings.TrimSpace(c.Query("page")); rawPage != "" {
		perPage := parseAdminPerPage(c.Query("per_page"))
		start, end, page := adminPageBounds(total, parseAdminPage(rawPage), perPage)
		reports = reports[start:end]
		response["pagination"] = buildAdminPaginationView(total, page, perPage, "/api/v1/admin/reports")
	}
	response["reports"] = reports
	c.JSON(http.StatusOK, response)
}

func (a *App) renderAdminTemplate(c *gin.Context, status int, contentTemplatePath string, data any) {
	templates, err := a.adminTemplates.lookup(contentTemplatePath)
	if err != nil {
		c.String(http.StatusInternalServerError, "admin template error: %v", err)
		return
	}

	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(status)
	if executeErr := templates.ExecuteTemplate(c.Writer, "layout", data); executeErr != nil {
		a.log.Error("render admin template failed", "error", executeErr)
		if !c.Writer.Written() {
			c.String(http.StatusInternalServerError, "render failure")
		}
	}
}

func (a *App) adminBaseData(c *gin.Context, title string) adminBaseViewData {
	var session *AdminSession
	if stored, err := getAdminSession(c); err == nil {
		session = &stored
	}

	return adminBaseViewData{
		AppTitle:      adminAppTitle,
		Title:         title,
		Session:       session,
		CurrentPath:   sanitizeAdminRedirectTarget(c.Request.URL.RequestURI()),
		ErrorMessage:  strings.TrimSpace(c.Query("error")),
		NoticeMessage: strings.TrimSpace(c.Query("notice")),
	}
}

func sanitizeAdminRedirectTarget(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "/admin"
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return "/admin"
	}
	if parsed.IsAbs() || parsed.Host != "" {
		return "/admin"
	}
	if strings.HasPrefix(parsed.Path, "//") {
		return "/admin"
	}
	if parsed.Path != "/admin" && !strings.HasPrefix(parsed.Path, "/admin/") {
		return "/admin"
	}
	if parsed.Path == "/admin/login" || parsed.Path == "/admin/logout" {
		return "/admin"
	}

	target := parsed.Path
	if parsed.RawQuery != "" {
		target += "?" + parsed.RawQuery
	}
	return target
}
