package main

import (
	"bytes"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"ecomed/libs/reportflow"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
)

var photoExtensionPattern = regexp.MustCompile(`^\.[A-Za-z0-9]{1,8}$`)

func (a *App) registerPublicRoutes(r *gin.Engine) {
	r.GET(photoMediaPathPrefix+":name", a.photoMediaHandler)

	api := r.Group("/api/v1")
	{
		compressed := gzip.Gzip(gzip.DefaultCompression)
		api.GET("/reports", compressed, a.listReportsHandler)
		api.GET("/reports/geojson", compressed, a.reportsGeoJSONHandler)
		api.POST("/reports", a.rateLimit("reports", reportRateLimitRequests, reportRateLimitWindow), a.createReportHandler)
		api.POST("/reports/submit", a.rateLimit("reports", reportRateLimitRequests, reportRateLimitWindow), a.submitReportHandler)
		api.POST("/photos", a.rateLimit("photos", reportRateLimitRequests, reportRateLimitWindow), a.uploadPhotoHandler)
		api.GET("/map/config", a.mapConfigHandler)
	}
}

func (a *App) listReportsHandler(c *gin.Context) {
	reports, err := a.listReports(c.Request.Context())
	if err != nil {
		a.log.Error("list reports failed", "err", err)
		writeAPIError(c, &apiError{Status: http.StatusInternalServerError, Code: "fetch_failed", Message: reportflow.UserMessage(reportflow.ErrFetchFailed)})
		return
	}
	c.JSON(http.StatusOK, reports)
}

func (a *App) reportsGeoJSONHandler(c *gin.Context) {
	reports, err := a.listReports(c.Request.Context())
	if err != nil {
		a.log.Error("list reports failed", "err", err)
		writeAPIError(c, &apiError{Status: http.StatusInternalServerError, Code: "fetch_failed", Message: reportflow.UserMessage(reportflow.ErrFetchFailed)})
		return
	}

	collection := reportflow.ReportsGeoJSON(reports)
	if raw := strings.TrimSpace(c.Query("zoom")); raw != "" {
		zoom, parseErr := strconv.ParseFloat(raw, 64)
		if parseErr != nil || zoom < 0 || zoom > reportflow.MaxZoom {
			writeAPIError(c, &apiError{Status: http.StatusBadRequest, Code: "validation_error", Message: "zoom must be a number between 0 and 22"})
			return
		}
		collection = reportflow.AggregateGeoJSON(reports, zoom)
	}

	body, err := json.Marshal(collection)
	if err != nil {
		writeAPIError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/geo+json", body)
}

func (a *App) createReportHandler(c *gin.Context) {
	var req createReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeAPIError(c, &apiError{Status: http.StatusBadRequest, Code: "validation_error", Message: "Invalid JSON payload"})
		return
	}
	if err := validateCreateReport(&req); err != nil {
		writeAPIError(c, err)
		return
	}
	if req.PhotoURL != nil && !a.ownsPhotoURL(*req.PhotoURL) {
		writeAPIError(c, &apiError{Status: http.StatusBadRequest, Code: "validation_error", Message: "La URL de la foto no es válida."})
		return
	}

	report, err := a.createReport(c.Request.Context(), req.toNewReport(), "json")
	if err != nil {
		a.log.Error("insert report failed", "err", err)
		writeAPIError(c, &apiError{Status: http.StatusInternalServerError, Code: "store_write_failed", Message: reportflow.UserMessage(reportflow.ErrStoreWriteFailed)})
		return
	}
	c.JSON(http.StatusCreated, report)
}

// submitReportHandler accepts the whole form in one multipart request and runs
// it through the same upload-then-insert pipeline the client uses.
func (a *App) submitReportHandler(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes+multipartOverheadBytes)
	if err := c.Request.ParseMultipartForm(maxUploadBytes + multipartOverheadBytes); err != nil {
		writeAPIError(c, &apiError{Status: http.StatusBadRequest, Code: "validation_error", Message: "Invalid multipart payload"})
		return
	}

	draft := reportflow.Draft{Description: c.PostForm("descripcion")}
	latRaw, lngRaw := strings.TrimSpace(c.PostForm("lat")), strings.TrimSpace(c.PostForm("lng"))
	if latRaw != "" || lngRaw != "" {
		lat, latErr := strconv.ParseFloat(latRaw, 64)
		lng, lngErr := strconv.ParseFloat(lngRaw, 64)
		if latErr != nil || lngErr != nil {
			writeAPIError(c, &apiError{Status: http.StatusBadRequest, Code: "validation_error", Message: "lat and lng must be numbers"})
			return
		}
		draft.Location = &reportflow.Coordinate{Lat: lat, Lng: lng}
	}

	if fileHeader, err := c.FormFile("photo"); err == nil {
		photo, apiErr := readPhotoPart(fileHeader)
		if apiErr != nil {
			writeAPIError(c, apiErr)
			return
		}
		draft.Photo = photo
	} else if !errors.Is(err, http.ErrMissingFile) {
		writeAPIError(c, &apiError{Status: http.StatusBadRequest, Code: "validation_error", Message: "Invalid photo part"})
		return
	}

	records := appRecords{app: a, source: "multipart"}
	pipeline := reportflow.NewPipeline(records, records, reportflow.WithLogger(a.log), reportflow.WithClock(a.clock))
	report, err := pipeline.Submit(c.Request.Context(), draft)
	if err != nil {
		writeAPIError(c, submitErrorToAPIError(err))
		return
	}
	c.JSON(http.StatusCreated, report)
}

func submitErrorToAPIError(err error) *apiError {
	var validation *reportflow.ValidationError
	switch {
	case errors.As(err, &validation):
		status := http.StatusBadRequest
		if validation.Field == "photo" && validation.Message == reportflow.MsgPhotoTooLarge {
			status = http.StatusRequestEntityTooLarge
		}
		return &apiError{Status: status, Code: "validation_error", Message: validation.Message}
	case errors.Is(err, reportflow.ErrPhotoUploadFailed):
		return &apiError{Status: http.StatusInternalServerError, Code: "photo_upload_failed", Message: reportflow.UserMessage(err)}
	case errors.Is(err, reportflow.ErrStoreWriteFailed):
		return &apiError{Status: http.StatusInternalServerError, Code: "store_write_failed", Message: reportflow.UserMessage(err)}
	default:
		return &apiError{Status: http.StatusInternalServerError, Code: "internal_error", Message: reportflow.UserMessage(err)}
	}
}

func (a *App) uploadPhotoHandler(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes+multipartOverheadBytes)
	fileHeader, err := c.FormFile("photo")
	if err != nil {
		writeAPIError(c, &apiError{Status: http.StatusBadRequest, Code: "validation_error", Message: "photo file is required"})
		return
	}

	photo, apiErr := readPhotoPart(fileHeader)
	if apiErr != nil {
		writeAPIError(c, apiErr)
		return
	}

	name, err := reportflow.PhotoObjectName(a.clock(), photo.Name, photo.ContentType, rand.Reader)
	if err != nil {
		writeAPIError(c, err)
		return
	}
	url, err := a.uploadPhoto(c.Request.Context(), name, photo.ContentType, photo.Data)
	if err != nil {
		a.log.Error("photo upload failed", "name", name, "err", err)
		writeAPIError(c, &apiError{Status: http.StatusInternalServerError, Code: "photo_upload_failed", Message: reportflow.UserMessage(reportflow.ErrPhotoUploadFailed)})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"url": url})
}

// readPhotoPart loads one uploaded image, enforcing the size limit and an
// allowed image type. The original name keeps only a safe extension.
func readPhotoPart(fileHeader *multipart.FileHeader) (*reportflow.Photo, *apiError) {
	tooLarge := &apiError{Status: http.StatusRequestEntityTooLarge, Code: "validation_error", Message: reportflow.MsgPhotoTooLarge}
	if fileHeader.Size > maxUploadBytes {
		return nil, tooLarge
	}

	file, err := fileHeader.Open()
	if err != nil {
		return nil, &apiError{Status: http.StatusBadRequest, Code: "validation_error", Message: "unable to read photo"}
	}
	defer file.Close()

	var buffer bytes.Buffer
	if _, err := io.Copy(&buffer, io.LimitReader(file, maxUploadBytes+1)); err != nil {
		return nil, &apiError{Status: http.StatusBadRequest, Code: "validation_error", Message: "unable to read photo"}
	}
	data := buffer.Bytes()
	if len(data) > maxUploadBytes {
		return nil, tooLarge
	}

	mimeType := detectMimeType(data, fileHeader.Header.Get("Content-Type"))
	if mimeType == "" {
		return nil, &apiError{Status: http.StatusBadRequest, Code: "validation_error", Message: "El archivo debe ser una imagen."}
	}

	photo := &reportflow.Photo{Name: safePhotoName(fileHeader.Filename), ContentType: mimeType, Data: data}
	if err := reportflow.ValidatePhoto(*photo); err != nil {
		return nil, &apiError{Status: http.StatusBadRequest, Code: "validation_error", Message: reportflow.UserMessage(err)}
	}
	return photo, nil
}

func safePhotoName(original string) string {
	ext := filepath.Ext(filepath.Base(strings.TrimSpace(original)))
	if !photoExtensionPattern.MatchString(ext) {
		return ""
	}
	return "photo" + ext
}

func (a *App) ownsPhotoURL(photoURL string) bool {
	if a.photos == nil {
		return strings.Contains(photoURL, photoMediaPathPrefix)
	}
	return a.photos.ownsURL(photoURL)
}

func (a *App) photoMediaHandler(c *gin.Context) {
	name := c.Param("name")
	if a.photos == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "photo not found"})
		return
	}
	fullPath, err := a.photos.resolve(name)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			a.log.Warn("photo path rejected", "name", name, "err", err)
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "photo not found"})
		return
	}

	c.Header("Content-Type", contentTypeForPhoto(name))
	c.Header("Cache-Control", fmt.Sprintf("public, max-age=%d, immutable", photoCacheMaxAgeSeconds))
	c.Header("X-Content-Type-Options", "nosniff")
	c.File(fullPath)
}

type mapStyleView struct {
	ID    reportflow.MapStyle `json:"id"`
	Label string              `json:"label"`
	URL   string              `json:"url"`
}

type mapConfigResponse struct {
	Bounds              [2][2]float64           `json:"bounds"`
	MinZoom             float64                 `json:"min_zoom"`
	MaxZoom             float64                 `json:"max_zoom"`
	InitialCamera       reportflow.Camera       `json:"initial_camera"`
	FirstLocateZoom     float64                 `json:"first_locate_zoom"`
	FocusZoom           float64                 `json:"focus_zoom"`
	FirstLocateTimeout  int64                   `json:"first_locate_timeout_ms"`
	FormLocateTimeout   int64                   `json:"form_locate_timeout_ms"`
	Styles              []mapStyleView          `json:"styles"`
	DefaultStyle        reportflow.MapStyle     `json:"default_style"`
	Heatmap             reportflow.HeatmapPaint `json:"heatmap"`
	AggregateBelowZoom  float64                 `json:"aggregate_below_zoom"`
	MaxPhotoBytes       int                     `json:"max_photo_bytes"`
	MaxDescriptionChars int                     `json:"max_description_chars"`
	AccessToken         string                  `json:"access_token,omitempty"`
}

func (a *App) mapConfigHandler(c *gin.Context) {
	sw, ne := reportflow.MedellinBounds.SouthWest(), reportflow.MedellinBounds.NorthEast()
	styles := make([]mapStyleView, 0, 3)
	for _, style := range []reportflow.MapStyle{reportflow.StyleDark, reportflow.StyleStandard, reportflow.StyleSatellite} {
		styles = append(styles, mapStyleView{ID: style, Label: style.Label(), URL: reportflow.StyleURLs[style]})
	}

	c.JSON(http.StatusOK, mapConfigResponse{
		Bounds:              [2][2]float64{{sw.Lng, sw.Lat}, {ne.Lng, ne.Lat}},
		MinZoom:             reportflow.MinZoom,
		MaxZoom:             reportflow.MaxZoom,
		InitialCamera:       reportflow.InitialCamera,
		FirstLocateZoom:     reportflow.FirstLocateZoom,
		FocusZoom:           reportflow.FocusZoom,
		FirstLocateTimeout:  reportflow.FirstLocateTimeout.Milliseconds(),
		FormLocateTimeout:   reportflow.FormLocateTimeout.Milliseconds(),
		Styles:              styles,
		DefaultStyle:        reportflow.StyleDark,
		Heatmap:             reportflow.DefaultHeatmapPaint(),
		AggregateBelowZoom:  reportflow.AggregateBelowZoom,
		MaxPhotoBytes:       reportflow.MaxPhotoBytes,
		MaxDescriptionChars: reportflow.MaxDescriptionLength,
		AccessToken:         a.cfg.MapboxAccessToken,
	})
}
