package reportflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"
)

// APIClient talks to the report service over HTTP. It implements
// PhotoUploader, RecordWriter and ReportSource.
type APIClient struct {
	BaseURL string
	Client  *http.Client
}

func NewAPIClient(baseURL string) *APIClient {
	return &APIClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type createReportRequest struct {
	Description string  `json:"descripcion"`
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
	PhotoURL    *string `json:"foto_url,omitempty"`
}

func (c *APIClient) ListReports(ctx context.Context) ([]Report, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/api/v1/reports", nil)
	if err != nil {
		return nil, err
	}
	var reports []Report
	if err := c.do(req, http.StatusOK, &reports); err != nil {
		return nil, err
	}
	return reports, nil
}

func (c *APIClient) InsertReport(ctx context.Context, report NewReport) (Report, error) {
	body, err := json.Marshal(createReportRequest{
		Description: report.Description,
		Lat:         report.Location.Lat,
		Lng:         report.Location.Lng,
		PhotoURL:    report.PhotoURL,
	})
	if err != nil {
		return Report{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/v1/reports", bytes.NewReader(body))
	if err != nil {
		return Report{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	var created Report
	if err := c.do(req, http.StatusCreated, &created); err != nil {
		return Report{}, err
	}
	return created, nil
}

func (c *APIClient) UploadPhoto(ctx context.Context, name, contentType string, data []byte) (string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="photo"; filename="%s"`, name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/v1/photos", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var uploaded struct {
		URL string `json:"url"`
	}
	if err := c.do(req, http.StatusCreated, &uploaded); err != nil {
		return "", err
	}
	if uploaded.URL == "" {
		return "", fmt.Errorf("photo upload returned no url")
	}
	return uploaded.URL, nil
}

func (c *APIClient) do(req *http.Request, expected int, out any) error {
	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != expected {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		apiErr := &APIError{Status: resp.StatusCode}
		var payload struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if json.Unmarshal(body, &payload) == nil {
			apiErr.Code = payload.Error
			apiErr.Message = payload.Message
		} else {
			apiErr.Message = strings.TrimSpace(string(body))
		}
		return apiErr
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
