package main

import (
	"errors"
	"net/http"
	"reflect"
	"strings"

	"ecomed/libs/reportflow"

	"github.com/go-playground/validator/v10"
)

type createReportRequest struct {
	Description string   `json:"descripcion" validate:"required,max=1000"`
	Lat         *float64 `json:"lat" validate:"required,lat"`
	Lng         *float64 `json:"lng" validate:"required,lng"`
	PhotoURL    *string  `json:"foto_url" validate:"omitempty,url,max=2048"`
}

var requestValidator = newRequestValidator()

func newRequestValidator() *validator.Validate {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = validate.RegisterValidation("lat", func(fl validator.FieldLevel) bool {
		lat := fl.Field().Float()
		return lat >= -90 && lat <= 90
	})
	_ = validate.RegisterValidation("lng", func(fl validator.FieldLevel) bool {
		lng := fl.Field().Float()
		return lng >= -180 && lng <= 180
	})
	validate.RegisterStructValidation(medellinBoundsValidation, createReportRequest{})
	return validate
}

func medellinBoundsValidation(sl validator.StructLevel) {
	req := sl.Current().Interface().(createReportRequest)
	if req.Lat == nil || req.Lng == nil {
		return
	}
	if !reportflow.MedellinBounds.Contains(reportflow.Coordinate{Lat: *req.Lat, Lng: *req.Lng}) {
		sl.ReportError(req.Lat, "lat", "Lat", "medellin", "")
	}
}

func (r createReportRequest) toNewReport() reportflow.NewReport {
	report := reportflow.NewReport{
		Description: reportflow.NormalizeDescription(r.Description),
		PhotoURL:    r.PhotoURL,
	}
	if r.Lat != nil && r.Lng != nil {
		report.Location = reportflow.Coordinate{Lat: *r.Lat, Lng: *r.Lng}
	}
	return report
}

// validateCreateReport checks the request shape and answers with the same
// citizen-facing message the report form shows for the failing field.
func validateCreateReport(req *createReportRequest) error {
	req.Description = reportflow.NormalizeDescription(req.Description)
	err := requestValidator.Struct(req)
	if err == nil {
		return nil
	}

	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) || len(fieldErrors) == 0 {
		return err
	}

	draft := reportflow.Draft{Description: req.Description}
	if req.Lat != nil && req.Lng != nil {
		draft.Location = &reportflow.Coordinate{Lat: *req.Lat, Lng: *req.Lng}
	}
	message := "Datos del reporte inválidos."
	if fieldErrors[0].Field() == "foto_url" {
		message = "La URL de la foto no es válida."
	} else if domainErr := reportflow.ValidateDraft(draft); domainErr != nil {
		message = reportflow.UserMessage(domainErr)
	}

	return &apiError{Status: http.StatusBadRequest, Code: "validation_error", Message: message}
}
