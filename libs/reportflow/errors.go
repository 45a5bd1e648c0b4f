package reportflow

import (
	"errors"
	"fmt"
)

var (
	ErrUnavailable          = errors.New("geolocation unavailable")
	ErrPermissionDenied     = errors.New("geolocation permission denied")
	ErrTimeout              = errors.New("geolocation timed out")
	ErrPhotoUploadFailed    = errors.New("photo upload failed")
	ErrStoreWriteFailed     = errors.New("report store write failed")
	ErrFetchFailed          = errors.New("report list fetch failed")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrBusy                 = errors.New("another operation is in progress")
	ErrFormClosed           = errors.New("report form is not open")
	ErrNotSelecting         = errors.New("map is not in selection mode")
	ErrAlreadySubscribed    = errors.New("location feed already has a subscriber")
)

const (
	msgDescriptionRequired = "Describe el problema antes de enviar."
	msgDescriptionTooLong  = "La descripción es demasiado larga."
	msgLocationMissing     = "No hay ubicación. Usa el botón para marcarla en el mapa."
	msgLocationOutOfBounds = "La ubicación está fuera de Medellín."
	msgPhotoEmpty          = "La foto está vacía."
	msgPhotoNotImage       = "El archivo debe ser una imagen."
)

// MsgPhotoTooLarge is shown when a photo exceeds MaxPhotoBytes.
const MsgPhotoTooLarge = "La foto no puede superar 5MB"

// ValidationError blocks an action before any side effect happens.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// APIError is a non-2xx answer from the report service.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("report service returned %d (%s)", e.Status, e.Code)
	}
	return fmt.Sprintf("report service returned %d (%s): %s", e.Status, e.Code, e.Message)
}

// UserMessage turns an error into the inline text shown to the citizen.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var validation *ValidationError
	switch {
	case errors.As(err, &validation):
		return validation.Message
	case errors.Is(err, ErrPhotoUploadFailed):
		return "Error subiendo foto. Intenta de nuevo."
	case errors.Is(err, ErrStoreWriteFailed):
		return "No se pudo guardar el reporte. Intenta de nuevo."
	case errors.Is(err, ErrFetchFailed):
		return "No se pudieron cargar los reportes."
	case errors.Is(err, ErrAuthenticationFailed):
		return "Credenciales incorrectas."
	case errors.Is(err, ErrTimeout), errors.Is(err, ErrUnavailable), errors.Is(err, ErrPermissionDenied):
		return "No pudimos obtener tu ubicación. Márcala en el mapa."
	case errors.Is(err, ErrBusy):
		return "Espera a que termine la operación en curso."
	default:
		return "Error desconocido"
	}
}
