package reportflow

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"
)

func TestMedellinBounds(t *testing.T) {
	sw, ne := MedellinBounds.SouthWest(), MedellinBounds.NorthEast()
	if math.Abs(sw.Lat-5.95) > 1e-9 || math.Abs(sw.Lng+75.85) > 1e-9 {
		t.Fatalf("unexpected south-west corner %+v", sw)
	}
	if math.Abs(ne.Lat-6.55) > 1e-9 || math.Abs(ne.Lng+75.25) > 1e-9 {
		t.Fatalf("unexpected north-east corner %+v", ne)
	}

	inside := []Coordinate{{Lat: 6.25, Lng: -75.57}, {Lat: 6.3, Lng: -75.58}}
	for _, c := range inside {
		if !MedellinBounds.Contains(c) {
			t.Fatalf("expected %+v inside", c)
		}
	}
	outside := []Coordinate{{Lat: 4.71, Lng: -74.07}, {Lat: 6.56, Lng: -75.5}, {Lat: math.NaN(), Lng: -75.5}}
	for _, c := range outside {
		if MedellinBounds.Contains(c) {
			t.Fatalf("expected %+v outside", c)
		}
	}
}

func TestBoundsClamp(t *testing.T) {
	got := MedellinBounds.Clamp(Coordinate{Lat: 7, Lng: -80})
	if math.Abs(got.Lat-6.55) > 1e-9 || math.Abs(got.Lng+75.85) > 1e-9 {
		t.Fatalf("unexpected clamp %+v", got)
	}
	if !MedellinBounds.Contains(MedellinBounds.Clamp(Coordinate{Lat: math.Inf(1), Lng: 0})) {
		t.Fatal("clamp of infinite point left the bounds")
	}
}

func TestValidateDraftDescriptionLength(t *testing.T) {
	location := downtown
	long := strings.Repeat("á", MaxDescriptionLength+1)
	err := ValidateDraft(Draft{Description: long, Location: &location})
	var validation *ValidationError
	if !errors.As(err, &validation) || validation.Field != "description" {
		t.Fatalf("expected description error, got %v", err)
	}

	atLimit := strings.Repeat("á", MaxDescriptionLength)
	if err := ValidateDraft(Draft{Description: atLimit, Location: &location}); err != nil {
		t.Fatalf("expected limit to pass, got %v", err)
	}
}

func TestValidatePhotoContentType(t *testing.T) {
	if err := ValidatePhoto(Photo{Name: "a.pdf", ContentType: "application/pdf", Data: []byte{1}}); err == nil {
		t.Fatal("expected non-image to be rejected")
	}
	if err := ValidatePhoto(Photo{Name: "a.jpg", Data: []byte{1}}); err != nil {
		t.Fatalf("expected photo without type to pass, got %v", err)
	}
}

func TestUserMessage(t *testing.T) {
	cases := map[error]string{
		nil:                                   "",
		ErrStoreWriteFailed:                   "No se pudo guardar el reporte. Intenta de nuevo.",
		ErrAuthenticationFailed:               "Credenciales incorrectas.",
		fmt.Errorf("wrapped: %w", ErrTimeout): "No pudimos obtener tu ubicación. Márcala en el mapa.",
		errors.New("boom"):                    "Error desconocido",
	}
	for err, want := range cases {
		if got := UserMessage(err); got != want {
			t.Fatalf("UserMessage(%v) = %q, want %q", err, got, want)
		}
	}
}
