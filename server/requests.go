package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/jrsteele09/go-attendance-server/geo"
	"github.com/jrsteele09/go-attendance-server/proof"
	"github.com/pkg/errors"
)

const maxBodyBytes = 64 << 10

const locationRequired = "Location permission is required to mark attendance."

type createSessionRequest struct {
	CourseCode    string   `json:"courseCode" validate:"required,max=64"`
	Latitude      *float64 `json:"latitude" validate:"required,latitude"`
	Longitude     *float64 `json:"longitude" validate:"required,longitude"`
	AllowedRadius *float64 `json:"allowedRadius" validate:"omitempty,gt=0,lte=10000"`
}

func (c createSessionRequest) origin() geo.Point {
	return geo.Point{Latitude: *c.Latitude, Longitude: *c.Longitude}
}

// markRequest carries exactly one proof: a raw QR payload, a session id, or a short code.
type markRequest struct {
	QRPayload   string   `json:"qrPayload" validate:"max=1024"`
	SessionID   string   `json:"sessionId" validate:"max=64"`
	SessionCode string   `json:"sessionCode" validate:"max=16"`
	CourseCode  string   `json:"courseCode" validate:"max=64"`
	Latitude    *float64 `json:"latitude" validate:"omitempty,latitude"`
	Longitude   *float64 `json:"longitude" validate:"omitempty,longitude"`
}

func (m markRequest) proof() (proof.Proof, error) {
	qr := strings.TrimSpace(m.QRPayload)
	id := strings.TrimSpace(m.SessionID)
	code := strings.TrimSpace(m.SessionCode)

	n := 0
	for _, v := range []string{qr, id, code} {
		if v != "" {
			n++
		}
	}
	if n != 1 {
		return proof.Proof{}, errors.Wrap(proof.ErrInvalidFormat, "exactly one of qrPayload, sessionId or sessionCode is required")
	}

	switch {
	case qr != "":
		return proof.DecodeQR(qr)
	case id != "":
		return proof.NewSessionProof(id, m.CourseCode)
	default:
		return proof.NewCodeProof(code, m.CourseCode)
	}
}

func (m markRequest) location() (geo.Point, bool) {
	if m.Latitude == nil || m.Longitude == nil {
		return geo.Point{}, false
	}
	return geo.Point{Latitude: *m.Latitude, Longitude: *m.Longitude}, true
}

// decodeAndValidate reads a JSON body into dst and runs its validate tags. The returned
// error message is safe to show to the caller.
func (s *Server) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return errors.Errorf("malformed JSON: %v", err)
	}
	if err := s.validate.Struct(dst); err != nil {
		return validationMessage(err)
	}
	return nil
}

func validationMessage(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
	}
	return errors.New(strings.Join(msgs, "; "))
}

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}
