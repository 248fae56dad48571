// Package proof encodes and decodes the evidence a student presents when marking attendance:
// either the QR payload shown by the faculty device or the short code read out in class.
package proof

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Kind identifies how a proof was obtained.
type Kind string

const (
	KindQR   Kind = "QR"
	KindCode Kind = "CODE"
)

// ErrInvalidFormat is matched by every DecodeError.
var ErrInvalidFormat = errors.New("invalid proof format")

// DecodeError describes why raw input could not become a Proof.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("invalid format: %s", e.Reason)
}

func (e *DecodeError) Is(target error) bool {
	return target == ErrInvalidFormat
}

// Proof is a validated proof of presence. It never carries a location.
type Proof struct {
	kind       Kind
	sessionID  string
	shortCode  string
	courseCode string
}

func (p Proof) Kind() Kind         { return p.kind }
func (p Proof) SessionID() string  { return p.sessionID }
func (p Proof) ShortCode() string  { return p.shortCode }
func (p Proof) CourseCode() string { return p.courseCode }
func (p Proof) IsZero() bool       { return p.kind == "" }

// qrPayload is the JSON document embedded in the QR image.
type qrPayload struct {
	SessionID  string `json:"sessionId"`
	CourseCode string `json:"courseCode"`
}

// Encoded bundles the two equivalent proofs for one session.
type Encoded struct {
	Payload string
	QR      Proof
	Code    Proof
}

// Encode builds the QR payload and both proof forms for a session.
func Encode(sessionID, shortCode, courseCode string) (Encoded, error) {
	sessionID = strings.TrimSpace(sessionID)
	shortCode = normalizeCode(shortCode)
	courseCode = strings.TrimSpace(courseCode)
	if sessionID == "" || shortCode == "" || courseCode == "" {
		return Encoded{}, &DecodeError{Reason: "session id, short code and course code are required"}
	}

	raw, err := json.Marshal(qrPayload{SessionID: sessionID, CourseCode: courseCode})
	if err != nil {
		return Encoded{}, fmt.Errorf("[proof.Encode] marshal payload: %w", err)
	}

	return Encoded{
		Payload: string(raw),
		QR:      Proof{kind: KindQR, sessionID: sessionID, courseCode: courseCode},
		Code:    Proof{kind: KindCode, shortCode: shortCode, courseCode: courseCode},
	}, nil
}

// Payload re-encodes a QR proof as the payload it was scanned from.
func (p Proof) Payload() (string, error) {
	if p.kind != KindQR {
		return "", &DecodeError{Reason: "not a QR proof"}
	}
	raw, err := json.Marshal(qrPayload{SessionID: p.sessionID, CourseCode: p.courseCode})
	if err != nil {
		return "", fmt.Errorf("[Proof.Payload] marshal payload: %w", err)
	}
	return string(raw), nil
}

// DecodeQR parses a scanned QR payload.
func DecodeQR(raw string) (Proof, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Proof{}, &DecodeError{Reason: "empty payload"}
	}
	if !strings.HasPrefix(raw, "{") {
		return Proof{}, &DecodeError{Reason: "payload is not a JSON object"}
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	var p qrPayload
	if err := dec.Decode(&p); err != nil {
		return Proof{}, &DecodeError{Reason: "payload is not valid JSON: " + err.Error()}
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return Proof{}, &DecodeError{Reason: "trailing data after payload"}
	}

	sessionID := strings.TrimSpace(p.SessionID)
	courseCode := strings.TrimSpace(p.CourseCode)
	if sessionID == "" {
		return Proof{}, &DecodeError{Reason: "missing sessionId"}
	}
	if courseCode == "" {
		return Proof{}, &DecodeError{Reason: "missing courseCode"}
	}

	return Proof{kind: KindQR, sessionID: sessionID, courseCode: courseCode}, nil
}

// NewCodeProof builds a proof from a manually typed short code. The course is the one the
// student selected; it is checked against the session at verification time.
func NewCodeProof(code, courseCode string) (Proof, error) {
	code = normalizeCode(code)
	courseCode = strings.TrimSpace(courseCode)
	if code == "" {
		return Proof{}, &DecodeError{Reason: "missing session code"}
	}
	if courseCode == "" {
		return Proof{}, &DecodeError{Reason: "missing courseCode"}
	}
	return Proof{kind: KindCode, shortCode: code, courseCode: courseCode}, nil
}

// NewSessionProof builds a QR-kind proof from a session id supplied directly rather than scanned.
func NewSessionProof(sessionID, courseCode string) (Proof, error) {
	raw, err := json.Marshal(qrPayload{SessionID: sessionID, CourseCode: courseCode})
	if err != nil {
		return Proof{}, fmt.Errorf("[proof.NewSessionProof] marshal payload: %w", err)
	}
	return DecodeQR(string(raw))
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
