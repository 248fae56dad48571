package proof_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/jrsteele09/go-attendance-server/proof"
	"github.com/stretchr/testify/require"
)

func TestEncode_RoundTripsThroughDecode(t *testing.T) {
	enc, err := proof.Encode("3f2b", "abc234", "CS101")
	require.NoError(t, err)
	require.JSONEq(t, `{"sessionId":"3f2b","courseCode":"CS101"}`, enc.Payload)

	require.Equal(t, proof.KindQR, enc.QR.Kind())
	require.Equal(t, "3f2b", enc.QR.SessionID())
	require.Equal(t, proof.KindCode, enc.Code.Kind())
	require.Equal(t, "ABC234", enc.Code.ShortCode())

	decoded, err := proof.DecodeQR(enc.Payload)
	require.NoError(t, err)
	require.Equal(t, enc.QR, decoded)

	payload, err := decoded.Payload()
	require.NoError(t, err)
	require.JSONEq(t, enc.Payload, payload)

	_, err = enc.Code.Payload()
	require.ErrorIs(t, err, proof.ErrInvalidFormat)
}

func TestEncode_RequiresFields(t *testing.T) {
	_, err := proof.Encode("", "ABC234", "CS101")
	require.ErrorIs(t, err, proof.ErrInvalidFormat)
}

func TestDecodeQR_Invalid(t *testing.T) {
	cases := map[string]string{
		"empty":          "",
		"whitespace":     "   ",
		"plain text":     "hello",
		"array":          `["a","b"]`,
		"broken json":    `{"sessionId":`,
		"missing id":     `{"courseCode":"CS101"}`,
		"blank id":       `{"sessionId":"  ","courseCode":"CS101"}`,
		"missing course": `{"sessionId":"abc"}`,
		"wrong type":     `{"sessionId":42,"courseCode":"CS101"}`,
		"trailing data":  `{"sessionId":"a","courseCode":"b"}{}`,
		"trailing text":  `{"sessionId":"a","courseCode":"b"} x`,
		"stray bracket":  `{"sessionId":"a","courseCode":"b"}]`,
		"stray brace":    `{"sessionId":"a","courseCode":"b"}}`,
	}

	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			p, err := proof.DecodeQR(raw)
			require.Error(t, err)
			require.True(t, errors.Is(err, proof.ErrInvalidFormat))
			require.True(t, p.IsZero())

			var decErr *proof.DecodeError
			require.ErrorAs(t, err, &decErr)
			require.NotEmpty(t, decErr.Reason)
		})
	}
}

func TestDecodeQR_TrimsFields(t *testing.T) {
	p, err := proof.DecodeQR(` {"sessionId":" s-1 ","courseCode":" CS101 "} `)
	require.NoError(t, err)
	require.Equal(t, "s-1", p.SessionID())
	require.Equal(t, "CS101", p.CourseCode())
}

func TestNewCodeProof(t *testing.T) {
	p, err := proof.NewCodeProof("  k7m2px ", "CS101")
	require.NoError(t, err)
	require.Equal(t, proof.KindCode, p.Kind())
	require.Equal(t, "K7M2PX", p.ShortCode())
	require.Empty(t, p.SessionID())

	_, err = proof.NewCodeProof(" ", "CS101")
	require.ErrorIs(t, err, proof.ErrInvalidFormat)

	_, err = proof.NewCodeProof("K7M2PX", "")
	require.ErrorIs(t, err, proof.ErrInvalidFormat)
}

func TestNewSessionProof(t *testing.T) {
	p, err := proof.NewSessionProof("s-9", "MA201")
	require.NoError(t, err)
	require.Equal(t, proof.KindQR, p.Kind())
	require.Equal(t, "s-9", p.SessionID())

	_, err = proof.NewSessionProof("", "MA201")
	require.ErrorIs(t, err, proof.ErrInvalidFormat)
}

func TestRenderPNG(t *testing.T) {
	png, err := proof.RenderPNG(`{"sessionId":"a","courseCode":"b"}`, 0)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(png, []byte("\x89PNG\r\n\x1a\n")))

	_, err = proof.RenderPNG("", 128)
	require.ErrorIs(t, err, proof.ErrInvalidFormat)
}
