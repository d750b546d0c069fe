package apierr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInvalidArgumentHTTPStatus(t *testing.T) {
	err := InvalidArgument("bad path %q", "/etc/passwd")
	require.Equal(t, 400, err.HTTPStatus())
	require.Contains(t, err.Error(), "/etc/passwd")
}

func TestNotFoundHTTPStatus(t *testing.T) {
	err := NotFound("job %s not found", "job-1")
	require.Equal(t, 404, err.HTTPStatus())
}

func TestTransientWrapsCauseAndStatus(t *testing.T) {
	cause := errors.New("recognizer exited 1")
	err := Transient(cause, "job %s failed", "job-1")
	require.Equal(t, 503, err.HTTPStatus())
	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "recognizer exited 1")
}

func TestInternalHTTPStatus(t *testing.T) {
	cause := errors.New("disk full")
	err := Internal(cause, "persist job")
	require.Equal(t, 500, err.HTTPStatus())
	require.ErrorIs(t, err, cause)
}

func TestErrorMessageWithoutCause(t *testing.T) {
	err := NotFound("model %s not found", "bogus")
	require.Equal(t, "model bogus not found", err.Error())
}
