package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/persistkit/internal/store"
)

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	err := formatter.Success(CountResult{Entity: "Advert", Count: 3})
	require.NoError(t, err)

	var resp struct {
		Status string      `json:"status"`
		Data   CountResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, int64(3), resp.Data.Count)
}

func TestOutputFormatter_JSONError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	err := formatter.Error(ErrCodeEngine, "import failed", "UNIQUE constraint failed")
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E101", resp.Error.Code)
	assert.Equal(t, "import failed", resp.Error.Message)
	assert.Equal(t, "UNIQUE constraint failed", resp.Error.Details)
}

func TestOutputFormatter_TextSuccessUsesStringer(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "text",
		Writer: buf,
	}

	require.NoError(t, formatter.Success(ExecResult{Name: "pause", Affected: 2}))
	assert.Equal(t, "pause: 2 rows affected\n", buf.String())
}

func TestOutputFormatter_TextError(t *testing.T) {
	testCases := []struct {
		name        string
		verbose     bool
		wantDetails bool
	}{
		{"quiet", false, false},
		{"verbose", true, true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			formatter := &OutputFormatter{
				Format:  "text",
				Writer:  buf,
				Verbose: tc.verbose,
			}

			require.NoError(t, formatter.Error(ErrCodeConfig, "failed to load configuration", "no such file"))
			assert.Contains(t, buf.String(), "Error [E002]: failed to load configuration")
			if tc.wantDetails {
				assert.Contains(t, buf.String(), "Details: no such file")
			} else {
				assert.NotContains(t, buf.String(), "Details:")
			}
		})
	}
}

func TestOutputFormatter_VerboseLogGoesToErrWriter(t *testing.T) {
	out := &bytes.Buffer{}
	diag := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format:    "json",
		Writer:    out,
		ErrWriter: diag,
		Verbose:   true,
	}

	formatter.VerboseLog("Read %d entities", 4)
	assert.Empty(t, out.String())
	assert.Equal(t, "Read 4 entities\n", diag.String())

	formatter.Verbose = false
	formatter.VerboseLog("hidden")
	assert.NotContains(t, diag.String(), "hidden")
}

func TestOutputFormatter_Line(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, formatter.Line(map[string]int{"id": 1}))
	require.NoError(t, formatter.Line(map[string]int{"id": 2}))
	assert.Equal(t, "{\"id\":1}\n{\"id\":2}\n", buf.String())
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad flag")))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))

	wrapped := WrapExitError(ExitFailure, "import failed", errors.New("boom"))
	assert.Equal(t, "import failed: boom", wrapped.Error())
	assert.EqualError(t, errors.Unwrap(wrapped), "boom")
}

func TestOutputStoreError_PicksCodeByKind(t *testing.T) {
	testCases := []struct {
		kind store.ErrorKind
		want string
	}{
		{store.KindEngine, ErrCodeEngine},
		{store.KindCoercion, ErrCodeCoercion},
		{store.KindNotFound, ErrCodeNotFound},
		{store.KindGeneral, ErrCodeGeneric},
	}
	for _, tc := range testCases {
		t.Run(tc.want, func(t *testing.T) {
			buf := &bytes.Buffer{}
			f := &OutputFormatter{Format: "json", Writer: buf}

			err := outputStoreError(f, "failed", store.NewError(tc.kind, "op", errors.New("cause")))
			assert.Equal(t, ExitFailure, GetExitCode(err))

			var resp CLIResponse
			require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
			assert.Equal(t, tc.want, resp.Error.Code)
		})
	}
}
