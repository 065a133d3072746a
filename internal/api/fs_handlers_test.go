package api

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/anggakawa/teledocker/internal/pathguard"
	"github.com/anggakawa/teledocker/protocol"
)

func TestHandleUpload_Success(t *testing.T) {
	mockMgr := &MockSessionService{}
	s := testAPIServer(mockMgr)

	mockMgr.On("Upload", mock.Anything, "a1b2c3d4-e5f", "main.py", []byte("print('hi')")).
		Return("/workspace/main.py", nil)

	req := httptest.NewRequest("PUT", "/v1/sessions/a1b2c3d4-e5f/files", strings.NewReader("print('hi')"))
	req.SetPathValue("id", "a1b2c3d4-e5f")
	req.Header.Set("X-Filename", "main.py")
	rec := httptest.NewRecorder()

	s.handleUpload(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, decodeBody(rec, &resp))
	assert.Equal(t, "/workspace/main.py", resp["path"])
	assert.EqualValues(t, 11, resp["size"])
}

func TestHandleUpload_MissingFilename(t *testing.T) {
	mockMgr := &MockSessionService{}
	s := testAPIServer(mockMgr)

	req := httptest.NewRequest("PUT", "/v1/sessions/a1b2c3d4-e5f/files", strings.NewReader("data"))
	req.SetPathValue("id", "a1b2c3d4-e5f")
	rec := httptest.NewRecorder()

	s.handleUpload(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	mockMgr.AssertNotCalled(t, "Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleUpload_PathEscape(t *testing.T) {
	mockMgr := &MockSessionService{}
	s := testAPIServer(mockMgr)

	mockMgr.On("Upload", mock.Anything, "a1b2c3d4-e5f", "../../etc/passwd", mock.Anything).
		Return("", fmt.Errorf("%w: ../../etc/passwd", pathguard.ErrEscape))

	req := httptest.NewRequest("PUT", "/v1/sessions/a1b2c3d4-e5f/files", strings.NewReader("x"))
	req.SetPathValue("id", "a1b2c3d4-e5f")
	req.Header.Set("X-Filename", "../../etc/passwd")
	rec := httptest.NewRecorder()

	s.handleUpload(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var apiErr APIError
	require.NoError(t, decodeBody(rec, &apiErr))
	assert.Equal(t, ErrCodePathEscape, apiErr.Code)
}

func TestHandleUpload_BodyTooLarge(t *testing.T) {
	mockMgr := &MockSessionService{}
	s := testAPIServer(mockMgr)

	oversized := strings.Repeat("a", protocol.MaxFileBytes+1)
	req := httptest.NewRequest("PUT", "/v1/sessions/a1b2c3d4-e5f/files", strings.NewReader(oversized))
	req.SetPathValue("id", "a1b2c3d4-e5f")
	req.Header.Set("X-Filename", "big.bin")
	rec := httptest.NewRecorder()

	s.handleUpload(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	var apiErr APIError
	require.NoError(t, decodeBody(rec, &apiErr))
	assert.Equal(t, ErrCodeFileTooLarge, apiErr.Code)
	mockMgr.AssertNotCalled(t, "Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleDownload_Success(t *testing.T) {
	mockMgr := &MockSessionService{}
	s := testAPIServer(mockMgr)

	mockMgr.On("Download", mock.Anything, "a1b2c3d4-e5f", "out/report.txt").
		Return("/workspace/out/report.txt", []byte("all done\n"), nil)

	req := httptest.NewRequest("GET", "/v1/sessions/a1b2c3d4-e5f/files/out/report.txt", nil)
	req.SetPathValue("id", "a1b2c3d4-e5f")
	req.SetPathValue("path", "out/report.txt")
	rec := httptest.NewRecorder()

	s.handleDownload(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/octet-stream", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "report.txt")
	assert.Equal(t, "all done\n", rec.Body.String())
}

func TestHandleDownload_Escape(t *testing.T) {
	mockMgr := &MockSessionService{}
	s := testAPIServer(mockMgr)

	mockMgr.On("Download", mock.Anything, "a1b2c3d4-e5f", "../secrets").
		Return("", nil, fmt.Errorf("%w: ../secrets", pathguard.ErrEscape))

	req := httptest.NewRequest("GET", "/v1/sessions/a1b2c3d4-e5f/files/x", nil)
	req.SetPathValue("id", "a1b2c3d4-e5f")
	req.SetPathValue("path", "../secrets")
	rec := httptest.NewRecorder()

	s.handleDownload(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var apiErr APIError
	require.NoError(t, decodeBody(rec, &apiErr))
	assert.Equal(t, ErrCodePathEscape, apiErr.Code)
}

func TestHandleDownload_MissingPath(t *testing.T) {
	mockMgr := &MockSessionService{}
	s := testAPIServer(mockMgr)

	req := httptest.NewRequest("GET", "/v1/sessions/a1b2c3d4-e5f/files/", nil)
	req.SetPathValue("id", "a1b2c3d4-e5f")
	req.SetPathValue("path", "")
	rec := httptest.NewRecorder()

	s.handleDownload(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	mockMgr.AssertNotCalled(t, "Download", mock.Anything, mock.Anything, mock.Anything)
}
