package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"chatrixx/pkg/cache"
	"chatrixx/pkg/config"
	"chatrixx/pkg/dispatch"
	"chatrixx/pkg/models"
	"chatrixx/pkg/presence"
	"chatrixx/pkg/store"
)

type stubUploader struct {
	gotName string
	gotType string
	gotBody []byte
}

func (s *stubUploader) Upload(_ context.Context, fileName, contentType string, r io.Reader) (models.Attachment, error) {
	s.gotName = fileName
	s.gotType = contentType
	b, err := io.ReadAll(r)
	if err != nil {
		return models.Attachment{}, err
	}
	s.gotBody = b
	return models.Attachment{
		URL:      "https://files.example/" + fileName,
		FileType: contentType,
		FileName: fileName,
		FileSize: int64(len(b)),
	}, nil
}

func newUploadServer(t *testing.T, up *stubUploader) *httptest.Server {
	t.Helper()
	require.NoError(t, store.Open(t.TempDir()))
	t.Cleanup(func() { _ = store.Close() })

	cfg := &config.Config{}
	cfg.Security.JWTSecret = testSecret
	cfg.Security.RateLimit.RPS = 1000
	cfg.Security.RateLimit.Burst = 1000

	hub := presence.NewHub()
	a := New(cfg, dispatch.NewEngine(cache.Disabled(), hub, nil, nil, nil), hub)
	if up != nil {
		a.SetUploader(up)
	}
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func multipartFile(t *testing.T, field, name, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	hdr := make(map[string][]string)
	hdr["Content-Disposition"] = []string{`form-data; name="` + field + `"; filename="` + name + `"`}
	hdr["Content-Type"] = []string{contentType}
	part, err := mw.CreatePart(hdr)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestUploadReturnsAttachmentMetadata(t *testing.T) {
	up := &stubUploader{}
	srv := newUploadServer(t, up)

	body, ctype := multipartFile(t, "file", "photo.png", "image/png", []byte("png-bytes"))
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/v1/uploads", body)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+tokenFor(t, "alice"))
	req.Header.Set("Content-Type", ctype)

	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusCreated, res.StatusCode)

	var att models.Attachment
	require.NoError(t, json.NewDecoder(res.Body).Decode(&att))
	require.Equal(t, "https://files.example/photo.png", att.URL)
	require.Equal(t, int64(len("png-bytes")), att.FileSize)
	require.Equal(t, "photo.png", up.gotName)
	require.Equal(t, "image/png", up.gotType)
	require.Equal(t, []byte("png-bytes"), up.gotBody)
}

func TestUploadWithoutUploaderIsUnavailable(t *testing.T) {
	srv := newUploadServer(t, nil)

	body, ctype := multipartFile(t, "file", "doc.pdf", "application/pdf", []byte("x"))
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/v1/uploads", body)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+tokenFor(t, "alice"))
	req.Header.Set("Content-Type", ctype)

	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusNotImplemented, res.StatusCode)
}
