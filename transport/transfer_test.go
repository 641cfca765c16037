package transport_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/grafana/holdfast/transport"
)

func TestUpload(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		require.Equal(t, "report", r.FormValue("kind"))

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		require.Equal(t, "report.csv", header.Filename)

		buf := make([]byte, header.Size)
		_, err = file.Read(buf)
		require.NoError(t, err)
		require.Equal(t, "a,b,c\n1,2,3\n", string(buf))

		w.Write([]byte(`{"success":true,"data":{"id":"f1"}}`))
	}))
	defer srv.Close()

	c, err := transport.New(srv.URL)
	require.NoError(t, err)

	content := "a,b,c\n1,2,3\n"
	var lastWritten, lastTotal int64
	env, err := c.Upload(context.Background(), "/files", "file", "report.csv",
		strings.NewReader(content), int64(len(content)),
		map[string]string{"kind": "report"},
		func(written, total int64) {
			lastWritten, lastTotal = written, total
		})

	require.NoError(t, err)
	require.True(t, env.Success)
	require.Equal(t, int64(len(content)), lastWritten)
	require.Equal(t, int64(len(content)), lastTotal)
}

func TestUpload_StatusError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusRequestEntityTooLarge)
		w.Write([]byte(`{"code":"too_large","message":"file exceeds the size limit"}`))
	}))
	defer srv.Close()

	c, err := transport.New(srv.URL)
	require.NoError(t, err)

	_, err = c.Upload(context.Background(), "/files", "file", "big.bin",
		strings.NewReader("data"), 4, nil, nil)

	var statusErr *transport.StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusRequestEntityTooLarge, statusErr.Code)
	require.Equal(t, "file exceeds the size limit", statusErr.Message())
}

func TestDownload(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/exports/report.pdf", r.URL.Path)
		w.Write([]byte("%PDF-1.7 fake"))
	}))
	defer srv.Close()

	c, err := transport.New(srv.URL)
	require.NoError(t, err)

	dest := filepath.Join(t.TempDir(), "report.pdf")
	require.NoError(t, c.Download(context.Background(), "/exports/report.pdf", dest))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.Equal(t, "%PDF-1.7 fake", string(data))
}

func TestDownload_FailureLeavesNoFile(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c, err := transport.New(srv.URL)
	require.NoError(t, err)

	dest := filepath.Join(t.TempDir(), "missing.pdf")
	err = c.Download(context.Background(), "/exports/missing.pdf", dest)

	var statusErr *transport.StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusNotFound, statusErr.Code)

	_, statErr := os.Stat(dest)
	require.True(t, os.IsNotExist(statErr))
}
