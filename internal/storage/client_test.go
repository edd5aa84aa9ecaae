package storage

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testUploadServer struct {
	received map[string][]byte
	reply    uploadResponse
	status   int
}

func (s *testUploadServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/upload":
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(f)
		s.received[hdr.Filename] = data
		if s.status != 0 {
			w.WriteHeader(s.status)
		}
		_ = json.NewEncoder(w).Encode(s.reply)
	case r.Method == http.MethodGet:
		name := r.URL.Path[len("/files/"):]
		data, ok := s.received[name]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(data)
	default:
		http.NotFound(w, r)
	}
}

func createTestClient(t *testing.T, s *testUploadServer) *Client {
	t.Helper()
	srv := httptest.NewServer(s)
	t.Cleanup(srv.Close)
	return NewClient(Config{UploadURL: srv.URL + "/upload", FilesURL: srv.URL + "/files/", Timeout: 5 * time.Second})
}

func TestUploadAndFetch(t *testing.T) {
	s := &testUploadServer{received: map[string][]byte{}, reply: uploadResponse{Success: true}}
	c := createTestClient(t, s)
	ctx := context.Background()

	require.NoError(t, c.Upload(ctx, "cover_20250101_120000.jpg", []byte("jpeg-bytes"), "image/jpeg"))
	assert.Equal(t, []byte("jpeg-bytes"), s.received["cover_20250101_120000.jpg"])

	data, err := c.Fetch(ctx, "cover_20250101_120000.jpg")
	require.NoError(t, err)
	assert.Equal(t, "jpeg-bytes", string(data))

	_, err = c.Fetch(ctx, "missing.jpg")
	assert.Error(t, err)
}

type fallbackFetcher struct {
	urls []string
}

func (f *fallbackFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	f.urls = append(f.urls, url)
	return []byte("remote"), nil
}

func TestImageFetcher(t *testing.T) {
	s := &testUploadServer{received: map[string][]byte{"ป้าย 1.png": []byte("stored")}, reply: uploadResponse{Success: true}}
	c := createTestClient(t, s)
	fallback := &fallbackFetcher{}
	f := &ImageFetcher{Files: c, Fallback: fallback}
	ctx := context.Background()

	data, err := f.Fetch(ctx, c.FileURL("ป้าย 1.png"))
	require.NoError(t, err)
	assert.Equal(t, "stored", string(data))
	assert.Empty(t, fallback.urls)

	data, err = f.Fetch(ctx, "https://cdn.example.com/files/a.png")
	require.NoError(t, err)
	assert.Equal(t, "remote", string(data))
	assert.Equal(t, []string{"https://cdn.example.com/files/a.png"}, fallback.urls)

	_, err = (&ImageFetcher{Files: c}).Fetch(ctx, "https://cdn.example.com/a.png")
	assert.Error(t, err)
}

func TestUpload_Rejected(t *testing.T) {
	tests := []struct {
		name   string
		reply  uploadResponse
		status int
	}{
		{name: "success false", reply: uploadResponse{Success: false, Message: "quota"}},
		{name: "server error", reply: uploadResponse{Success: true}, status: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &testUploadServer{received: map[string][]byte{}, reply: tt.reply, status: tt.status}
			err := createTestClient(t, s).Upload(context.Background(), "a.jpg", []byte("x"), "")
			assert.ErrorIs(t, err, ErrUploadRejected)
		})
	}
}

func TestFileURL(t *testing.T) {
	c := NewClient(Config{FilesURL: "https://files.example.com/api/files/"})
	assert.Equal(t, "https://files.example.com/api/files/a%20b.jpg", c.FileURL("a b.jpg"))
	assert.Equal(t, "", NewClient(Config{}).FileURL("a.jpg"))
}
