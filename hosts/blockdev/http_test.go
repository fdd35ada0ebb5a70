package blockdev

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/brettbedarf/bootvfs"
	"github.com/brettbedarf/bootvfs/filesystem"
	"github.com/brettbedarf/bootvfs/fsstring"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockHTTPClient struct {
	mock.Mock
}

func (m *MockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	args := m.Called(req)
	resp, _ := args.Get(0).(*http.Response)
	return resp, args.Error(1)
}

// serveImage serves img with range support and records request headers.
func serveImage(t *testing.T, img []byte) (*httptest.Server, *[]http.Header) {
	t.Helper()
	var seen []http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Header.Clone())
		http.ServeContent(w, r, "disk.img", time.Time{}, bytes.NewReader(img))
	}))
	t.Cleanup(srv.Close)
	return srv, &seen
}

func TestNewHTTPSource(t *testing.T) {
	t.Parallel()

	tests := []struct {
		url     string
		wantErr bool
		desc    string
	}{
		// Valid cases
		{"http://test.com/disk.img", false, "basic HTTP URL"},
		{"https://test.com/disk.img", false, "basic HTTPS URL"},
		{"  http://test.com   ", false, "URL with whitespace"},
		{"http://test.com/path?arg=1&arg2=2", false, "URL with path and query"},
		{"http://localhost:8080/esp.img", false, "localhost with port"},
		{"http://123.123.123.123/test", false, "IP address"},

		// Invalid cases
		{"", true, "empty string"},
		{" ", true, "whitespace only"},
		{"ftp://test.com", true, "different scheme rejected"},
		{"test.com", true, "missing scheme"},
		{"http://", true, "missing host"},
		{"http://user@test.com/path", true, "URL with user info"},
	}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			src, err := NewHTTPSource(tt.url, nil, nil)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, src)
			} else {
				require.NoError(t, err)
				assert.Equal(t, http.DefaultClient, src.client)
			}
		})
	}
}

func TestHTTPSource_ReadAt(t *testing.T) {
	t.Parallel()

	img := testImage(4)
	srv, seen := serveImage(t, img)

	src, err := NewHTTPSource(srv.URL+"/disk.img", map[string]string{"Authorization": "Bearer x"}, nil)
	require.NoError(t, err)

	buf := make([]byte, 512)
	n, err := src.ReadAt(buf, 1024)
	require.NoError(t, err)
	assert.Equal(t, 512, n)
	assert.Equal(t, img[1024:1536], buf)

	require.Len(t, *seen, 1)
	assert.Equal(t, "bytes=1024-1535", (*seen)[0].Get("Range"))
	assert.Equal(t, "Bearer x", (*seen)[0].Get("Authorization"))

	n, err = src.ReadAt(buf, int64(len(img))-100)
	assert.Equal(t, 100, n)
	assert.ErrorIs(t, err, io.EOF)

	n, err = src.ReadAt(buf, int64(len(img))+512)
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, err, io.EOF)

	size, err := src.Size(t.Context())
	require.NoError(t, err)
	assert.Equal(t, int64(len(img)), size)
}

func TestHTTPSource_IgnoredRange(t *testing.T) {
	t.Parallel()

	img := testImage(4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(img) // nolint:errcheck
	}))
	t.Cleanup(srv.Close)

	src, err := NewHTTPSource(srv.URL, nil, nil)
	require.NoError(t, err)

	buf := make([]byte, 512)
	n, err := src.ReadAt(buf, 1536)
	require.NoError(t, err)
	assert.Equal(t, 512, n)
	assert.Equal(t, byte(3), buf[0])
}

func TestHTTPSource_Errors(t *testing.T) {
	t.Parallel()

	t.Run("NetworkError", func(t *testing.T) {
		client := &MockHTTPClient{}
		client.On("Do", mock.Anything).Return(nil, errors.New("connection refused"))

		src, err := NewHTTPSource("http://test.com/disk.img", nil, client)
		require.NoError(t, err)

		_, err = src.ReadAt(make([]byte, 512), 0)
		assert.ErrorContains(t, err, "connection refused")
		_, err = src.Size(t.Context())
		assert.Error(t, err)
		client.AssertNumberOfCalls(t, "Do", 2)
	})

	t.Run("ServerError", func(t *testing.T) {
		client := &MockHTTPClient{}
		client.On("Do", mock.Anything).Return(&http.Response{
			StatusCode: http.StatusInternalServerError,
			Status:     "500 Internal Server Error",
			Body:       io.NopCloser(bytes.NewReader(nil)),
		}, nil)

		src, err := NewHTTPSource("http://test.com/disk.img", nil, client)
		require.NoError(t, err)

		_, err = src.ReadAt(make([]byte, 512), 0)
		assert.ErrorContains(t, err, "500")
		_, err = src.Open(t.Context())
		assert.ErrorContains(t, err, "500")
	})

	t.Run("ReadBlockIsIO", func(t *testing.T) {
		client := &MockHTTPClient{}
		client.On("Do", mock.Anything).Return(nil, errors.New("timeout"))
		src, err := NewHTTPSource("http://test.com/disk.img", nil, client)
		require.NoError(t, err)

		vol := mountImage(t, New(src, fsstring.EncodingUTF16))
		_, err = vol.ReadBlock(0)
		assert.ErrorIs(t, err, bootvfs.ErrIO)
	})
}

func TestOpen_URL(t *testing.T) {
	t.Parallel()

	img := testImage(4)
	var zbuf bytes.Buffer
	zw, err := zstd.NewWriter(&zbuf)
	require.NoError(t, err)
	_, err = zw.Write(img)
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data := img
		if r.URL.Path == "/disk.img.zst" {
			data = zbuf.Bytes()
		}
		http.ServeContent(w, r, r.URL.Path, time.Time{}, bytes.NewReader(data))
	}))
	t.Cleanup(srv.Close)

	for _, name := range []string{"/disk.img", "/disk.img.zst"} {
		t.Run(name, func(t *testing.T) {
			d, err := Open(srv.URL+name, fsstring.EncodingUTF16)
			require.NoError(t, err)
			defer d.Close()

			vol := mountImage(t, d)
			f, err := vol.Root().LookupPath(fsstring.Literal("f"), '/')
			require.NoError(t, err)
			defer f.Release()

			h, err := filesystem.Open(f)
			require.NoError(t, err)
			defer h.Close()

			data, err := io.ReadAll(h)
			require.NoError(t, err)
			require.Len(t, data, 1024)
			assert.Equal(t, byte(2), data[0])
			assert.Equal(t, byte(3), data[1023])
		})
	}
}
