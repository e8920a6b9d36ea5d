package ftpsession

import (
	"bytes"
	"io"
	"net"
	"strings"
	"testing"

	"github.com/klauspost/compress/zlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gonzalop/ftpsession/internal/ratelimit"
)

// serve writes payload to the server end of a pipe and closes it.
func serve(server net.Conn, payload []byte) {
	go func() {
		_, _ = server.Write(payload)
		server.Close()
	}()
}

// collect reads everything from the server end of a pipe.
func collect(server net.Conn) <-chan []byte {
	ch := make(chan []byte, 1)
	go func() {
		b, _ := io.ReadAll(server)
		server.Close()
		ch <- b
	}()
	return ch
}

func TestExecutor_Download(t *testing.T) {
	client, server := net.Pipe()
	serve(server, []byte("hello world"))

	var progress []int64
	e := executor{progress: func(n int64) { progress = append(progress, n) }}
	var sink bytes.Buffer
	n, err := e.run(client, transfer{dir: download, sink: &sink})

	require.NoError(t, err)
	assert.Equal(t, int64(11), n)
	assert.Equal(t, "hello world", sink.String())
	require.NotEmpty(t, progress)
	assert.Equal(t, int64(11), progress[len(progress)-1])
}

func TestExecutor_DownloadASCII(t *testing.T) {
	client, server := net.Pipe()
	serve(server, []byte("line1\r\nline2\r\n"))

	var e executor
	var sink bytes.Buffer
	n, err := e.run(client, transfer{dir: download, sink: &sink, ascii: true})

	require.NoError(t, err)
	assert.Equal(t, "line1\nline2\n", sink.String())
	assert.Equal(t, int64(12), n)
}

func TestExecutor_DownloadCompressed(t *testing.T) {
	var compressed bytes.Buffer
	zw := zlib.NewWriter(&compressed)
	_, _ = zw.Write([]byte(strings.Repeat("abc", 1000)))
	require.NoError(t, zw.Close())

	client, server := net.Pipe()
	serve(server, compressed.Bytes())

	var e executor
	var sink bytes.Buffer
	n, err := e.run(client, transfer{dir: download, sink: &sink, compress: true})

	require.NoError(t, err)
	assert.Equal(t, int64(3000), n)
	assert.Equal(t, strings.Repeat("abc", 1000), sink.String())
}

func TestExecutor_DownloadCompressedEmpty(t *testing.T) {
	client, server := net.Pipe()
	serve(server, nil)

	var e executor
	var sink bytes.Buffer
	n, err := e.run(client, transfer{dir: download, sink: &sink, compress: true})

	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestExecutor_Upload(t *testing.T) {
	client, server := net.Pipe()
	got := collect(server)

	e := executor{limiter: ratelimit.New(1 << 30)}
	n, err := e.run(client, transfer{dir: upload, source: strings.NewReader("payload")})

	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
	assert.Equal(t, "payload", string(<-got))
}

func TestExecutor_UploadASCII(t *testing.T) {
	client, server := net.Pipe()
	got := collect(server)

	var e executor
	n, err := e.run(client, transfer{dir: upload, source: strings.NewReader("a\nb\n"), ascii: true})

	require.NoError(t, err)
	// the count is of bytes taken from the source, before translation
	assert.Equal(t, int64(4), n)
	assert.Equal(t, "a\r\nb\r\n", string(<-got))
}

func TestExecutor_UploadCompressed(t *testing.T) {
	client, server := net.Pipe()
	got := collect(server)

	e := executor{level: zlib.BestSpeed}
	payload := strings.Repeat("xyz", 500)
	_, err := e.run(client, transfer{dir: upload, source: strings.NewReader(payload), compress: true})
	require.NoError(t, err)

	zr, err := zlib.NewReader(bytes.NewReader(<-got))
	require.NoError(t, err)
	plain, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, payload, string(plain))
}

func TestExecutor_DownloadFailure(t *testing.T) {
	client, server := net.Pipe()
	serve(server, []byte("partial"))

	var e executor
	failing := &failingWriter{after: 3}
	_, err := e.run(client, transfer{dir: download, sink: failing})
	assert.ErrorIs(t, err, errSinkFull)
}

var errSinkFull = io.ErrShortWrite

type failingWriter struct {
	after int
	n     int
}

func (w *failingWriter) Write(p []byte) (int, error) {
	if w.n+len(p) > w.after {
		return 0, errSinkFull
	}
	w.n += len(p)
	return len(p), nil
}
