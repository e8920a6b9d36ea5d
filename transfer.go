package ftpsession

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/klauspost/compress/zlib"

	"github.com/gonzalop/ftpsession/internal/ratelimit"
)

// direction of a transfer, seen from the client.
type direction int

const (
	download direction = iota
	upload
)

func (d direction) String() string {
	if d == upload {
		return "upload"
	}
	return "download"
}

// transfer describes one data-connection job.
type transfer struct {
	dir direction

	// sink receives downloaded bytes
	sink io.Writer

	// source provides uploaded bytes
	source io.Reader

	// ascii translates line endings (TYPE A)
	ascii bool

	// compress wraps the stream in zlib (MODE Z)
	compress bool
}

// executor moves bytes between a data connection and the caller. It never
// touches the control channel; waiting for the completion reply is the
// session's job.
type executor struct {
	limiter  *ratelimit.Limiter
	progress func(int64)

	// level is the MODE Z compression level
	level int
}

// run streams until EOF (download) or until the source is exhausted
// (upload), then closes dc. The count is of bytes delivered to the sink
// or taken from the source.
func (e *executor) run(dc net.Conn, t transfer) (int64, error) {
	if t.dir == upload {
		return e.upload(dc, t)
	}
	return e.download(dc, t)
}

func (e *executor) download(dc net.Conn, t transfer) (int64, error) {
	defer dc.Close()

	m := &meter{report: e.progress}
	sink := m.writer(t.sink)
	var r io.Reader = ratelimit.NewReader(dc, e.limiter)
	if t.compress {
		// an empty file is sent as an empty stream, without a zlib header
		br := bufio.NewReader(r)
		if _, err := br.Peek(1); errors.Is(err, io.EOF) {
			return 0, nil
		}
		zr, err := zlib.NewReader(br)
		if err != nil {
			return 0, fmt.Errorf("failed to read MODE Z stream: %w", err)
		}
		defer zr.Close()
		r = zr
	}
	if t.ascii {
		r = newCRLFDecoder(r)
	}

	_, err := io.Copy(sink, r)
	return m.total, err
}

func (e *executor) upload(dc net.Conn, t transfer) (int64, error) {
	m := &meter{report: e.progress}
	src := m.reader(t.source)
	if t.ascii {
		src = newCRLFEncoder(src)
	}

	var w io.Writer = ratelimit.NewWriter(dc, e.limiter)
	var zw *zlib.Writer
	if t.compress {
		var err error
		if zw, err = zlib.NewWriterLevel(w, e.level); err != nil {
			dc.Close()
			return 0, fmt.Errorf("failed to start MODE Z stream: %w", err)
		}
		w = zw
	}

	_, err := io.Copy(w, src)
	if err == nil && zw != nil {
		err = zw.Close()
	}
	// Closing signals end of file to the server, so its error matters.
	if cerr := dc.Close(); err == nil {
		err = cerr
	}
	return m.total, err
}
