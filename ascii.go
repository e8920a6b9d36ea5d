package ftpsession

import "io"

// crlfEncoder converts LF line endings to CRLF for TYPE A uploads.
// Existing CRLF pairs are left alone.
type crlfEncoder struct {
	r      io.Reader
	buf    []byte
	out    []byte
	prevCR bool
	err    error
}

func newCRLFEncoder(r io.Reader) *crlfEncoder {
	return &crlfEncoder{r: r, buf: make([]byte, 32*1024)}
}

func (e *crlfEncoder) Read(p []byte) (int, error) {
	for len(e.out) == 0 {
		if e.err != nil {
			return 0, e.err
		}
		n, err := e.r.Read(e.buf)
		for _, b := range e.buf[:n] {
			if b == '\n' && !e.prevCR {
				e.out = append(e.out, '\r')
			}
			e.out = append(e.out, b)
			e.prevCR = b == '\r'
		}
		e.err = err
	}
	n := copy(p, e.out)
	e.out = e.out[n:]
	return n, nil
}

// crlfDecoder converts CRLF line endings to LF for TYPE A downloads.
// A lone CR is passed through.
type crlfDecoder struct {
	r         io.Reader
	buf       []byte
	out       []byte
	pendingCR bool
	err       error
}

func newCRLFDecoder(r io.Reader) *crlfDecoder {
	return &crlfDecoder{r: r, buf: make([]byte, 32*1024)}
}

func (d *crlfDecoder) Read(p []byte) (int, error) {
	for len(d.out) == 0 {
		if d.err != nil {
			return 0, d.err
		}
		n, err := d.r.Read(d.buf)
		for _, b := range d.buf[:n] {
			if d.pendingCR {
				d.pendingCR = false
				if b != '\n' {
					d.out = append(d.out, '\r')
				}
			}
			if b == '\r' {
				d.pendingCR = true
				continue
			}
			d.out = append(d.out, b)
		}
		if err != nil {
			if d.pendingCR {
				d.out = append(d.out, '\r')
				d.pendingCR = false
			}
			d.err = err
		}
	}
	n := copy(p, d.out)
	d.out = d.out[n:]
	return n, nil
}
