package ftpsession

import "io"

// meter counts the bytes of one transfer and reports the running total to
// the WithProgress callback.
type meter struct {
	report func(bytesTransferred int64)
	total  int64
}

func (m *meter) add(n int) {
	if n <= 0 {
		return
	}
	m.total += int64(n)
	if m.report != nil {
		m.report(m.total)
	}
}

// writer counts what is written to w.
func (m *meter) writer(w io.Writer) io.Writer {
	return meterWriter{w: w, m: m}
}

// reader counts what is read from r.
func (m *meter) reader(r io.Reader) io.Reader {
	return meterReader{r: r, m: m}
}

type meterWriter struct {
	w io.Writer
	m *meter
}

func (mw meterWriter) Write(p []byte) (int, error) {
	n, err := mw.w.Write(p)
	mw.m.add(n)
	return n, err
}

type meterReader struct {
	r io.Reader
	m *meter
}

func (mr meterReader) Read(p []byte) (int, error) {
	n, err := mr.r.Read(p)
	mr.m.add(n)
	return n, err
}
