package upload

import "io"

// progressReader reports whole percentages of size as the body is read.
// Seeking, as the HTTP client does before each attempt, moves the count.
type progressReader struct {
	r      io.ReadSeeker
	size   int64
	read   int64
	last   int
	report func(percent int)
}

func newProgressReader(r io.ReadSeeker, size int64, report func(int)) *progressReader {
	return &progressReader{r: r, size: size, last: -1, report: report}
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.read += int64(n)
	p.emit()
	return n, err
}

func (p *progressReader) Seek(offset int64, whence int) (int64, error) {
	pos, err := p.r.Seek(offset, whence)
	if err != nil {
		return pos, err
	}
	p.read = pos
	return pos, nil
}

func (p *progressReader) emit() {
	percent := 100
	if p.size > 0 {
		percent = int(p.read * 100 / p.size)
	}
	if percent > 100 {
		percent = 100
	}
	if percent == p.last {
		return
	}
	p.last = percent
	p.report(percent)
}
