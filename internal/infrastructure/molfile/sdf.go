package molfile

import (
	"bufio"
	"io"
	"iter"
	"strings"

	"github.com/turtacn/molident/pkg/errors"
)

const (
	sdfTerminator = "$$$$"
	maxLineLength = 1 << 20
)

// Reader streams the records of an SD file. A malformed record is reported
// by Next and the reader moves on to the following record.
type Reader struct {
	sc   *bufio.Scanner
	line int
	err  error
}

func NewReader(r io.Reader) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineLength)
	return &Reader{sc: sc}
}

// Next returns the next record, io.EOF after the last one. Errors from the
// underlying reader are sticky; parse errors are not.
func (r *Reader) Next() (*Molecule, error) {
	if r.err != nil {
		return nil, r.err
	}
	for {
		var lines []string
		first := r.line + 1
		terminated := false
		for r.sc.Scan() {
			r.line++
			text := r.sc.Text()
			if strings.TrimSpace(text) == sdfTerminator {
				terminated = true
				break
			}
			lines = append(lines, text)
		}
		if err := r.sc.Err(); err != nil {
			r.err = errors.Wrapf(err, errors.ErrCodeMolfileParse, "read SD file near line %d", r.line)
			return nil, r.err
		}
		if blank(lines) {
			if terminated {
				continue
			}
			r.err = io.EOF
			return nil, io.EOF
		}
		return parseBlock(lines, first)
	}
}

// All yields every record with its parse error. Iteration stops after a read
// error or when the consumer stops.
func (r *Reader) All() iter.Seq2[*Molecule, error] {
	return func(yield func(*Molecule, error) bool) {
		for {
			m, err := r.Next()
			if err == io.EOF {
				return
			}
			if !yield(m, err) {
				return
			}
			if err != nil && err == r.err {
				return
			}
		}
	}
}

// ReadSDF is shorthand for NewReader(rd).All().
func ReadSDF(rd io.Reader) iter.Seq2[*Molecule, error] {
	return NewReader(rd).All()
}

func blank(lines []string) bool {
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			return false
		}
	}
	return true
}
