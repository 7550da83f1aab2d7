package cli

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"os"

	"github.com/utkarsh5026/pararun/pararun"
)

const maxLineSize = 64 << 20

// lineSource yields one item per non-blank input line. Lines that are valid JSON
// are used as is; any other line becomes a JSON string. A read error ends the
// sequence and is kept in err.
type lineSource struct {
	r   io.Reader
	err error
}

func newLineSource(r io.Reader) *lineSource {
	return &lineSource{r: r}
}

func (s *lineSource) Items() pararun.Source[json.RawMessage] {
	return func(yield func(json.RawMessage) bool) {
		sc := bufio.NewScanner(s.r)
		sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
		for sc.Scan() {
			line := bytes.TrimSpace(sc.Bytes())
			if len(line) == 0 {
				continue
			}
			if !yield(toItem(line)) {
				return
			}
		}
		s.err = sc.Err()
	}
}

func toItem(line []byte) json.RawMessage {
	if json.Valid(line) {
		return json.RawMessage(bytes.Clone(line))
	}
	b, _ := json.Marshal(string(line))
	return b
}

// countItems counts the non-blank lines of the file at path.
func countItems(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var n int64
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for sc.Scan() {
		if len(bytes.TrimSpace(sc.Bytes())) > 0 {
			n++
		}
	}
	return n, sc.Err()
}
