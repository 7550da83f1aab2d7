package cache

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/utkarsh5026/pararun/internal/keys"
)

var errMalformed = errors.New("malformed record")

// ScanFunc is called once per non-empty line. err is non-nil when the line is not
// a valid JSON document, in which case key is empty.
type ScanFunc func(lineNo int, key keys.Key, err error)

// ScanJSONL reads newline-delimited JSON records from r and reports the key of each.
// Malformed lines are reported to fn and never abort the scan; only read errors and
// context cancellation do.
func ScanJSONL(ctx context.Context, r io.Reader, keyField string, fn ScanFunc) error {
	br := bufio.NewReaderSize(r, 64*1024)

	for lineNo := 1; ; lineNo++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		line, readErr := br.ReadBytes('\n')
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return fmt.Errorf("read line %d: %w", lineNo, readErr)
		}

		line = bytes.TrimSpace(line)
		if len(line) > 0 {
			if !json.Valid(line) {
				fn(lineNo, "", errMalformed)
			} else if key, err := keys.FromJSON(line, keyField); err != nil {
				fn(lineNo, "", fmt.Errorf("%w: %w", errMalformed, err))
			} else {
				fn(lineNo, key, nil)
			}
		}

		if errors.Is(readErr, io.EOF) {
			return nil
		}
	}
}

// Report is the result of inspecting a cache log.
type Report struct {
	Lines      int        // non-empty lines, or pebble log entries
	Records    int        // valid records
	Malformed  []int      // line numbers (log positions for pebble) of malformed records
	Distinct   int        // distinct keys
	Duplicates []keys.Key // keys recorded more than once, sorted
}

// Inspect scans a cache log and reports its health.
func Inspect(ctx context.Context, r io.Reader, keyField string) (*Report, error) {
	b := newReportBuilder()
	if err := ScanJSONL(ctx, r, keyField, b.add); err != nil {
		return nil, err
	}
	return b.report(), nil
}

type reportBuilder struct {
	rep  Report
	seen *keys.Set
	dups *keys.Set
}

func newReportBuilder() *reportBuilder {
	return &reportBuilder{seen: keys.NewSet(), dups: keys.NewSet()}
}

func (b *reportBuilder) add(lineNo int, key keys.Key, err error) {
	b.rep.Lines++
	if err != nil {
		b.rep.Malformed = append(b.rep.Malformed, lineNo)
		return
	}
	b.rep.Records++
	if !b.seen.Add(key) {
		b.dups.Add(key)
	}
}

func (b *reportBuilder) report() *Report {
	rep := b.rep
	rep.Distinct = b.seen.Len()
	rep.Duplicates = b.dups.Keys()
	return &rep
}
