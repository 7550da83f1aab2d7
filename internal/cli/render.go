package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"github.com/utkarsh5026/pararun/internal/cache"
	"github.com/utkarsh5026/pararun/internal/keys"
	"github.com/utkarsh5026/pararun/pararun"
)

var (
	bold   = color.New(color.Bold)
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
)

// maxListed caps the line numbers and keys listed by inspect.
const maxListed = 10

func renderSummary(w io.Writer, s pararun.Summary) {
	table := tablewriter.NewWriter(w)
	table.Header("Admitted", "Skipped", "Succeeded", "Failed", "Canceled", "Elapsed")
	_ = table.Append(
		humanize.Comma(s.Admitted),
		humanize.Comma(s.Skipped),
		humanize.Comma(s.Succeeded),
		humanize.Comma(s.Failed),
		humanize.Comma(s.Canceled),
		s.Elapsed.Round(time.Millisecond).String(),
	)
	_ = table.Render()

	switch {
	case s.Failed == 0 && s.Canceled == 0:
		_, _ = green.Fprintln(w, "complete")
	default:
		_, _ = yellow.Fprintf(w, "incomplete: %d failed, %d canceled; rerun with the same cache to resume\n", s.Failed, s.Canceled)
	}
}

func renderReport(w io.Writer, path string, size int64, rep *cache.Report) {
	_, _ = bold.Fprintf(w, "%s (%s)\n", path, humanize.Bytes(uint64(size)))

	table := tablewriter.NewWriter(w)
	table.Header("Lines", "Records", "Malformed", "Distinct", "Duplicates")
	_ = table.Append(
		humanize.Comma(int64(rep.Lines)),
		humanize.Comma(int64(rep.Records)),
		humanize.Comma(int64(len(rep.Malformed))),
		humanize.Comma(int64(rep.Distinct)),
		humanize.Comma(int64(len(rep.Duplicates))),
	)
	_ = table.Render()

	if len(rep.Malformed) > 0 {
		nums := make([]string, 0, min(len(rep.Malformed), maxListed))
		for _, n := range rep.Malformed[:min(len(rep.Malformed), maxListed)] {
			nums = append(nums, strconv.Itoa(n))
		}
		_, _ = yellow.Fprintf(w, "malformed lines: %s%s\n", strings.Join(nums, ", "), more(len(rep.Malformed)))
	}
	if len(rep.Duplicates) > 0 {
		_, _ = yellow.Fprintf(w, "duplicate keys: %s%s\n", joinKeys(rep.Duplicates[:min(len(rep.Duplicates), maxListed)]), more(len(rep.Duplicates)))
	}
	if len(rep.Malformed) == 0 && len(rep.Duplicates) == 0 {
		_, _ = green.Fprintln(w, "healthy")
	}
}

func joinKeys(ks []keys.Key) string {
	parts := make([]string, len(ks))
	for i, k := range ks {
		parts[i] = strconv.Quote(string(k))
	}
	return strings.Join(parts, ", ")
}

func more(n int) string {
	if n <= maxListed {
		return ""
	}
	return fmt.Sprintf(" (and %d more)", n-maxListed)
}
