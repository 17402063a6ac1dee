package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/zstd"
	"gopkg.in/yaml.v3"

	"github.com/shizukutanaka/measure/internal/errors"
)

var (
	// ErrFormat is returned for an unknown report format.
	ErrFormat = errors.NewError(errors.ErrorTypeReport, "REPORT_FORMAT", "unknown report format")
	// ErrWrite wraps a failure to write the report.
	ErrWrite = errors.NewError(errors.ErrorTypeReport, "REPORT_WRITE", "failed to write report")
)

// Formats lists the supported report formats.
var Formats = []string{"text", "table", "json", "yaml"}

// ValidFormat reports whether format is supported.
func ValidFormat(format string) bool {
	for _, f := range Formats {
		if f == format {
			return true
		}
	}
	return false
}

// Write renders r to w in the given format.
func Write(w io.Writer, format string, r Report) error {
	var err error
	switch format {
	case "text", "":
		err = writeText(w, r)
	case "table":
		err = writeTable(w, r)
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		err = enc.Encode(r)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err = enc.Encode(r); err == nil {
			err = enc.Close()
		}
	default:
		return ErrFormat.WithContext("format", format)
	}
	if err != nil {
		return ErrWrite.WithError(err)
	}
	return nil
}

// writeText prints the registry dump lines.
func writeText(w io.Writer, r Report) error {
	for _, s := range r.Stats {
		if _, err := fmt.Fprintf(w, "measurement|%s|%dms\n", s.Label, s.AverageMs); err != nil {
			return err
		}
	}
	return nil
}

func writeTable(w io.Writer, r Report) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "LABEL\tSAMPLES\tAVG\tMEAN\tSTDDEV\tMIN\tP50\tP95\tMAX")
	for _, s := range r.Stats {
		fmt.Fprintf(tw, "%s\t%s\t%dms\t%sms\t%sms\t%sms\t%sms\t%sms\t%sms\n",
			s.Label,
			humanize.Comma(int64(s.Count)),
			s.AverageMs,
			humanize.CommafWithDigits(s.MeanMs, 2),
			humanize.CommafWithDigits(s.StdDevMs, 2),
			humanize.CommafWithDigits(s.MinMs, 2),
			humanize.CommafWithDigits(s.P50Ms, 2),
			humanize.CommafWithDigits(s.P95Ms, 2),
			humanize.CommafWithDigits(s.MaxMs, 2),
		)
	}
	return tw.Flush()
}

// WriteFile writes r to path, compressing with zstd when path ends in ".zst".
func WriteFile(path, format string, r Report) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return ErrWrite.WithError(err).WithContext("path", path)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = ErrWrite.WithError(cerr).WithContext("path", path)
		}
	}()

	if !strings.HasSuffix(path, ".zst") {
		return Write(f, format, r)
	}

	enc, err := zstd.NewWriter(f)
	if err != nil {
		return ErrWrite.WithError(err).WithContext("path", path)
	}
	if err := Write(enc, format, r); err != nil {
		enc.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		return ErrWrite.WithError(err).WithContext("path", path)
	}
	return nil
}
