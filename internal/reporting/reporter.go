// Package reporting writes finished scan sessions to files for other tools:
// JSON for scripts and SARIF so CI systems can surface targets that no
// longer have a working selector.
package reporting

import (
	"fmt"
	"io"
	"os"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/relocator/internal/scanner"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Reporter writes one or more sessions and finalizes the output on Close.
type Reporter interface {
	Write(session *scanner.Session) error
	Close() error
}

// Options describe the run for formats that record it.
type Options struct {
	ToolVersion string
	// PageURL is the location reported for every result.
	PageURL string
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

// New opens outputPath ("" or "-" for stdout) and returns a reporter for
// format, "json" or "sarif".
func New(format, outputPath string, opts Options) (Reporter, error) {
	switch format {
	case "json", "sarif":
	default:
		return nil, fmt.Errorf("unsupported report format: %s", format)
	}

	var w io.WriteCloser
	if outputPath == "" || outputPath == "-" {
		w = nopWriteCloser{os.Stdout}
	} else {
		f, err := os.Create(outputPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create report file %s: %w", outputPath, err)
		}
		w = f
	}

	if format == "sarif" {
		return NewSARIFReporter(w, opts), nil
	}
	return NewJSONReporter(w), nil
}

// JSONReporter writes the sessions as a JSON array.
type JSONReporter struct {
	w        io.WriteCloser
	sessions []*scanner.Session
}

func NewJSONReporter(w io.WriteCloser) *JSONReporter {
	return &JSONReporter{w: w, sessions: []*scanner.Session{}}
}

func (r *JSONReporter) Write(session *scanner.Session) error {
	if session == nil {
		return fmt.Errorf("no session to report")
	}
	r.sessions = append(r.sessions, session)
	return nil
}

func (r *JSONReporter) Close() error {
	enc := json.NewEncoder(r.w)
	enc.SetIndent("", "  ")
	encodeErr := enc.Encode(r.sessions)
	closeErr := r.w.Close()
	if encodeErr != nil {
		return fmt.Errorf("failed to encode report: %w", encodeErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close report: %w", closeErr)
	}
	return nil
}
