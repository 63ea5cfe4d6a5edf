package main

import (
	"fmt"
	"io"
	"strings"

	"patrol-export/internal/config"
	"patrol-export/internal/export"
)

// newWriter builds the sinks named by the configured formats. printOnly
// replaces all of them with a JSON stdout writer.
func newWriter(cfg *config.ExportConfig, runID, base string, printOnly bool, stdout io.Writer) (*export.MultiWriter, error) {
	if printOnly {
		return export.NewMultiWriter(export.NewJSONStdoutWriter(stdout)), nil
	}

	var (
		writers     []export.Writer
		fileFormats []string
	)
	for _, f := range cfg.Output.Formats {
		switch f = strings.ToLower(strings.TrimSpace(f)); f {
		case config.FormatGeoJSON, config.FormatCSV, config.FormatJSONL:
			fileFormats = append(fileFormats, f)
		case config.FormatStdout:
			writers = append(writers, export.NewJSONStdoutWriter(stdout))
		case config.FormatGreptime:
			if cfg.Greptime.Endpoint == "" {
				return nil, fmt.Errorf("greptime output needs greptime.endpoint or GREPTIMEDB_ENDPOINT")
			}
			gw, err := export.NewGreptimeWriter(cfg.Greptime.Endpoint, cfg.Greptime.Database, runID)
			if err != nil {
				return nil, err
			}
			writers = append(writers, gw)
		default:
			return nil, fmt.Errorf("unsupported output format %q", f)
		}
	}
	if len(fileFormats) > 0 {
		fw, err := export.NewFileWriter(cfg.Output.Dir, base, fileFormats, cfg.Output.FieldLimit)
		if err != nil {
			return nil, err
		}
		writers = append([]export.Writer{fw}, writers...)
	}
	if len(writers) == 0 {
		return nil, fmt.Errorf("no output formats configured")
	}
	return export.NewMultiWriter(writers...), nil
}
