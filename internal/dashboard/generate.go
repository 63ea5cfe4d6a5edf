// Package dashboard renders Grafana dashboards over the GreptimeDB export tables.
package dashboard

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"patrol-export/internal/patrol"
)

//go:embed templates/*.tmpl
var templates embed.FS

// DatasourceEnv names the Grafana datasource uid of the GreptimeDB instance.
const DatasourceEnv = "GREPTIMEDB_DATASOURCE_UID"

// Tables are the table names the dashboards query.
type Tables struct {
	Tracks string
	Events string
}

// DefaultTables returns the tables the Greptime writer fills.
func DefaultTables() Tables {
	return Tables{Tracks: patrol.TrackTableName, Events: patrol.EventTableName}
}

// Render parses the dashboard templates and writes rendered dashboards to
// outDir. It returns the written paths.
func Render(outDir string, tables Tables) ([]string, error) {
	funcMap := template.FuncMap{
		"env": func(key string) (string, error) {
			v := os.Getenv(key)
			if v == "" {
				return "", fmt.Errorf("environment variable %s not set", key)
			}
			return v, nil
		},
	}

	t, err := template.New("dashboards").Funcs(funcMap).ParseFS(templates, "templates/*.tmpl")
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, err
	}
	var written []string
	for _, tpl := range t.Templates() {
		name := tpl.Name()
		if !strings.HasSuffix(name, ".tmpl") {
			continue
		}
		outPath := filepath.Join(outDir, strings.TrimSuffix(name, ".tmpl"))
		f, err := os.Create(outPath)
		if err != nil {
			return written, err
		}
		if err := tpl.Execute(f, tables); err != nil {
			f.Close()
			os.Remove(outPath)
			return written, fmt.Errorf("render %s: %w", name, err)
		}
		if err := f.Close(); err != nil {
			return written, err
		}
		written = append(written, outPath)
	}
	return written, nil
}
