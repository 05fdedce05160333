// Package runlog renders the advisory, human-readable performance log
// described in spec.md §4.7: the "performance log file rendering" concern
// named out of scope only covers fancy formatting/i18n, not producing the
// data, so this package sticks to a single stdlib text/template — no
// templating library appears anywhere in the example pack.
package runlog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"text/template"
	"time"

	"github.com/mongoreindex/mongoreindex"
)

// unsafeNameChar mirrors internal/statestore's sanitization rule so the
// advisory log's file name never escapes dir regardless of what
// ClusterName/DBName contain.
var unsafeNameChar = regexp.MustCompile(`[^A-Za-z0-9_-]`)

const reportTemplate = `rebuild run: {{.ClusterName}}/{{.DBName}}
started: {{.StartedAt.Format "2006-01-02T15:04:05Z07:00"}}
ended:   {{.EndedAt.Format "2006-01-02T15:04:05Z07:00"}}
duration: {{.Duration}}

{{range .Collections}}collection {{.Name}} [{{.Status}}]
{{range .Indexes}}  - {{.OriginalName}}: {{.FinalPhase}}{{if .BytesReclaimed}} ({{.BytesReclaimed}} bytes reclaimed){{end}}
{{end}}{{end}}`

var tmpl = template.Must(template.New("runlog").Parse(reportTemplate))

// reportData adapts mongoreindex.RunLog with a precomputed Duration field,
// since text/template cannot subtract two time.Time values itself.
type reportData struct {
	*mongoreindex.RunLog
	Duration time.Duration
}

// Render writes an advisory plain-text summary of log to w.
func Render(w io.Writer, log *mongoreindex.RunLog) error {
	data := reportData{RunLog: log, Duration: log.EndedAt.Sub(log.StartedAt)}
	return tmpl.Execute(w, data)
}

// WriteFile renders log and writes it to <dir>/<clusterName>_<dbName>_<unix-start>.log,
// creating dir if necessary. Advisory output only: a failure here never
// fails the job, so callers typically log the error rather than
// propagating it.
func WriteFile(dir string, log *mongoreindex.RunLog) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	name := fmt.Sprintf("%s_%s_%d.log",
		unsafeNameChar.ReplaceAllString(log.ClusterName, "_"),
		unsafeNameChar.ReplaceAllString(log.DBName, "_"),
		log.StartedAt.Unix())
	path := filepath.Join(dir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if err := Render(f, log); err != nil {
		return "", err
	}
	return path, nil
}
