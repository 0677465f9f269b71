package report

import (
	"html/template"
	"io"
	"sort"
	"time"
)

// HTMLGenerator renders a Report as a standalone HTML page.
type HTMLGenerator struct {
	template *template.Template
}

// NewHTMLGenerator builds an HTMLGenerator with its template parsed once.
func NewHTMLGenerator() *HTMLGenerator {
	tmpl := template.Must(template.New("report").Funcs(template.FuncMap{
		"formatTime":     func(t time.Time) string { return t.Format("2006-01-02 15:04:05") },
		"formatDuration": func(d time.Duration) string { return d.String() },
		"sortedFuzzers": func(m map[string]int) []string {
			keys := make([]string, 0, len(m))
			for k := range m {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			return keys
		},
	}).Parse(htmlTemplate))
	return &HTMLGenerator{template: tmpl}
}

// Generate implements Generator.
func (g *HTMLGenerator) Generate(report *Report, w io.Writer) error {
	return g.template.Execute(w, report)
}

// Extension implements Generator.
func (g *HTMLGenerator) Extension() string {
	return "html"
}

const htmlTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<title>{{.Title}} - rcfuzz report</title>
<style>
  :root {
    --bg: #0b0d12; --panel: #11141b; --border: rgba(255,255,255,0.08);
    --fg: #e6e8ee; --muted: #8b93a7; --accent: #4dd2ff; --ok: #3ddc84;
  }
  * { margin: 0; padding: 0; box-sizing: border-box; }
  body { background: var(--bg); color: var(--fg); font-family: 'SFMono-Regular', Consolas, monospace; padding: 32px; }
  h1 { color: var(--accent); margin-bottom: 4px; }
  .meta { color: var(--muted); margin-bottom: 24px; font-size: 13px; }
  .stats { display: grid; grid-template-columns: repeat(4, 1fr); gap: 16px; margin-bottom: 24px; }
  .card { background: var(--panel); border: 1px solid var(--border); border-radius: 8px; padding: 16px; }
  .card .value { font-size: 24px; font-weight: 700; }
  .card .label { color: var(--muted); font-size: 12px; }
  table { width: 100%; border-collapse: collapse; font-size: 13px; margin-bottom: 24px; }
  th, td { padding: 8px 12px; text-align: left; border-bottom: 1px solid var(--border); }
  th { color: var(--muted); text-transform: uppercase; font-size: 11px; }
  .yes { color: var(--ok); }
</style>
</head>
<body>
  <h1>{{.Title}}</h1>
  <div class="meta">target: {{.TargetName}} &middot; algorithm: {{.Algorithm}} &middot; generated {{formatTime .GeneratedAt}}</div>

  <div class="stats">
    <div class="card"><div class="value">{{.RoundsCompleted}}</div><div class="label">rounds</div></div>
    <div class="card"><div class="value">{{.SnapshotsTaken}}</div><div class="label">snapshots</div></div>
    <div class="card"><div class="value">{{.FinalGlobalBits}}</div><div class="label">global bitmap bits</div></div>
    <div class="card"><div class="value">{{.FinalUniqueBugs}}</div><div class="label">unique bugs</div></div>
  </div>

  <h2>per-fuzzer bitmap popcount</h2>
  <table>
    <thead><tr><th>fuzzer</th><th>bitmap bits set</th></tr></thead>
    <tbody>
    {{range $f := sortedFuzzers .PerFuzzerBits}}
      <tr><td>{{$f}}</td><td>{{index $.PerFuzzerBits $f}}</td></tr>
    {{end}}
    </tbody>
  </table>

  <h2>exploit rounds</h2>
  <table>
    <thead><tr><th>started</th><th>ended</th><th>picked</th><th>found new coverage</th></tr></thead>
    <tbody>
    {{range .Rounds}}
      <tr>
        <td>{{.StartedAt}}</td>
        <td>{{.EndedAt}}</td>
        <td>{{range $i, $p := .Picked}}{{if $i}}, {{end}}{{$p}}{{end}}</td>
        <td{{if .FoundNewEdge}} class="yes"{{end}}>{{if .FoundNewEdge}}yes{{else}}no{{end}}</td>
      </tr>
    {{end}}
    </tbody>
  </table>
</body>
</html>`
