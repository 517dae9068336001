package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/peak-tracker/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"kw": func(v float64) string {
		return fmt.Sprintf("%.2f kW", v)
	},
	"when": func(t time.Time) string {
		if t.IsZero() {
			return "—"
		}
		return t.UTC().Format("2006-01-02 15:04")
	},
	"inc": func(i int) int { return i + 1 },
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Peak Tracker</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.empty { color: #888; }
.connected { color: green; }
.disconnected { color: red; }
</style>
</head>
<body>
<h1>Peak Tracker</h1>

<h2>Peaks</h2>
<table>
{{range $i, $v := .Peaks}}<tr><th>Peak {{inc $i}}</th><td{{if le $v 0.0}} class="empty"{{end}}>{{kw $v}} ({{when (index $.PeakTimes $i)}})</td></tr>
{{end}}<tr><th>Average</th><td>{{kw .AverageKW}}</td></tr>
<tr><th>Estimated cost</th><td>{{printf "%.2f" .EstimatedCost}}</td></tr>
<tr><th>Live cycle average</th><td>{{kw .LiveAverageKW}}</td></tr>
</table>

{{if .PrevMonth}}<h2>Previous Month</h2>
<table>
{{range $i, $v := .PrevMonth}}<tr><th>Peak {{inc $i}}</th><td>{{kw $v}}</td></tr>
{{end}}<tr><th>Average</th><td>{{kw .PrevMonthAverage}}</td></tr>
</table>
{{end}}

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Source</th><td>{{.Config.SourceEntity}}</td></tr>
<tr><th>Cycle</th><td>{{.Config.CycleType}}</td></tr>
<tr><th>Tracked peaks</th><td>{{.Config.NumPeaks}}</td></tr>
<tr><th>Monthly reset</th><td>{{if .Config.MonthlyReset}}yes{{else}}no{{end}}</td></tr>
<tr><th>One peak per day</th><td>{{if .Config.OnePerDay}}yes{{else}}no{{end}}</td></tr>
<tr><th>Last update</th><td>{{when .LastUpdate}}{{if .LastReason}} ({{.LastReason}}){{end}}</td></tr>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a></p>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	indexTmpl.Execute(w, data)
}
