package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/gps-tracker/internal/status"
	"github.com/sweeney/gps-tracker/internal/telemetry"
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
	"stamp": func(t time.Time) string {
		if t.IsZero() {
			return "never"
		}
		return t.UTC().Format(telemetry.TimeLayout)
	},
	"coord": func(v float64) string {
		return fmt.Sprintf("%.6f", v)
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<meta http-equiv="refresh" content="10">
<title>GPS Tracker</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.connected { color: green; }
.disconnected { color: red; }
.warn { color: orange; }
</style>
</head>
<body>
<h1>GPS Tracker{{if .Config.Simulated}} (simulated){{end}}</h1>

<h2>Cycle</h2>
<table>
<tr><th>State</th><td id="state">{{.State}}</td></tr>
<tr><th>Cycle</th><td>{{.Cycle}}</td></tr>
<tr><th>Last outcome</th><td>{{if .LastOutcome}}{{.LastOutcome}}{{else}}none{{end}}</td></tr>
<tr><th>Last cycle</th><td>{{stamp .LastCycleAt}}</td></tr>
{{if .LastError}}<tr><th>Last error</th><td class="warn">{{.LastError}}</td></tr>{{end}}
</table>

<h2>Last Fix</h2>
{{with .LastSample}}<table>
<tr><th>Time</th><td>{{stamp .Time}}</td></tr>
<tr><th>Position</th><td id="position">{{coord .Latitude}}, {{coord .Longitude}}</td></tr>
<tr><th>Speed</th><td>{{printf "%.2f" .SpeedKmh}} km/h</td></tr>
<tr><th>Altitude</th><td>{{printf "%.2f" .Altitude}} m</td></tr>
<tr><th>Battery</th><td>{{.Battery}}%</td></tr>
</table>{{else}}<p>No fix yet.</p>{{end}}

<h2>Failure Counters</h2>
<table>
{{range .Counters}}<tr><th>{{.Name}}</th><td{{if gt .Count 0}} class="warn"{{end}}>{{.Count}}</td></tr>
{{else}}<tr><td>none yet</td></tr>
{{end}}</table>

<h2>Connectivity</h2>
<table>
<tr><th>Cellular</th><td class="{{if .LinkUp}}connected{{else}}disconnected{{end}}">{{if .LinkUp}}up{{else}}down{{end}}</td></tr>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
{{if .Config.HTTPURL}}<tr><th>Collector</th><td>{{.Config.HTTPURL}}</td></tr>{{end}}
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Boot ID</th><td>{{.BootID}}</td></tr>
<tr><th>Restarts</th><td>{{.Restarts}}{{if .RestartCause}} (last: {{.RestartCause}}){{end}}</td></tr>
<tr><th>Sinks</th><td>{{range $i, $s := .Config.Sinks}}{{if $i}}, {{end}}{{$s}}{{end}}</td></tr>
<tr><th>Fix policy</th><td>{{.Config.FixPolicy}}</td></tr>
<tr><th>Interval</th><td>{{.Config.CycleInterval}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> · <a href="/metrics">metrics</a></p>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime   time.Duration
		Counters []status.CounterJSON
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
		Counters: snap.SortedCounters(),
	}
	indexTmpl.Execute(w, data)
}
