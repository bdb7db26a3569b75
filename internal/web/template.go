package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/tapdial-bridge/internal/status"
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
	"num": func(p *float64) string {
		if p == nil {
			return "-"
		}
		return fmt.Sprintf("%g", *p)
	},
	"str": func(p *string) string {
		if p == nil {
			return "-"
		}
		return *p
	},
	"flag": func(p *bool) bool {
		return p != nil && *p
	},
	"since": func(t time.Time) string {
		if t.IsZero() {
			return "-"
		}
		return t.UTC().Format("2006-01-02T15:04:05Z")
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Tap Dial Bridge</title>
<style>
body { font-family: monospace; max-width: 900px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th.row { width: 40%; }
.connected { color: green; }
.disconnected { color: red; }
.flash { background: #ffd; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-left: 6px; vertical-align: middle; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
.live-dot.pending { background: orange; }
</style>
</head>
<body>
<h1>Tap Dial Bridge{{if .Live}}<span id="live-dot" class="live-dot pending" title="connecting"></span>{{end}}</h1>

<h2>Devices</h2>
<table>
<tr><th>Device</th><th>Battery</th><th>Link</th><th>Firmware</th><th>Events</th><th>Last action</th><th>At</th></tr>
{{range .Devices}}<tr id="dev-{{.ID}}">
<td>{{.Name}}{{if ne .Name .ID}} ({{.ID}}){{end}}</td>
<td class="battery">{{num .Battery}}</td>
<td class="linkquality">{{num .LinkQuality}}</td>
<td class="installed_version">{{str .InstalledVersion}}{{if flag .UpdateAvailable}} (update){{end}}</td>
<td class="count">{{.Counts.Total}}</td>
<td class="action">{{if .LastAction}}{{.LastAction}}{{else}}-{{end}}</td>
<td class="at">{{since .LastEventAt}}</td>
</tr>
{{else}}<tr><td colspan="7">no devices provisioned</td></tr>
{{end}}</table>

<h2>Connectivity</h2>
<table>
<tr><th class="row">MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th class="row">Broker</th><td>{{.Config.Broker}}</td></tr>
{{if .Network}}<tr><th class="row">Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th class="row">IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>Event Counts</h2>
<table>
<tr><th class="row">Short</th><td>{{.Totals.Short}}</td></tr>
<tr><th class="row">Long</th><td>{{.Totals.Long}}</td></tr>
<tr><th class="row">Dial</th><td>{{.Totals.Dial}}</td></tr>
<tr><th class="row">Combined</th><td>{{.Totals.Combined}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th class="row">Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th class="row">Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th class="row">Topics</th><td>{{.Config.BaseTopic}} &rarr; {{.Config.EventPrefix}}</td></tr>
<tr><th class="row">Debounce</th><td>{{.Config.DebounceMs}}ms</td></tr>
<tr><th class="row">Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th class="row">Discovery</th><td>{{if .Config.Discovery}}on{{else}}off{{end}}</td></tr>
<tr><th class="row">HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> | <a href="/metrics">metrics</a></p>
{{if .Live}}
<script>
(function() {
  var dot = document.getElementById("live-dot");

  function setDot(cls, title) {
    dot.className = "live-dot " + cls;
    dot.title = title;
  }

  function cell(id, cls) {
    var row = document.getElementById("dev-" + id);
    return row ? row.querySelector("." + cls) : null;
  }

  function onEvent(ev) {
    var a = cell(ev.device_id, "action");
    var at = cell(ev.device_id, "at");
    var n = cell(ev.device_id, "count");
    if (!a) return;
    a.textContent = ev.action;
    at.textContent = ev.timestamp;
    n.textContent = String(parseInt(n.textContent, 10) + 1);
    var row = a.parentNode;
    row.className = "flash";
    setTimeout(function() { row.className = ""; }, 300);
  }

  function onMetadata(m) {
    var c = cell(m.device_id, m.field);
    if (c) c.textContent = String(m.value);
  }

  function connect() {
    var proto = location.protocol === "https:" ? "wss://" : "ws://";
    var ws = new WebSocket(proto + location.host + "/ws");
    ws.onopen = function() { setDot("ok", "live"); };
    ws.onclose = function() {
      setDot("err", "offline");
      setTimeout(connect, 5000);
    };
    ws.onmessage = function(msg) {
      try {
        var env = JSON.parse(msg.data);
        if (env.type === "event") onEvent(env.data);
        if (env.type === "metadata") onMetadata(env.data);
      } catch (e) {}
    };
  }

  connect();
})();
</script>
{{end}}
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot, live bool) error {
	// Snapshot has an Uptime() method but the template needs a field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
		Live   bool
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
		Live:     live,
	}
	return indexTmpl.Execute(w, data)
}
