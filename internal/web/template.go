package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/tecsuit/climate-core/internal/status"
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
	"temp": func(c *float64) string {
		if c == nil {
			return "n/a"
		}
		return fmt.Sprintf("%.1f°C", *c)
	},
	"onOff": func(on bool) string {
		if on {
			return "ON"
		}
		return "OFF"
	},
	"okFault": func(ok bool) string {
		if ok {
			return "ok"
		}
		return "FAULT"
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Climate Suit</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.on { color: green; font-weight: bold; }
.off { color: #888; }
.unknown { color: orange; }
.fault { color: red; font-weight: bold; }
.connected { color: green; }
.disconnected { color: red; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-left: 6px; vertical-align: middle; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
.live-dot.pending { background: orange; }
</style>
</head>
<body>
<h1>Climate Suit<span id="live-dot" class="live-dot pending" title="connecting"></span></h1>

<h2>Controller</h2>
{{with .Climate}}
<table>
<tr><th>Requested</th><td id="user-mode">{{.UserMode}}</td></tr>
<tr><th>Target</th><td id="target">{{printf "%.1f" .TargetC}}°C</td></tr>
<tr><th>Mode</th><td id="mode" class="on">{{.Mode}}</td></tr>
<tr><th>In mode</th><td id="in-mode">{{.InModeSeconds}}s</td></tr>
<tr><th>Shirt</th><td id="shirt" class="{{if .ShirtTempOK}}off{{else}}fault{{end}}">{{temp .ShirtC}}</td></tr>
<tr><th>Radiator</th><td id="radiator" class="{{if .RadiatorTempOK}}off{{else}}fault{{end}}">{{temp .RadiatorC}}</td></tr>
<tr><th>TEC</th><td id="tec">{{.Direction}} {{printf "%.0f" .PowerPercent}}%</td></tr>
<tr><th>Fans</th><td id="fan">{{printf "%.0f" .FanSpeed}}</td></tr>
<tr><th>Radiator pump</th><td id="radiator-pump">{{onOff .RadiatorPump}} ({{okFault .RadiatorPumpOK}})</td></tr>
<tr><th>Shirt pump</th><td id="shirt-pump">{{onOff .ShirtPump}} ({{okFault .ShirtPumpOK}})</td></tr>
</table>
{{else}}
<p class="unknown">Waiting for the first control tick.</p>
{{end}}

<h2>Totals</h2>
<table>
<tr><th>Radiator flow</th><td>{{printf "%.0f" .Totals.RadiatorML}} ml</td></tr>
<tr><th>Shirt flow</th><td>{{printf "%.0f" .Totals.ShirtML}} ml</td></tr>
<tr><th>Transitions</th><td>{{.Totals.Transitions}}</td></tr>
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{if .Config.Broker}}{{.Config.Broker}}{{else}}disabled{{end}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Tick</th><td>{{.Config.TickMs}}ms</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>TECs</th><td>{{.Config.TECs}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> | <a href="/api/events">Events</a></p>
<script>
(function() {
  var dot = document.getElementById("live-dot");

  function set(id, text) {
    var el = document.getElementById(id);
    if (el) { el.textContent = text; }
  }

  function setDot(cls, title) {
    dot.className = "live-dot " + cls;
    dot.title = title;
  }

  function temp(v) {
    return v === null ? "n/a" : v.toFixed(1) + "°C";
  }

  function connect() {
    var proto = location.protocol === "https:" ? "wss://" : "ws://";
    var ws = new WebSocket(proto + location.host + "/ws");
    ws.onopen = function() { setDot("ok", "live"); };
    ws.onclose = function() {
      setDot("err", "offline");
      setTimeout(connect, 5000);
    };
    ws.onmessage = function(ev) {
      try {
        var msg = JSON.parse(ev.data);
        if (msg.type !== "climate") { return; }
        var c = msg.data;
        if (!document.getElementById("mode")) { location.reload(); return; }
        set("user-mode", c.user_mode);
        set("target", c.target_c.toFixed(1) + "°C");
        set("mode", c.mode);
        set("in-mode", c.in_mode_seconds + "s");
        set("shirt", temp(c.shirt_c));
        set("radiator", temp(c.radiator_c));
        set("tec", c.direction + " " + c.power_pct.toFixed(0) + "%");
        set("fan", c.fan_speed.toFixed(0));
        set("radiator-pump", (c.radiator_pump ? "ON" : "OFF") + " (" + (c.radiator_pump_ok ? "ok" : "FAULT") + ")");
        set("shirt-pump", (c.shirt_pump ? "ON" : "OFF") + " (" + (c.shirt_pump_ok ? "ok" : "FAULT") + ")");
      } catch (e) {}
    };
  }
  connect();
})();
</script>
</body>
</html>
`

// indexView is the template data: the daemon snapshot with the climate
// part pre-formatted the same way as the JSON endpoints.
type indexView struct {
	status.Snapshot
	Climate *status.ClimateJSON
	Uptime  time.Duration
}

func renderHTML(w io.Writer, snap status.Snapshot) error {
	view := indexView{Snapshot: snap, Uptime: snap.Uptime()}
	if snap.Ready() {
		c := status.NewClimateJSON(snap.Climate)
		view.Climate = &c
	}
	return indexTmpl.Execute(w, view)
}
