package status

import (
	"encoding/json"
	"math"
	"time"

	"github.com/tecsuit/climate-core/internal/control"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string       `json:"event,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	Ready         bool         `json:"ready"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	MQTT          MQTTStatus   `json:"mqtt"`
	Climate       *ClimateJSON `json:"climate,omitempty"`
	Totals        TotalsJSON   `json:"totals"`
	Network       *NetworkJSON `json:"network,omitempty"`
	Config        ConfigJSON   `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// ClimateJSON is the JSON representation of one controller tick. Unreadable
// temperatures are encoded as null.
type ClimateJSON struct {
	Timestamp      string   `json:"timestamp"`
	UserMode       string   `json:"user_mode"`
	TargetC        float64  `json:"target_c"`
	Mode           string   `json:"mode"`
	InModeSeconds  int64    `json:"in_mode_seconds"`
	ShirtC         *float64 `json:"shirt_c"`
	RadiatorC      *float64 `json:"radiator_c"`
	Direction      string   `json:"direction"`
	PowerPercent   float64  `json:"power_pct"`
	FanSpeed       float64  `json:"fan_speed"`
	RadiatorPump   bool     `json:"radiator_pump"`
	ShirtPump      bool     `json:"shirt_pump"`
	RadiatorFlowML float64  `json:"radiator_flow_ml"`
	ShirtFlowML    float64  `json:"shirt_flow_ml"`
	RadiatorTempOK bool     `json:"radiator_temp_ok"`
	ShirtTempOK    bool     `json:"shirt_temp_ok"`
	RadiatorPumpOK bool     `json:"radiator_pump_ok"`
	ShirtPumpOK    bool     `json:"shirt_pump_ok"`
}

// TotalsJSON is the JSON representation of the loop totals.
type TotalsJSON struct {
	RadiatorML  float64 `json:"radiator_ml"`
	ShirtML     float64 `json:"shirt_ml"`
	Transitions int     `json:"transitions"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	TickMs      int64  `json:"tick_ms"`
	HeartbeatMs int64  `json:"heartbeat_ms"`
	Broker      string `json:"broker"`
	HTTPAddr    string `json:"http_addr"`
	DBPath      string `json:"db_path,omitempty"`
	TECs        int    `json:"tecs"`
}

// NewClimateJSON converts a controller snapshot for output.
func NewClimateJSON(c control.Snapshot) ClimateJSON {
	return ClimateJSON{
		Timestamp:      c.Time.UTC().Format(time.RFC3339),
		UserMode:       c.Request.Mode.String(),
		TargetC:        c.Request.TargetC,
		Mode:           string(c.Mode),
		InModeSeconds:  int64(c.InMode().Truncate(time.Second).Seconds()),
		ShirtC:         finite(c.Sample.ShirtC),
		RadiatorC:      finite(c.Sample.RadiatorC),
		Direction:      string(c.Command.Direction),
		PowerPercent:   c.Command.PowerPercent,
		FanSpeed:       c.Command.FanSpeed,
		RadiatorPump:   c.Command.RadiatorPump,
		ShirtPump:      c.Command.ShirtPump,
		RadiatorFlowML: c.Sample.RadiatorFlowML,
		ShirtFlowML:    c.Sample.ShirtFlowML,
		RadiatorTempOK: c.RadiatorTempOK,
		ShirtTempOK:    c.ShirtTempOK,
		RadiatorPumpOK: c.RadiatorPumpOK,
		ShirtPumpOK:    c.ShirtPumpOK,
	}
}

// finite returns nil for values JSON cannot carry.
func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func buildInner(snap Snapshot) StatusInner {
	inner := StatusInner{
		Ready:         snap.Ready(),
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Totals: TotalsJSON{
			RadiatorML:  snap.Totals.RadiatorML,
			ShirtML:     snap.Totals.ShirtML,
			Transitions: snap.Totals.Transitions,
		},
		Config: ConfigJSON{
			TickMs:      snap.Config.TickMs,
			HeartbeatMs: snap.Config.HeartbeatMs,
			Broker:      snap.Config.Broker,
			HTTPAddr:    snap.Config.HTTPAddr,
			DBPath:      snap.Config.DBPath,
			TECs:        snap.Config.TECs,
		},
	}
	if snap.Ready() {
		c := NewClimateJSON(snap.Climate)
		inner.Climate = &c
	}
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}

// FormatClimate returns the JSON for a single controller snapshot, as
// streamed to live displays.
func FormatClimate(c control.Snapshot) []byte {
	data, _ := json.Marshal(NewClimateJSON(c))
	return data
}
