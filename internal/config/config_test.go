package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"

	"github.com/tecsuit/climate-core/internal/control"
	"github.com/tecsuit/climate-core/internal/hw"
	"github.com/tecsuit/climate-core/internal/thermistor"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Tick != time.Second {
		t.Errorf("expected 1s tick, got %v", cfg.Tick)
	}
	if cfg.Heartbeat != 15*time.Minute {
		t.Errorf("expected 15m heartbeat, got %v", cfg.Heartbeat)
	}
	if cfg.Limits != control.DefaultLimits() {
		t.Errorf("expected default limits, got %+v", cfg.Limits)
	}
	if cfg.Thermistor != thermistor.DefaultParams() {
		t.Errorf("expected default thermistor, got %+v", cfg.Thermistor)
	}
	if cfg.FlowIncrementML != 1.045 {
		t.Errorf("expected 1.045 ml/pulse, got %v", cfg.FlowIncrementML)
	}
	if cfg.FanMinActive != 0.5 {
		t.Errorf("expected fan min-active 0.5, got %v", cfg.FanMinActive)
	}
	if len(cfg.Pins.TECs) != len(hw.DefaultTECPins) {
		t.Errorf("expected %d TECs, got %d", len(hw.DefaultTECPins), len(cfg.Pins.TECs))
	}
	if cfg.Pins.RadiatorFlow != hw.DefaultPinRadiatorFlow {
		t.Errorf("expected radiator flow pin %d, got %d", hw.DefaultPinRadiatorFlow, cfg.Pins.RadiatorFlow)
	}
	if cfg.Pins.PWMFrequency != hw.DefaultPWMFrequencyHz {
		t.Errorf("expected pwm frequency %d, got %d", hw.DefaultPWMFrequencyHz, cfg.Pins.PWMFrequency)
	}
	if cfg.PrintState {
		t.Error("print-state should default to false")
	}
}

func TestLoadFlags(t *testing.T) {
	cfg, err := Load([]string{
		"--tick", "250ms",
		"--broker", "tcp://10.0.0.2:1883",
		"--pin-shirt-pump", "19",
		"--tec-count", "2",
		"--print-state",
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Tick != 250*time.Millisecond {
		t.Errorf("expected 250ms, got %v", cfg.Tick)
	}
	if cfg.Broker != "tcp://10.0.0.2:1883" {
		t.Errorf("unexpected broker %q", cfg.Broker)
	}
	if cfg.Pins.ShirtPump != 19 {
		t.Errorf("expected shirt pump pin 19, got %d", cfg.Pins.ShirtPump)
	}
	if len(cfg.Pins.TECs) != 2 || cfg.Pins.TECs[1] != hw.DefaultTECPins[1] {
		t.Errorf("expected the first two TEC bridges, got %+v", cfg.Pins.TECs)
	}
	if !cfg.PrintState {
		t.Error("expected print-state")
	}
}

func TestLoadFileEnvAndFlagPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "climate.yaml")
	yaml := `
broker: tcp://file:1883
http: ":9000"
log-level: debug
limits:
  min-dwell: 10s
  shirt-max: 38
fan:
  min-active: 0.4
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CLIMATE_HTTP", ":9100")
	t.Setenv("CLIMATE_LIMITS_PUMP_WINDOW", "15s")

	cfg, err := Load([]string{"--config", path, "--log-level", "warn"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Broker != "tcp://file:1883" {
		t.Errorf("file should set broker, got %q", cfg.Broker)
	}
	if cfg.HTTPAddr != ":9100" {
		t.Errorf("env should override file, got %q", cfg.HTTPAddr)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("flag should override file, got %q", cfg.LogLevel)
	}
	if cfg.Limits.MinDwell != 10*time.Second {
		t.Errorf("expected 10s dwell from file, got %v", cfg.Limits.MinDwell)
	}
	if cfg.Limits.ShirtMaxC != 38 {
		t.Errorf("expected shirt max 38, got %v", cfg.Limits.ShirtMaxC)
	}
	if cfg.Limits.PumpWindow != 15*time.Second {
		t.Errorf("expected 15s pump window from env, got %v", cfg.Limits.PumpWindow)
	}
	if cfg.FanMinActive != 0.4 {
		t.Errorf("expected fan min-active 0.4, got %v", cfg.FanMinActive)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load([]string{"--config", filepath.Join(t.TempDir(), "absent.yaml")})
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoadHelp(t *testing.T) {
	_, err := Load([]string{"--help"})
	if !errors.Is(err, pflag.ErrHelp) {
		t.Errorf("expected ErrHelp, got %v", err)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"zero tick", []string{"--tick", "0s"}},
		{"no tecs", []string{"--tec-count", "0"}},
		{"negative heartbeat", []string{"--heartbeat=-1s"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(tt.args); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestValidateCollectsAll(t *testing.T) {
	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg.FanMinActive = 2
	cfg.FlowIncrementML = 0
	cfg.Limits.RampdownC = 0
	cfg.Pins.PWMFrequency = 0

	err = cfg.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"fan min-active", "ml-per-pulse", "rampdown", "pwm frequency"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected %q in %q", want, err.Error())
		}
	}
}
