// Package config loads the daemon configuration. Sources are layered:
// built-in defaults, then an optional YAML file (--config), then CLIMATE_*
// environment variables, then command-line flags.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/tecsuit/climate-core/internal/control"
	"github.com/tecsuit/climate-core/internal/flow"
	"github.com/tecsuit/climate-core/internal/hw"
	"github.com/tecsuit/climate-core/internal/thermistor"
)

// EnvPrefix prefixes every environment override, e.g. CLIMATE_BROKER or
// CLIMATE_LIMITS_MIN_DWELL.
const EnvPrefix = "CLIMATE"

// Pins is the board wiring.
type Pins struct {
	GPIOChip     string
	RadiatorFlow int
	ShirtFlow    int
	RadiatorPump int
	ShirtPump    int
	FanPWM       int
	ADCRadiator  int
	ADCShirt     int
	TECs         []hw.TECPins
	PWMFrequency int // shared by every hardware PWM channel
}

// Config is the fully resolved configuration.
type Config struct {
	Tick       time.Duration
	Heartbeat  time.Duration
	LogLevel   string
	PrintState bool

	Broker   string
	ClientID string
	HTTPAddr string
	DBPath   string

	Pins            Pins
	Thermistor      thermistor.Params
	FlowIncrementML float64
	FanMinActive    float64
	Limits          control.Limits
}

// Load resolves the configuration from args (without the program name).
// It returns pflag.ErrHelp when -h or --help is given.
func Load(args []string) (Config, error) {
	fs := pflag.NewFlagSet("climate-core", pflag.ContinueOnError)
	registerFlags(fs)
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	v := viper.New()
	setDefaults(v)
	if err := v.BindPFlags(fs); err != nil {
		return Config{}, fmt.Errorf("bind flags: %w", err)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := fromViper(v)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func registerFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "YAML configuration file")
	fs.Duration("tick", time.Second, "Control period")
	fs.Duration("heartbeat", 15*time.Minute, "Heartbeat interval (0 to disable)")
	fs.String("log-level", "info", "Log level (debug, info, warn, error)")
	fs.Bool("print-state", false, "Print current probe readings and exit")
	fs.String("broker", "tcp://127.0.0.1:1883", "MQTT broker address (empty to disable)")
	fs.String("client-id", "climate-core", "MQTT client id")
	fs.String("http", ":8080", "HTTP status address (empty to disable)")
	fs.String("db", "climate.db", "SQLite event log path (empty to disable)")
	fs.String("gpio-chip", hw.DefaultGPIOChip, "GPIO character device")
	fs.Int("pin-radiator-flow", hw.DefaultPinRadiatorFlow, "BCM pin of the radiator flow meter")
	fs.Int("pin-shirt-flow", hw.DefaultPinShirtFlow, "BCM pin of the shirt flow meter")
	fs.Int("pin-radiator-pump", hw.DefaultPinRadiatorPump, "BCM pin of the radiator pump relay")
	fs.Int("pin-shirt-pump", hw.DefaultPinShirtPump, "BCM pin of the shirt pump relay")
	fs.Int("pin-fan", hw.DefaultPinFanPWM, "BCM pin of the radiator fan PWM")
	fs.Int("adc-radiator", hw.DefaultChannelRadiator, "ADC channel of the radiator thermistor")
	fs.Int("adc-shirt", hw.DefaultChannelShirt, "ADC channel of the shirt thermistor")
	fs.Int("tec-count", len(hw.DefaultTECPins), "Number of TEC bridges fitted")
}

// setDefaults covers the keys that are only settable from the file or the
// environment.
func setDefaults(v *viper.Viper) {
	p := thermistor.DefaultParams()
	v.SetDefault("thermistor.vcc", p.VCC)
	v.SetDefault("thermistor.r1", p.R1)
	v.SetDefault("thermistor.a", p.A)
	v.SetDefault("thermistor.b", p.B)
	v.SetDefault("thermistor.c", p.C)

	v.SetDefault("flow.ml-per-pulse", flow.DefaultIncrementML)
	v.SetDefault("fan.min-active", 0.5)
	v.SetDefault("pwm.frequency-hz", hw.DefaultPWMFrequencyHz)

	l := control.DefaultLimits()
	v.SetDefault("limits.min-dwell", l.MinDwell)
	v.SetDefault("limits.pre-time", l.PreTime)
	v.SetDefault("limits.small-cycle", l.SmallCycle)
	v.SetDefault("limits.pump-window", l.PumpWindow)
	v.SetDefault("limits.rampdown", l.RampdownC)
	v.SetDefault("limits.falling-behind", l.FallingBehindC)
	v.SetDefault("limits.radiator-min", l.RadiatorMinC)
	v.SetDefault("limits.radiator-max", l.RadiatorMaxC)
	v.SetDefault("limits.shirt-min", l.ShirtMinC)
	v.SetDefault("limits.shirt-max", l.ShirtMaxC)
	v.SetDefault("limits.shirt-precool", l.ShirtPrecoolC)
	v.SetDefault("limits.min-flow", l.MinFlowML)
	v.SetDefault("limits.min-user", l.MinUserC)
	v.SetDefault("limits.max-user", l.MaxUserC)
	v.SetDefault("limits.user-step", l.UserStepC)
	v.SetDefault("limits.default-target", l.DefaultTargetC)
}

func fromViper(v *viper.Viper) Config {
	tecs := v.GetInt("tec-count")
	if tecs < 0 {
		tecs = 0
	}
	if tecs > len(hw.DefaultTECPins) {
		tecs = len(hw.DefaultTECPins)
	}
	tecPins := make([]hw.TECPins, tecs)
	copy(tecPins, hw.DefaultTECPins)

	return Config{
		Tick:       v.GetDuration("tick"),
		Heartbeat:  v.GetDuration("heartbeat"),
		LogLevel:   v.GetString("log-level"),
		PrintState: v.GetBool("print-state"),
		Broker:     v.GetString("broker"),
		ClientID:   v.GetString("client-id"),
		HTTPAddr:   v.GetString("http"),
		DBPath:     v.GetString("db"),
		Pins: Pins{
			GPIOChip:     v.GetString("gpio-chip"),
			RadiatorFlow: v.GetInt("pin-radiator-flow"),
			ShirtFlow:    v.GetInt("pin-shirt-flow"),
			RadiatorPump: v.GetInt("pin-radiator-pump"),
			ShirtPump:    v.GetInt("pin-shirt-pump"),
			FanPWM:       v.GetInt("pin-fan"),
			ADCRadiator:  v.GetInt("adc-radiator"),
			ADCShirt:     v.GetInt("adc-shirt"),
			TECs:         tecPins,
			PWMFrequency: v.GetInt("pwm.frequency-hz"),
		},
		Thermistor: thermistor.Params{
			VCC: v.GetFloat64("thermistor.vcc"),
			R1:  v.GetFloat64("thermistor.r1"),
			A:   v.GetFloat64("thermistor.a"),
			B:   v.GetFloat64("thermistor.b"),
			C:   v.GetFloat64("thermistor.c"),
		},
		FlowIncrementML: v.GetFloat64("flow.ml-per-pulse"),
		FanMinActive:    v.GetFloat64("fan.min-active"),
		Limits: control.Limits{
			MinDwell:       v.GetDuration("limits.min-dwell"),
			PreTime:        v.GetDuration("limits.pre-time"),
			SmallCycle:     v.GetDuration("limits.small-cycle"),
			PumpWindow:     v.GetDuration("limits.pump-window"),
			RampdownC:      v.GetFloat64("limits.rampdown"),
			FallingBehindC: v.GetFloat64("limits.falling-behind"),
			RadiatorMinC:   v.GetFloat64("limits.radiator-min"),
			RadiatorMaxC:   v.GetFloat64("limits.radiator-max"),
			ShirtMinC:      v.GetFloat64("limits.shirt-min"),
			ShirtMaxC:      v.GetFloat64("limits.shirt-max"),
			ShirtPrecoolC:  v.GetFloat64("limits.shirt-precool"),
			MinFlowML:      v.GetFloat64("limits.min-flow"),
			MinUserC:       v.GetFloat64("limits.min-user"),
			MaxUserC:       v.GetFloat64("limits.max-user"),
			UserStepC:      v.GetFloat64("limits.user-step"),
			DefaultTargetC: v.GetFloat64("limits.default-target"),
		},
	}
}

// Validate reports every inconsistent setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.Tick <= 0 {
		errs = append(errs, fmt.Errorf("tick must be positive, got %v", c.Tick))
	}
	if c.Heartbeat < 0 {
		errs = append(errs, fmt.Errorf("heartbeat must not be negative, got %v", c.Heartbeat))
	}
	if len(c.Pins.TECs) == 0 {
		errs = append(errs, errors.New("at least one TEC bridge is required"))
	}
	if c.Pins.PWMFrequency <= 0 {
		errs = append(errs, fmt.Errorf("pwm frequency must be positive, got %d", c.Pins.PWMFrequency))
	}
	if c.Thermistor.VCC <= 0 || c.Thermistor.R1 <= 0 {
		errs = append(errs, fmt.Errorf("thermistor divider needs positive vcc and r1, got %v V, %v ohm", c.Thermistor.VCC, c.Thermistor.R1))
	}
	if !(c.FlowIncrementML > 0) {
		errs = append(errs, fmt.Errorf("flow ml-per-pulse must be positive, got %v", c.FlowIncrementML))
	}
	if c.FanMinActive < 0 || c.FanMinActive > 1 {
		errs = append(errs, fmt.Errorf("fan min-active must be in [0, 1], got %v", c.FanMinActive))
	}
	if err := c.Limits.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("limits: %w", err))
	}
	return errors.Join(errs...)
}
