package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"codeberg.org/mutker/bmsctl/internal/acquisition"
	"codeberg.org/mutker/bmsctl/internal/alert"
	"codeberg.org/mutker/bmsctl/internal/api"
	"codeberg.org/mutker/bmsctl/internal/calibration"
	"codeberg.org/mutker/bmsctl/internal/classify"
	"codeberg.org/mutker/bmsctl/internal/errors"
	"codeberg.org/mutker/bmsctl/internal/fanout"
	"codeberg.org/mutker/bmsctl/internal/history"
	"codeberg.org/mutker/bmsctl/internal/influx"
	"codeberg.org/mutker/bmsctl/internal/mqtt"
	"codeberg.org/mutker/bmsctl/internal/sensor/ads1115"
	"codeberg.org/mutker/bmsctl/internal/sensor/dht"
	"codeberg.org/mutker/bmsctl/internal/sensor/ina219"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	AppName   = "bmsctl"
	EnvPrefix = "BMSCTL"
	// EnvConfig names an explicit config file, like --config.
	EnvConfig = EnvPrefix + "_CONFIG"

	DefaultLogLevel    = LogLevelInfo
	DefaultMode        = ModeDashboard
	DefaultReadTimeout = 500 * time.Millisecond
)

type Config struct {
	LogLevel LogLevel `mapstructure:"log_level"`
	Mode     Mode     `mapstructure:"mode"`
	Simulate bool     `mapstructure:"simulate"`
	Console  bool     `mapstructure:"console"`
	PIDDir   string   `mapstructure:"pid_dir"`

	Acquisition Acquisition         `mapstructure:"acquisition"`
	Calibration Calibration         `mapstructure:"calibration"`
	Thresholds  classify.Thresholds `mapstructure:"thresholds"`
	Hardware    Hardware            `mapstructure:"hardware"`
	Storage     history.Config      `mapstructure:"storage"`
	Fanout      fanout.Config       `mapstructure:"fanout"`
	Alerts      Alerts              `mapstructure:"alerts"`
	MQTT        mqtt.Config         `mapstructure:"mqtt"`
	Influx      influx.Config       `mapstructure:"influx"`
	HTTP        api.Config          `mapstructure:"http"`

	// File is the config file that was read, empty when none was found.
	File string `mapstructure:"-"`
}

type Acquisition struct {
	Period      time.Duration `mapstructure:"period"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	StopGrace   time.Duration `mapstructure:"stop_grace"`
}

// Loop returns the loop settings of the acquisition section.
func (a Acquisition) Loop() acquisition.Config {
	return acquisition.Config{Period: a.Period, StopGrace: a.StopGrace}
}

type Calibration struct {
	ClampNegative bool                `mapstructure:"clamp_negative"`
	CurrentSource string              `mapstructure:"current_source"`
	Battery       calibration.Profile `mapstructure:"battery"`
	Current       calibration.Profile `mapstructure:"current"`
}

// Engine builds the calibration engine the section describes.
func (c Calibration) Engine() (calibration.Engine, error) {
	src, err := calibration.NewCurrentSource(c.CurrentSource, c.Current)
	if err != nil {
		return calibration.Engine{}, err
	}
	return calibration.NewEngine(c.Battery, src, c.ClampNegative)
}

// Hardware locates the devices on the Pi. The I2C bus is always /dev/i2c-1.
type Hardware struct {
	ADS1115Address int     `mapstructure:"ads1115_address"`
	INA219Address  int     `mapstructure:"ina219_address"`
	ShuntOhms      float64 `mapstructure:"shunt_ohms"`
	BatteryAIN     int     `mapstructure:"battery_ain"`
	CurrentAIN     int     `mapstructure:"current_ain"`
	DHTDevice      string  `mapstructure:"dht_device"`
}

type Alerts struct {
	Enabled bool              `mapstructure:"enabled"`
	Email   alert.EmailConfig `mapstructure:"email"`
	MQTT    AlertMQTT         `mapstructure:"mqtt"`
}

type AlertMQTT struct {
	Enabled bool `mapstructure:"enabled"`
}

// Load reads .env, the TOML config file, BMSCTL_* environment variables and
// args, in increasing order of precedence. args excludes the program name.
func Load(args []string) (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	fs := newFlagSet()
	if err := fs.Parse(args); err != nil {
		return nil, errors.New().Wrap(errors.ErrBindFlags, err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := bindFlags(v, fs); err != nil {
		return nil, err
	}

	file, err := readConfigFile(v, fs)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.New().Wrap(errors.ErrReadConfig, err)
	}
	cfg.File = file

	// --debug and --verbose override log_level.
	if debug, _ := fs.GetBool("debug"); debug {
		cfg.LogLevel = LogLevelDebug
	} else if verbose, _ := fs.GetBool("verbose"); verbose && !fs.Changed("log-level") {
		cfg.LogLevel = LogLevelInfo
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet(AppName, pflag.ContinueOnError)
	fs.String("config", "", "Path to the TOML config file")
	fs.String("mode", string(DefaultMode), "Run mode: dashboard, interactive or alert-only")
	fs.Bool("simulate", false, "Use simulated sensor channels instead of hardware")
	fs.Bool("console", false, "Start the interactive debug console")
	fs.String("log-level", string(DefaultLogLevel), "Log level: debug, info, warning or error")
	fs.Bool("debug", false, "Enable debug logging")
	fs.Bool("verbose", false, "Enable verbose logging")
	fs.String("pid-dir", os.TempDir(), "Directory of the PID file")
	fs.String("listen", api.DefaultConfig().Listen, "HTTP listen address")
	fs.Duration("period", acquisition.DefaultPeriod, "Acquisition period")
	fs.String("db", history.DefaultConfig().Path, "SQLite database path")
	return fs
}

var flagKeys = map[string]string{
	"mode":      "mode",
	"simulate":  "simulate",
	"console":   "console",
	"log-level": "log_level",
	"pid-dir":   "pid_dir",
	"listen":    "http.listen",
	"period":    "acquisition.period",
	"db":        "storage.path",
}

func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for flag, key := range flagKeys {
		if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			return errors.New().Wrap(errors.ErrBindFlags, err)
		}
	}
	return nil
}

// readConfigFile prefers --config, then BMSCTL_CONFIG, then the search path.
// Only an explicitly named file must exist.
func readConfigFile(v *viper.Viper, fs *pflag.FlagSet) (string, error) {
	v.SetConfigType("toml")

	explicit, _ := fs.GetString("config")
	if explicit == "" {
		explicit = os.Getenv(EnvConfig)
	}

	if explicit != "" {
		v.SetConfigFile(explicit)
		if err := v.ReadInConfig(); err != nil {
			return "", errors.New().Wrap(errors.ErrReadConfig, err)
		}
		return v.ConfigFileUsed(), nil
	}

	v.SetConfigName(AppName)
	v.AddConfigPath(filepath.Join("/etc", AppName))
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".config", AppName))
	}
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return "", nil
		}
		return "", errors.New().Wrap(errors.ErrReadConfig, err)
	}
	return v.ConfigFileUsed(), nil
}

// loadDotEnv exports secrets from ./.env. Variables already set win.
func loadDotEnv() error {
	if _, err := os.Stat(".env"); err != nil {
		return nil
	}
	if err := godotenv.Load(); err != nil {
		return errors.New().Wrap(errors.ErrReadConfig, err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", string(DefaultLogLevel))
	v.SetDefault("mode", string(DefaultMode))
	v.SetDefault("simulate", false)
	v.SetDefault("console", false)
	v.SetDefault("pid_dir", os.TempDir())

	v.SetDefault("acquisition.period", acquisition.DefaultPeriod)
	v.SetDefault("acquisition.read_timeout", DefaultReadTimeout)
	v.SetDefault("acquisition.stop_grace", acquisition.DefaultStopGrace)

	v.SetDefault("calibration.clamp_negative", true)
	v.SetDefault("calibration.current_source", "native")
	setProfile(v, "calibration.battery", calibration.DefaultBatteryProfile())
	setProfile(v, "calibration.current", calibration.DefaultCurrentProfile())

	th := classify.DefaultThresholds()
	v.SetDefault("thresholds.temp_high", th.TempHigh)
	v.SetDefault("thresholds.voltage_low", th.VoltageLow)
	v.SetDefault("thresholds.voltage_high", th.VoltageHigh)

	v.SetDefault("hardware.ads1115_address", ads1115.DefaultAddress)
	v.SetDefault("hardware.ina219_address", ina219.DefaultAddress)
	v.SetDefault("hardware.shunt_ohms", ina219.DefaultShuntOhms)
	v.SetDefault("hardware.battery_ain", 0)
	v.SetDefault("hardware.current_ain", 1)
	v.SetDefault("hardware.dht_device", dht.DefaultDevice)

	st := history.DefaultConfig()
	v.SetDefault("storage.enabled", st.Enabled)
	v.SetDefault("storage.path", st.Path)
	v.SetDefault("storage.backup_dir", st.BackupDir)
	v.SetDefault("storage.backup_on_migrate", st.BackupOnMigrate)

	fo := fanout.DefaultConfig()
	v.SetDefault("fanout.subscriber_buffer", fo.SubscriberBuffer)
	v.SetDefault("fanout.delivery_timeout", fo.DeliveryTimeout)
	v.SetDefault("fanout.storage_timeout", fo.StorageTimeout)
	v.SetDefault("fanout.storage_queue", fo.StorageQueue)
	v.SetDefault("fanout.alert_queue", fo.AlertQueue)
	v.SetDefault("fanout.alert_timeout", fo.AlertTimeout)

	em := alert.DefaultEmailConfig()
	v.SetDefault("alerts.enabled", true)
	v.SetDefault("alerts.email.enabled", em.Enabled)
	v.SetDefault("alerts.email.host", em.Host)
	v.SetDefault("alerts.email.port", em.Port)
	v.SetDefault("alerts.email.username", "")
	v.SetDefault("alerts.email.password", "")
	v.SetDefault("alerts.email.from", "")
	v.SetDefault("alerts.email.to", []string{})
	v.SetDefault("alerts.mqtt.enabled", false)

	mq := mqtt.DefaultConfig()
	v.SetDefault("mqtt.enabled", mq.Enabled)
	v.SetDefault("mqtt.broker", mq.Broker)
	v.SetDefault("mqtt.client_id", mq.ClientID)
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.topic_prefix", mq.TopicPrefix)
	v.SetDefault("mqtt.qos", mq.QoS)
	v.SetDefault("mqtt.publish_timeout", mq.PublishTimeout)

	in := influx.DefaultConfig()
	v.SetDefault("influx.enabled", in.Enabled)
	v.SetDefault("influx.url", in.URL)
	v.SetDefault("influx.token", "")
	v.SetDefault("influx.org", in.Org)
	v.SetDefault("influx.bucket", in.Bucket)
	v.SetDefault("influx.measurement", in.Measurement)
	v.SetDefault("influx.device", in.Device)
	v.SetDefault("influx.batch_size", in.BatchSize)
	v.SetDefault("influx.flush_interval", in.FlushInterval)

	hp := api.DefaultConfig()
	v.SetDefault("http.enabled", hp.Enabled)
	v.SetDefault("http.listen", hp.Listen)
	v.SetDefault("http.recent_limit", hp.RecentLimit)
	v.SetDefault("http.ping_interval", hp.PingInterval)
	v.SetDefault("http.write_timeout", hp.WriteTimeout)
}

func setProfile(v *viper.Viper, prefix string, p calibration.Profile) {
	v.SetDefault(prefix+".full_scale_voltage", p.FullScaleVoltage)
	v.SetDefault(prefix+".max_count", p.MaxCount)
	v.SetDefault(prefix+".divider_ratio", p.DividerRatio)
	v.SetDefault(prefix+".output_multiplier", p.OutputMultiplier)
	v.SetDefault(prefix+".zero_current_voltage", p.ZeroCurrentVoltage)
	v.SetDefault(prefix+".sensitivity", p.SensitivityVoltsPerAmp)
	v.SetDefault(prefix+".milli_per_unit", p.MilliPerUnit)
}
