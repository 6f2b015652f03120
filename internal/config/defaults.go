package config

const (
	defaultConfigPath       = "~/.config/whisperd/config.toml"
	defaultStateDir         = "~/.local/share/whisperd"
	defaultLogDir           = "~/.local/share/whisperd/logs"
	defaultLockName         = "whisperd.lock"
	defaultAuditName        = "audit.db"
	defaultIdleTimeout      = 300
	defaultCheckInterval    = 10
	defaultModel            = "base"
	defaultDevice           = DeviceAuto
	defaultEngineCommand    = "uvx"
	defaultVADMethod        = "silero"
	defaultEngineTimeout    = 1800
	defaultRequestTimeout   = 30
	defaultMaxDownloadSize  = "512MB"
	defaultMaxRedirects     = 5
	defaultUserAgent        = "whisperd/dev"
	defaultLogFormat        = "auto"
	defaultLogLevel         = "info"
	defaultLogRetentionDays = 14
)

// Device selectors accepted by engine.device.
const (
	DeviceAuto = "auto"
	DeviceCPU  = "cpu"
	DeviceCUDA = "cuda"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Daemon: Daemon{
			IdleTimeout:   defaultIdleTimeout,
			CheckInterval: defaultCheckInterval,
			StateDir:      defaultStateDir,
		},
		Engine: Engine{
			Model:     defaultModel,
			Device:    defaultDevice,
			Command:   defaultEngineCommand,
			VADMethod: defaultVADMethod,
			Timeout:   defaultEngineTimeout,
		},
		Fetch: Fetch{
			RequestTimeout:  defaultRequestTimeout,
			MaxDownloadSize: defaultMaxDownloadSize,
			MaxRedirects:    defaultMaxRedirects,
			UserAgent:       defaultUserAgent,
		},
		Audit: Audit{
			Enabled: true,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			Dir:           defaultLogDir,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
