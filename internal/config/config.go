// Package config loads the Config struct that every netbootd component is
// wired from: listen addresses, store DSN, broker TLS material, TFTP/DHCP
// bind parameters, and the on-disk layout rooted at the configdir passed on
// the command line.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ServerConfig controls the HTTP origin of the API/Message dispatcher.
type ServerConfig struct {
	Host string `json:"host" yaml:"host" env:"SERVER_HOST"`
	Port int    `json:"port" yaml:"port" env:"SERVER_PORT"`
}

// DatabaseConfig controls the Client Store's relational backend.
type DatabaseConfig struct {
	DSN             string `json:"dsn" yaml:"dsn" env:"DATABASE_DSN"`
	MaxOpenConns    int    `json:"max_open_conns" yaml:"max_open_conns" env:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int    `json:"max_idle_conns" yaml:"max_idle_conns" env:"DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifeSecs int    `json:"conn_max_lifetime_seconds" yaml:"conn_max_lifetime_seconds" env:"DATABASE_CONN_MAX_LIFETIME"`
	MigrateOnStart  bool   `json:"migrate_on_start" yaml:"migrate_on_start" env:"DATABASE_MIGRATE_ON_START"`
}

// LoggingConfig controls pkg/logger.
type LoggingConfig struct {
	Level      string `json:"level" yaml:"level" env:"LOG_LEVEL"`
	Format     string `json:"format" yaml:"format" env:"LOG_FORMAT"`
	Output     string `json:"output" yaml:"output" env:"LOG_OUTPUT"`
	FilePrefix string `json:"file_prefix" yaml:"file_prefix" env:"LOG_FILE_PREFIX"`
}

// BrokerConfig controls the TLS-secured, username/password authenticated
// pub/sub topic broker (§4.1, §6.3).
type BrokerConfig struct {
	Addr     string `json:"addr" yaml:"addr" env:"BROKER_ADDR"`
	Username string `json:"username" yaml:"username" env:"BROKER_USERNAME"`
	Password string `json:"password" yaml:"password" env:"BROKER_PASSWORD"`
	CertFile string `json:"cert_file" yaml:"cert_file" env:"BROKER_CERT_FILE"`
	KeyFile  string `json:"key_file" yaml:"key_file" env:"BROKER_KEY_FILE"`
	CAFile   string `json:"ca_file" yaml:"ca_file" env:"BROKER_CA_FILE"`
	Insecure bool   `json:"insecure_skip_verify" yaml:"insecure_skip_verify" env:"BROKER_INSECURE_SKIP_VERIFY"`
}

// TasksConfig controls the staging/execution worker pools of the task
// subsystem (§4.6, §5).
type TasksConfig struct {
	StagingWorkers   int    `json:"staging_workers" yaml:"staging_workers" env:"TASKS_STAGING_WORKERS"`
	ExecutionWorkers int    `json:"execution_workers" yaml:"execution_workers" env:"TASKS_EXECUTION_WORKERS"`
	QueueDepth       int    `json:"queue_depth" yaml:"queue_depth" env:"TASKS_QUEUE_DEPTH"`
	ScratchGCSpec    string `json:"scratch_gc_spec" yaml:"scratch_gc_spec" env:"TASKS_SCRATCH_GC_SPEC"`
	ScratchGCMaxAgeHours int `json:"scratch_gc_max_age_hours" yaml:"scratch_gc_max_age_hours" env:"TASKS_SCRATCH_GC_MAX_AGE_HOURS"`
}

// TFTPConfig controls the TFTP server (§4.5, §6.2).
type TFTPConfig struct {
	BindAddr      string `json:"bind_addr" yaml:"bind_addr" env:"TFTP_BIND_ADDR"`
	BlockSize     int    `json:"block_size" yaml:"block_size" env:"TFTP_BLOCK_SIZE"`
	TimeoutSecs   int    `json:"timeout_seconds" yaml:"timeout_seconds" env:"TFTP_TIMEOUT_SECONDS"`
	RetriesMax    int    `json:"retries_max" yaml:"retries_max" env:"TFTP_RETRIES_MAX"`
	MkimageBinary string `json:"mkimage_binary" yaml:"mkimage_binary" env:"TFTP_MKIMAGE_BINARY"`
}

// DHCPConfig controls the passive sniffer (§4.4, §6.1).
type DHCPConfig struct {
	Interface    string `json:"interface" yaml:"interface" env:"DHCP_INTERFACE"`
	ServerIP     string `json:"server_ip" yaml:"server_ip" env:"DHCP_SERVER_IP"`
	BootFilename string `json:"boot_filename" yaml:"boot_filename" env:"DHCP_BOOT_FILENAME"`
}

// LayoutConfig is the on-disk root layout (§6.5), all relative to the
// configdir passed via `-c` unless absolute.
type LayoutConfig struct {
	SettingsFile   string `json:"settings_file" yaml:"settings_file" env:"LAYOUT_SETTINGS_FILE"`
	TFTPRoot       string `json:"tftp_root" yaml:"tftp_root" env:"LAYOUT_TFTP_ROOT"`
	BootImagesRoot string `json:"boot_images_root" yaml:"boot_images_root" env:"LAYOUT_BOOT_IMAGES_ROOT"`
	IPXEBuildsRoot string `json:"ipxe_builds_root" yaml:"ipxe_builds_root" env:"LAYOUT_IPXE_BUILDS_ROOT"`
	WimbootRoot    string `json:"wimboot_builds_root" yaml:"wimboot_builds_root" env:"LAYOUT_WIMBOOT_ROOT"`
	ISORoot        string `json:"iso_root" yaml:"iso_root" env:"LAYOUT_ISO_ROOT"`
	Stage4Root     string `json:"stage4_root" yaml:"stage4_root" env:"LAYOUT_STAGE4_ROOT"`
	TaskScratchDir string `json:"task_scratch_root" yaml:"task_scratch_root" env:"LAYOUT_TASK_SCRATCH_ROOT"`
	UbootScriptsRoot string `json:"uboot_scripts_root" yaml:"uboot_scripts_root" env:"LAYOUT_UBOOT_SCRIPTS_ROOT"`
	Stage1FilesRoot  string `json:"stage1_files_root" yaml:"stage1_files_root" env:"LAYOUT_STAGE1_FILES_ROOT"`
	UnattendedRoot   string `json:"unattended_configs_root" yaml:"unattended_configs_root" env:"LAYOUT_UNATTENDED_ROOT"`
}

// Config is the top-level configuration for every netbootd binary.
type Config struct {
	Mode     string         `json:"mode" yaml:"mode" env:"NETBOOTD_MODE"`
	Server   ServerConfig   `json:"server" yaml:"server"`
	Database DatabaseConfig `json:"database" yaml:"database"`
	Logging  LoggingConfig  `json:"logging" yaml:"logging"`
	Broker   BrokerConfig   `json:"broker" yaml:"broker"`
	TFTP     TFTPConfig     `json:"tftp" yaml:"tftp"`
	DHCP     DHCPConfig     `json:"dhcp" yaml:"dhcp"`
	Layout   LayoutConfig   `json:"layout" yaml:"layout"`
	Tasks    TasksConfig    `json:"tasks" yaml:"tasks"`
}

// New returns a Config populated with the reference defaults, relative to
// /opt/NetbootStudio (the default configdir per §6.6).
func New() *Config {
	return &Config{
		Mode: "prod",
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifeSecs: 300,
			MigrateOnStart:  true,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stdout",
			FilePrefix: "netbootd",
		},
		Broker: BrokerConfig{
			Addr: "0.0.0.0:8883",
		},
		TFTP: TFTPConfig{
			BindAddr:      "0.0.0.0:69",
			BlockSize:     512,
			TimeoutSecs:   5,
			RetriesMax:    5,
			MkimageBinary: "mkimage",
		},
		DHCP: DHCPConfig{
			BootFilename: "/ipxe.bin",
		},
		Tasks: TasksConfig{
			StagingWorkers:       2,
			ExecutionWorkers:     4,
			QueueDepth:           64,
			ScratchGCSpec:        "@hourly",
			ScratchGCMaxAgeHours: 24,
		},
		Layout: LayoutConfig{
			SettingsFile:   "settings.json",
			TFTPRoot:       "tftpboot",
			BootImagesRoot: "boot_images",
			IPXEBuildsRoot: "ipxe_builds",
			WimbootRoot:    "wimboot_builds",
			ISORoot:        "iso",
			Stage4Root:     "stage4",
			TaskScratchDir: "task_scratch",
			UbootScriptsRoot: "uboot_scripts",
			Stage1FilesRoot:  "stage1_files",
			UnattendedRoot:   "unattended_configs",
		},
	}
}

// Load reads configdir/config.yaml (if present), applies a local .env, and
// overlays environment variables tagged with `env`. configdir defaults to
// /opt/NetbootStudio per §6.6; mode overrides LogLevel to "debug" when "dev".
func Load(configDir, mode string) (*Config, error) {
	_ = godotenv.Load(filepath.Join(configDir, ".env"))

	cfg := New()
	cfg.Mode = mode

	cfgFile := filepath.Join(configDir, "config.yaml")
	if err := loadFromFile(cfgFile, cfg); err != nil {
		return nil, fmt.Errorf("load %s: %w", cfgFile, err)
	}

	if err := envdecode.Decode(cfg); err != nil {
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, fmt.Errorf("decode env: %w", err)
		}
	}

	cfg.resolveLayout(configDir)

	if strings.EqualFold(mode, "dev") {
		cfg.Logging.Level = "debug"
		cfg.Logging.Format = "text"
	}

	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// resolveLayout rewrites every relative Layout path to be rooted at
// configDir, so components can use the paths directly.
func (c *Config) resolveLayout(configDir string) {
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(configDir, p)
	}
	c.Layout.SettingsFile = resolve(c.Layout.SettingsFile)
	c.Layout.TFTPRoot = resolve(c.Layout.TFTPRoot)
	c.Layout.BootImagesRoot = resolve(c.Layout.BootImagesRoot)
	c.Layout.IPXEBuildsRoot = resolve(c.Layout.IPXEBuildsRoot)
	c.Layout.WimbootRoot = resolve(c.Layout.WimbootRoot)
	c.Layout.ISORoot = resolve(c.Layout.ISORoot)
	c.Layout.Stage4Root = resolve(c.Layout.Stage4Root)
	c.Layout.TaskScratchDir = resolve(c.Layout.TaskScratchDir)
	c.Layout.UbootScriptsRoot = resolve(c.Layout.UbootScriptsRoot)
	c.Layout.Stage1FilesRoot = resolve(c.Layout.Stage1FilesRoot)
	c.Layout.UnattendedRoot = resolve(c.Layout.UnattendedRoot)
	if c.Broker.CertFile != "" {
		c.Broker.CertFile = resolve(c.Broker.CertFile)
	}
	if c.Broker.KeyFile != "" {
		c.Broker.KeyFile = resolve(c.Broker.KeyFile)
	}
	if c.Broker.CAFile != "" {
		c.Broker.CAFile = resolve(c.Broker.CAFile)
	}
}

// Preflight checks the conditions §6.6 requires before the process may
// serve traffic: the settings file's directory must exist, every layout
// directory is created if missing, and in prod mode the broker's TLS cert
// and key must be present. Returns a non-nil error naming the first failing
// check; callers
// exit(1) on error per §7's fatal-startup taxonomy.
func (c *Config) Preflight() error {
	info, err := os.Stat(filepath.Dir(c.Layout.SettingsFile))
	if err != nil {
		return fmt.Errorf("preflight: settings directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("preflight: %s is not a directory", filepath.Dir(c.Layout.SettingsFile))
	}
	for _, dir := range []string{c.Layout.TFTPRoot, c.Layout.BootImagesRoot, c.Layout.IPXEBuildsRoot, c.Layout.WimbootRoot, c.Layout.ISORoot, c.Layout.Stage4Root, c.Layout.TaskScratchDir, c.Layout.UbootScriptsRoot, c.Layout.Stage1FilesRoot, c.Layout.UnattendedRoot} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("preflight: create %s: %w", dir, err)
		}
	}
	if strings.EqualFold(c.Mode, "prod") {
		if c.Broker.CertFile == "" || c.Broker.KeyFile == "" {
			return fmt.Errorf("preflight: broker TLS cert/key required in prod mode")
		}
		if _, err := os.Stat(c.Broker.CertFile); err != nil {
			return fmt.Errorf("preflight: broker cert: %w", err)
		}
		if _, err := os.Stat(c.Broker.KeyFile); err != nil {
			return fmt.Errorf("preflight: broker key: %w", err)
		}
	}
	return nil
}
