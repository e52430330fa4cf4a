package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Environment represents the application environment.
type Environment string

const (
	EnvDev  Environment = "dev"
	EnvProd Environment = "prod"
)

const (
	DefaultToolPath     = "/opt/zextras/bin/zmcertmgr"
	DefaultShimCommand  = "/opt/zextras/libexec/zmrcd"
	DefaultSSHUser      = "zextras"
	DefaultSSHPort      = 22
	DefaultKVMount      = "secret"
	DefaultVaultPrefix  = "certd"
	DefaultDirectory    = "memory"
	defaultPort         = "52100"
	defaultUploadTTL    = 15 * time.Minute
	defaultSessionTTL   = 8 * time.Hour
	defaultUploadBytes  = int64(1 << 20)
	defaultSSHTimeout   = 5 * time.Minute
	defaultExpiryWindow = 30
)

// Config holds application configuration.
type Config struct {
	Env         Environment
	Port        string
	LogLevel    string
	LogFormat   string
	LogOutput   string
	LogFilePath string
	TrustProxy  bool
	CORS        CORSConfig
	CertMgr     CertMgrConfig
	Directory   DirectoryConfig
	SSH         SSHConfig
	Vault       VaultConfig
	Uploads     UploadConfig
	Auth        AuthConfig
	// ExpiryWarningDays is the window of the domain certificate expiry metric.
	ExpiryWarningDays int
}

// CORSConfig holds CORS-specific configuration.
type CORSConfig struct {
	AllowedOrigins   []string
	AllowCredentials bool
}

// CertMgrConfig locates the certificate tool and its working area.
type CertMgrConfig struct {
	ToolPath    string
	TempDir     string
	LocalServer string
}

type DirectoryConfig struct {
	Backend  string
	SeedFile string
	LDAP     LDAPConfig
}

type LDAPConfig struct {
	URL          string
	BindDN       string
	BindPassword string
	BaseDN       string
}

// SSHConfig holds defaults for the remote manager. Per-server directory
// attributes override User, Port and Command.
type SSHConfig struct {
	User                  string
	Port                  int
	PrivateKeyPath        string
	Command               string
	KnownHostsPath        string
	InsecureIgnoreHostKey bool
	CommandTimeout        time.Duration
}

// VaultConfig points at a KV v2 mount holding SSL private keys.
type VaultConfig struct {
	Enabled     bool
	Addr        string
	Token       string
	KVMount     string
	PathPrefix  string
	TLSInsecure bool
}

type UploadConfig struct {
	TTL      time.Duration
	MaxBytes int64
}

type AuthConfig struct {
	AccountsFile string
	SessionTTL   time.Duration
}

type SettingsFile struct {
	App       AppSettings       `json:"app"`
	CORS      CORSSettings      `json:"cors"`
	CertMgr   CertMgrSettings   `json:"certmgr"`
	Directory DirectorySettings `json:"directory"`
	SSH       SSHSettings       `json:"ssh"`
	Vault     VaultSettings     `json:"vault"`
	Uploads   UploadSettings    `json:"uploads"`
	Auth      AuthSettings      `json:"auth"`
	Metrics   MetricsSettings   `json:"metrics"`
}

type AppSettings struct {
	Env        string          `json:"env"`
	Logging    LoggingSettings `json:"logging"`
	Port       int             `json:"port"`
	TrustProxy bool            `json:"trust_proxy"`
}

type LoggingSettings struct {
	Level    string `json:"level"`
	Format   string `json:"format"`
	Output   string `json:"output"`
	FilePath string `json:"file_path"`
}

type CORSSettings struct {
	AllowedOrigins   []string `json:"allowed_origins"`
	AllowCredentials bool     `json:"allow_credentials"`
}

type CertMgrSettings struct {
	ToolPath    string `json:"tool_path"`
	TempDir     string `json:"temp_dir"`
	LocalServer string `json:"local_server"`
}

type DirectorySettings struct {
	Backend  string       `json:"backend"`
	SeedFile string       `json:"seed_file"`
	LDAP     LDAPSettings `json:"ldap"`
}

type LDAPSettings struct {
	URL          string `json:"url"`
	BindDN       string `json:"bind_dn"`
	BindPassword string `json:"bind_password"`
	BaseDN       string `json:"base_dn"`
}

type SSHSettings struct {
	User                  string `json:"user"`
	Port                  int    `json:"port"`
	PrivateKeyPath        string `json:"private_key_path"`
	Command               string `json:"command"`
	KnownHostsPath        string `json:"known_hosts_path"`
	InsecureIgnoreHostKey bool   `json:"insecure_ignore_host_key"`
	CommandTimeoutSeconds int    `json:"command_timeout_seconds"`
}

type VaultSettings struct {
	Enabled     bool   `json:"enabled"`
	Address     string `json:"address"`
	Token       string `json:"token"`
	KVMount     string `json:"kv_mount"`
	PathPrefix  string `json:"path_prefix"`
	TLSInsecure bool   `json:"tls_insecure"`
}

type UploadSettings struct {
	TTLSeconds int   `json:"ttl_seconds"`
	MaxBytes   int64 `json:"max_bytes"`
}

type AuthSettings struct {
	AccountsFile      string `json:"accounts_file"`
	SessionTTLSeconds int    `json:"session_ttl_seconds"`
}

type MetricsSettings struct {
	ExpiryWarningDays int `json:"expiry_warning_days"`
}

// Load reads configuration from a settings file when one is found, else from
// environment variables.
func Load() (Config, error) {
	_ = godotenv.Load()
	settings, settingsPath, settingsErr := loadSettingsFile()
	if settingsErr == nil && settings != nil {
		cfg := buildConfigFromSettings(*settings)
		if err := cfg.validate(); err != nil {
			return Config{}, fmt.Errorf("invalid settings file %s: %w", settingsPath, err)
		}
		applyLoggingEnv(cfg)
		return cfg, nil
	}
	if settingsErr != nil && !os.IsNotExist(settingsErr) {
		return Config{}, fmt.Errorf("invalid settings file %s: %w", settingsPath, settingsErr)
	}

	env := parseEnv(getEnv("APP_ENV", "dev"))
	cfg := Config{
		Env:         env,
		Port:        getEnv("PORT", defaultPort),
		LogLevel:    getEnv("LOG_LEVEL", defaultLogLevel(env)),
		LogFormat:   getEnv("LOG_FORMAT", defaultLogFormat(env)),
		LogOutput:   getEnv("LOG_OUTPUT", "stdout"),
		LogFilePath: getEnv("LOG_FILE_PATH", ""),
		TrustProxy:  getEnvBool("TRUST_PROXY", false),
		CORS:        loadCORSConfig(env),
		CertMgr: CertMgrConfig{
			ToolPath:    getEnv("CERTMGR_TOOL_PATH", DefaultToolPath),
			TempDir:     getEnv("CERTMGR_TEMP_DIR", os.TempDir()),
			LocalServer: getEnv("CERTMGR_LOCAL_SERVER", hostname()),
		},
		Directory: DirectoryConfig{
			Backend:  strings.ToLower(getEnv("DIRECTORY_BACKEND", DefaultDirectory)),
			SeedFile: getEnv("DIRECTORY_SEED_FILE", "directory.yaml"),
			LDAP: LDAPConfig{
				URL:          getEnv("LDAP_URL", ""),
				BindDN:       getEnv("LDAP_BIND_DN", ""),
				BindPassword: getEnv("LDAP_BIND_PASSWORD", ""),
				BaseDN:       getEnv("LDAP_BASE_DN", "cn=zimbra"),
			},
		},
		SSH: SSHConfig{
			User:                  getEnv("SSH_USER", DefaultSSHUser),
			Port:                  getEnvInt("SSH_PORT", DefaultSSHPort),
			PrivateKeyPath:        getEnv("SSH_PRIVATE_KEY_PATH", ""),
			Command:               getEnv("SSH_COMMAND", DefaultShimCommand),
			KnownHostsPath:        getEnv("SSH_KNOWN_HOSTS_PATH", ""),
			InsecureIgnoreHostKey: getEnvBool("SSH_INSECURE_IGNORE_HOST_KEY", false),
			CommandTimeout:        time.Duration(getEnvInt("SSH_COMMAND_TIMEOUT_SECONDS", int(defaultSSHTimeout/time.Second))) * time.Second,
		},
		Vault: VaultConfig{
			Enabled:     getEnvBool("VAULT_ENABLED", false),
			Addr:        getEnv("VAULT_ADDR", ""),
			Token:       getEnv("VAULT_TOKEN", ""),
			KVMount:     getEnv("VAULT_KV_MOUNT", DefaultKVMount),
			PathPrefix:  getEnv("VAULT_PATH_PREFIX", DefaultVaultPrefix),
			TLSInsecure: getEnvBool("VAULT_TLS_INSECURE", getEnvBool("VAULT_SKIP_VERIFY", false)),
		},
		Uploads: UploadConfig{
			TTL:      time.Duration(getEnvInt("UPLOAD_TTL_SECONDS", int(defaultUploadTTL/time.Second))) * time.Second,
			MaxBytes: int64(getEnvInt("UPLOAD_MAX_BYTES", int(defaultUploadBytes))),
		},
		Auth: AuthConfig{
			AccountsFile: getEnv("AUTH_ACCOUNTS_FILE", "accounts.yaml"),
			SessionTTL:   time.Duration(getEnvInt("AUTH_SESSION_TTL_SECONDS", int(defaultSessionTTL/time.Second))) * time.Second,
		},
		ExpiryWarningDays: getEnvInt("CERTD_EXPIRY_WARNING_DAYS", defaultExpiryWindow),
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadSettingsFile() (*SettingsFile, string, error) {
	settingsPath := strings.TrimSpace(getEnv("SETTINGS_PATH", ""))
	if settingsPath != "" {
		settings, err := readSettings(settingsPath)
		return settings, settingsPath, err
	}

	envName := strings.ToLower(strings.TrimSpace(getEnv("APP_ENV", "dev")))
	candidates := []string{fmt.Sprintf("settings.%s.json", envName), "settings.json", "/etc/certd/settings.json"}
	for _, candidate := range candidates {
		absPath, absErr := filepath.Abs(candidate)
		if absErr != nil {
			continue
		}
		if _, statErr := os.Stat(absPath); statErr != nil {
			continue
		}
		settings, err := readSettings(absPath)
		return settings, absPath, err
	}
	return nil, "", os.ErrNotExist
}

func readSettings(path string) (*SettingsFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var settings SettingsFile
	if err := json.Unmarshal(data, &settings); err != nil {
		return nil, err
	}
	return &settings, nil
}

func buildConfigFromSettings(settings SettingsFile) Config {
	env := parseEnv(firstNonEmpty(settings.App.Env, "dev"))
	port := defaultPort
	if settings.App.Port > 0 {
		port = strconv.Itoa(settings.App.Port)
	}
	cors := loadCORSConfig(env)
	if len(settings.CORS.AllowedOrigins) > 0 {
		cors.AllowedOrigins = settings.CORS.AllowedOrigins
		cors.AllowCredentials = settings.CORS.AllowCredentials
	}
	s := settings.SSH
	return Config{
		Env:         env,
		Port:        port,
		LogLevel:    firstNonEmpty(settings.App.Logging.Level, defaultLogLevel(env)),
		LogFormat:   firstNonEmpty(settings.App.Logging.Format, defaultLogFormat(env)),
		LogOutput:   firstNonEmpty(settings.App.Logging.Output, "stdout"),
		LogFilePath: strings.TrimSpace(settings.App.Logging.FilePath),
		TrustProxy:  settings.App.TrustProxy,
		CORS:        cors,
		CertMgr: CertMgrConfig{
			ToolPath:    firstNonEmpty(settings.CertMgr.ToolPath, DefaultToolPath),
			TempDir:     firstNonEmpty(settings.CertMgr.TempDir, os.TempDir()),
			LocalServer: firstNonEmpty(settings.CertMgr.LocalServer, hostname()),
		},
		Directory: DirectoryConfig{
			Backend:  strings.ToLower(firstNonEmpty(settings.Directory.Backend, DefaultDirectory)),
			SeedFile: firstNonEmpty(settings.Directory.SeedFile, "directory.yaml"),
			LDAP: LDAPConfig{
				URL:          strings.TrimSpace(settings.Directory.LDAP.URL),
				BindDN:       strings.TrimSpace(settings.Directory.LDAP.BindDN),
				BindPassword: settings.Directory.LDAP.BindPassword,
				BaseDN:       firstNonEmpty(settings.Directory.LDAP.BaseDN, "cn=zimbra"),
			},
		},
		SSH: SSHConfig{
			User:                  firstNonEmpty(s.User, DefaultSSHUser),
			Port:                  positiveOr(s.Port, DefaultSSHPort),
			PrivateKeyPath:        strings.TrimSpace(s.PrivateKeyPath),
			Command:               firstNonEmpty(s.Command, DefaultShimCommand),
			KnownHostsPath:        strings.TrimSpace(s.KnownHostsPath),
			InsecureIgnoreHostKey: s.InsecureIgnoreHostKey,
			CommandTimeout:        secondsOr(s.CommandTimeoutSeconds, defaultSSHTimeout),
		},
		Vault: VaultConfig{
			Enabled:     settings.Vault.Enabled,
			Addr:        strings.TrimSpace(settings.Vault.Address),
			Token:       strings.TrimSpace(settings.Vault.Token),
			KVMount:     firstNonEmpty(settings.Vault.KVMount, DefaultKVMount),
			PathPrefix:  firstNonEmpty(settings.Vault.PathPrefix, DefaultVaultPrefix),
			TLSInsecure: settings.Vault.TLSInsecure,
		},
		Uploads: UploadConfig{
			TTL:      secondsOr(settings.Uploads.TTLSeconds, defaultUploadTTL),
			MaxBytes: int64(positiveOr(int(settings.Uploads.MaxBytes), int(defaultUploadBytes))),
		},
		Auth: AuthConfig{
			AccountsFile: firstNonEmpty(settings.Auth.AccountsFile, "accounts.yaml"),
			SessionTTL:   secondsOr(settings.Auth.SessionTTLSeconds, defaultSessionTTL),
		},
		ExpiryWarningDays: positiveOr(settings.Metrics.ExpiryWarningDays, defaultExpiryWindow),
	}
}

func applyLoggingEnv(cfg Config) {
	if strings.TrimSpace(cfg.LogOutput) != "" {
		_ = os.Setenv("LOG_OUTPUT", cfg.LogOutput)
	}
	if strings.TrimSpace(cfg.LogFormat) != "" {
		_ = os.Setenv("LOG_FORMAT", cfg.LogFormat)
	}
	if strings.TrimSpace(cfg.LogFilePath) != "" {
		_ = os.Setenv("LOG_FILE_PATH", cfg.LogFilePath)
	}
}

// IsDev returns true if the environment is development.
func (c Config) IsDev() bool {
	return c.Env == EnvDev
}

// IsProd returns true if the environment is production.
func (c Config) IsProd() bool {
	return c.Env == EnvProd
}

func parseEnv(s string) Environment {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "prod", "production":
		return EnvProd
	default:
		return EnvDev
	}
}

func defaultLogLevel(env Environment) string {
	switch env {
	case EnvProd:
		return "info"
	default:
		return "debug"
	}
}

func defaultLogFormat(env Environment) string {
	switch env {
	case EnvProd:
		return "json"
	default:
		return "console"
	}
}

func loadCORSConfig(env Environment) CORSConfig {
	originsEnv := getEnv("CORS_ALLOWED_ORIGINS", "")
	if originsEnv != "" {
		origins := strings.Split(originsEnv, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		return CORSConfig{AllowedOrigins: origins, AllowCredentials: true}
	}
	if env == EnvProd {
		return CORSConfig{AllowedOrigins: []string{}, AllowCredentials: true}
	}
	return CORSConfig{AllowedOrigins: []string{"http://localhost:3000"}, AllowCredentials: true}
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil {
		return ""
	}
	return name
}

func firstNonEmpty(value, fallback string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	return fallback
}

func positiveOr(value, fallback int) int {
	if value > 0 {
		return value
	}
	return fallback
}

func secondsOr(seconds int, fallback time.Duration) time.Duration {
	if seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return fallback
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
