package config

import (
	"time"
)

const (
	EnvDev     = "dev"
	EnvStaging = "staging"
	EnvProd    = "prod"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

type ServerConfig struct {
	Address         string        `mapstructure:"address" json:"address"`
	TLSAddress      string        `mapstructure:"tls_address" json:"tls_address"`
	Environment     string        `mapstructure:"environment" json:"environment"`
	SystemPrefix    string        `mapstructure:"system_prefix" json:"system_prefix"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" json:"shutdown_timeout"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" json:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" json:"idle_timeout"`
}

// AdminConfig configures the optional dedicated admin listener. The admin API
// is always reachable under the system prefix of the main listener.
type AdminConfig struct {
	Address string `mapstructure:"address" json:"address"`
}

type LoggingConfig struct {
	Level     string `mapstructure:"level" json:"level"`
	AddSource bool   `mapstructure:"add_source" json:"add_source"`
}

type HealthCheckConfig struct {
	Interval         time.Duration `mapstructure:"interval" json:"interval"`
	Timeout          time.Duration `mapstructure:"timeout" json:"timeout"`
	Path             string        `mapstructure:"path" json:"path"`
	FailureThreshold int           `mapstructure:"failure_threshold" json:"failure_threshold"`
	SuccessThreshold int           `mapstructure:"success_threshold" json:"success_threshold"`
}

type ProxyConfig struct {
	MaxAttempts           int           `mapstructure:"max_attempts" json:"max_attempts"`
	DialTimeout           time.Duration `mapstructure:"dial_timeout" json:"dial_timeout"`
	ResponseHeaderTimeout time.Duration `mapstructure:"response_header_timeout" json:"response_header_timeout"`
	IdleConnTimeout       time.Duration `mapstructure:"idle_conn_timeout" json:"idle_conn_timeout"`
	MaxIdleConnsPerHost   int           `mapstructure:"max_idle_conns_per_host" json:"max_idle_conns_per_host"`
}

// CacheConfig sizes are in bytes; 0 means unbounded.
type CacheConfig struct {
	MaxSize       int64         `mapstructure:"max_size" json:"max_size"`
	MaxFileSize   int64         `mapstructure:"max_file_size" json:"max_file_size"`
	DefaultTTL    time.Duration `mapstructure:"default_ttl" json:"default_ttl"`
	CoalesceWait  time.Duration `mapstructure:"coalesce_wait" json:"coalesce_wait"`
	SweepSchedule string        `mapstructure:"sweep_schedule" json:"sweep_schedule"`
	KeyHeaders    []string      `mapstructure:"key_headers" json:"key_headers"`
	CacheAll      bool          `mapstructure:"cache_all" json:"cache_all"`
}

type BackendConfig struct {
	ID        string `mapstructure:"id" json:"id"`
	URL       string `mapstructure:"url" json:"url"`
	Weight    int    `mapstructure:"weight" json:"weight"`
	ProbePath string `mapstructure:"probe_path" json:"probe_path"`
}

type RouteConfig struct {
	ID           string   `mapstructure:"id" json:"id"`
	Host         string   `mapstructure:"host" json:"host"`
	Path         string   `mapstructure:"path" json:"path"`
	Backends     []string `mapstructure:"backends" json:"backends"`
	Strategy     string   `mapstructure:"strategy" json:"strategy"`
	VirtualNodes int      `mapstructure:"virtual_nodes" json:"virtual_nodes"`
	Cache        bool     `mapstructure:"cache" json:"cache"`
}

type CertificateConfig struct {
	ID       string `mapstructure:"id" json:"id"`
	Hostname string `mapstructure:"hostname" json:"hostname"`
	CertFile string `mapstructure:"cert_file" json:"cert_file"`
	KeyFile  string `mapstructure:"key_file" json:"key_file"`
}

type Config struct {
	Server       ServerConfig        `mapstructure:"server" json:"server"`
	Admin        AdminConfig         `mapstructure:"admin" json:"admin"`
	Logging      LoggingConfig       `mapstructure:"logging" json:"logging"`
	HealthCheck  HealthCheckConfig   `mapstructure:"health_check" json:"health_check"`
	Proxy        ProxyConfig         `mapstructure:"proxy" json:"proxy"`
	Cache        CacheConfig         `mapstructure:"cache" json:"cache"`
	Backends     []BackendConfig     `mapstructure:"backends" json:"backends"`
	Routes       []RouteConfig       `mapstructure:"routes" json:"routes"`
	Certificates []CertificateConfig `mapstructure:"certificates" json:"certificates"`
}
