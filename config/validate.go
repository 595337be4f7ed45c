package config

import (
	"net/url"
	"os"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/robfig/cron/v3"

	"github.com/angeloszaimis/edge-proxy/internal/httpserver"
	"github.com/angeloszaimis/edge-proxy/internal/strategy"
)

func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Server, validation.By(func(value interface{}) error {
			sc, ok := value.(ServerConfig)
			if !ok {
				return validation.NewError("validation_invalid_type", "must be a ServerConfig")
			}
			return sc.validate(len(c.Certificates) > 0)
		})),
		validation.Field(&c.Admin, validation.By(func(value interface{}) error {
			ac, ok := value.(AdminConfig)
			if !ok {
				return validation.NewError("validation_invalid_type", "must be an AdminConfig")
			}
			return validation.ValidateStruct(&ac,
				validation.Field(&ac.Address, validation.When(ac.Address != "", httpserver.ValidateAddress)),
			)
		})),
		validation.Field(&c.Logging, validation.By(func(value interface{}) error {
			lc, ok := value.(LoggingConfig)
			if !ok {
				return validation.NewError("validation_invalid_type", "must be a LoggingConfig")
			}
			return validation.ValidateStruct(&lc,
				validation.Field(&lc.Level,
					validation.Required,
					validation.In(LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError),
				),
			)
		})),
		validation.Field(&c.HealthCheck, validation.By(func(value interface{}) error {
			hc, ok := value.(HealthCheckConfig)
			if !ok {
				return validation.NewError("validation_invalid_type", "must be a HealthCheckConfig")
			}
			return validation.ValidateStruct(&hc,
				validation.Field(&hc.Interval, validation.By(positiveDuration)),
				validation.Field(&hc.Timeout, validation.By(positiveDuration)),
				validation.Field(&hc.Path, validation.Required, validation.By(absolutePath)),
				validation.Field(&hc.FailureThreshold, validation.Required, validation.Min(1)),
				validation.Field(&hc.SuccessThreshold, validation.Required, validation.Min(1)),
			)
		})),
		validation.Field(&c.Proxy, validation.By(func(value interface{}) error {
			pc, ok := value.(ProxyConfig)
			if !ok {
				return validation.NewError("validation_invalid_type", "must be a ProxyConfig")
			}
			return validation.ValidateStruct(&pc,
				validation.Field(&pc.MaxAttempts, validation.Required, validation.Min(1)),
				validation.Field(&pc.DialTimeout, validation.By(positiveDuration)),
				validation.Field(&pc.ResponseHeaderTimeout, validation.By(positiveDuration)),
				validation.Field(&pc.IdleConnTimeout, validation.By(positiveDuration)),
				validation.Field(&pc.MaxIdleConnsPerHost, validation.Min(0)),
			)
		})),
		validation.Field(&c.Cache, validation.By(func(value interface{}) error {
			cc, ok := value.(CacheConfig)
			if !ok {
				return validation.NewError("validation_invalid_type", "must be a CacheConfig")
			}
			return validation.ValidateStruct(&cc,
				validation.Field(&cc.MaxSize, validation.Min(int64(0))),
				validation.Field(&cc.MaxFileSize, validation.Min(int64(0))),
				validation.Field(&cc.DefaultTTL, validation.Min(time.Duration(0))),
				validation.Field(&cc.CoalesceWait, validation.Min(time.Duration(0))),
				validation.Field(&cc.SweepSchedule, validation.By(cronSchedule)),
			)
		})),
		validation.Field(&c.Backends,
			validation.Required,
			validation.Length(1, 0),
			validation.Each(validation.By(validateBackendConfig)),
			validation.By(uniqueBackendIDs),
		),
		validation.Field(&c.Routes,
			validation.Each(validation.By(c.validateRouteConfig)),
		),
		validation.Field(&c.Certificates,
			validation.Each(validation.By(validateCertificateConfig)),
		),
	)
}

func (sc ServerConfig) validate(haveCertificates bool) error {
	return validation.ValidateStruct(&sc,
		validation.Field(&sc.Environment,
			validation.Required,
			validation.In(EnvDev, EnvStaging, EnvProd),
		),
		validation.Field(&sc.Address, validation.Required, httpserver.ValidateAddress),
		validation.Field(&sc.TLSAddress,
			validation.When(sc.TLSAddress != "", httpserver.ValidateAddress),
			validation.When(sc.TLSAddress != "" && !haveCertificates,
				validation.By(func(interface{}) error {
					return validation.NewError("validation_tls_without_certificates", "requires at least one certificate")
				}),
			),
		),
		validation.Field(&sc.SystemPrefix, validation.By(absolutePath)),
		validation.Field(&sc.ShutdownTimeout, validation.By(positiveDuration)),
		validation.Field(&sc.ReadTimeout, validation.By(positiveDuration)),
		validation.Field(&sc.WriteTimeout, validation.By(positiveDuration)),
		validation.Field(&sc.IdleTimeout, validation.By(positiveDuration)),
	)
}

func positiveDuration(value interface{}) error {
	d, ok := value.(time.Duration)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a duration")
	}

	if d <= 0 {
		return validation.NewError("validation_invalid_duration", "must be a positive duration (e.g., 2s, 5m, 1h)")
	}

	return nil
}

func absolutePath(value interface{}) error {
	path, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	if path != "" && !strings.HasPrefix(path, "/") {
		return validation.NewError("validation_invalid_path", "must start with /")
	}

	return nil
}

func cronSchedule(value interface{}) error {
	schedule, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	if schedule == "" {
		return nil
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return validation.NewError("validation_invalid_schedule", "must be a cron expression or @every duration")
	}

	return nil
}

func validateServerURL(value interface{}) error {
	serverURL, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	if serverURL == "" {
		return validation.NewError("validation_empty_url", "server URL cannot be empty")
	}

	parsedURL, err := url.Parse(serverURL)
	if err != nil {
		return validation.NewError("validation_invalid_url", "must be a valid URL")
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return validation.NewError("validation_invalid_scheme", "URL must use http or https scheme")
	}

	if parsedURL.Host == "" {
		return validation.NewError("validation_missing_host", "URL must have a host")
	}

	return nil
}

func validateBackendConfig(value interface{}) error {
	backend, ok := value.(BackendConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a BackendConfig")
	}

	return validation.ValidateStruct(&backend,
		validation.Field(&backend.URL, validation.By(validateServerURL)),
		validation.Field(&backend.Weight, validation.Min(0)),
		validation.Field(&backend.ProbePath, validation.By(absolutePath)),
	)
}

// BackendID returns the id a backend is referenced by: its configured id, or
// its URL.
func (b BackendConfig) BackendID() string {
	if b.ID != "" {
		return b.ID
	}
	return b.URL
}

func uniqueBackendIDs(value interface{}) error {
	backends, ok := value.([]BackendConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a list of backends")
	}

	seen := make(map[string]struct{}, len(backends))
	for _, b := range backends {
		id := b.BackendID()
		if _, dup := seen[id]; dup {
			return validation.NewError("validation_duplicate_backend", "duplicate backend id "+id)
		}
		seen[id] = struct{}{}
	}

	return nil
}

func (c *Config) validateRouteConfig(value interface{}) error {
	route, ok := value.(RouteConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a RouteConfig")
	}

	known := make(map[string]struct{}, len(c.Backends))
	for _, b := range c.Backends {
		known[b.BackendID()] = struct{}{}
	}

	strategies := make([]interface{}, 0, len(strategy.Names())+1)
	strategies = append(strategies, "")
	for _, name := range strategy.Names() {
		strategies = append(strategies, name)
	}

	return validation.ValidateStruct(&route,
		validation.Field(&route.Path, validation.By(absolutePath)),
		validation.Field(&route.Backends,
			validation.Required,
			validation.Each(validation.By(func(value interface{}) error {
				id, _ := value.(string)
				if _, ok := known[id]; !ok {
					return validation.NewError("validation_unknown_backend", "unknown backend "+id)
				}
				return nil
			})),
		),
		validation.Field(&route.Strategy, validation.In(strategies...)),
		validation.Field(&route.VirtualNodes, validation.Min(0)),
	)
}

func validateCertificateConfig(value interface{}) error {
	cert, ok := value.(CertificateConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a CertificateConfig")
	}

	return validation.ValidateStruct(&cert,
		validation.Field(&cert.CertFile, validation.Required, validation.By(fileExists)),
		validation.Field(&cert.KeyFile, validation.Required, validation.By(fileExists)),
	)
}

func fileExists(value interface{}) error {
	path, _ := value.(string)
	if path == "" {
		return nil
	}

	if _, err := os.Stat(path); err != nil {
		return validation.NewError("validation_missing_file", "file does not exist")
	}

	return nil
}
