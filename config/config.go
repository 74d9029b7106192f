package config

import (
	"os"
	"strings"
)

// AppConfig is the main application configuration struct that composes
// domain-specific configuration from separate files.
//
// Configuration is loaded from environment variables using the
// github.com/caarlos0/env library. See individual domain config
// files for details on available environment variables:
//   - store.go: Job store and Redis configuration
//   - pipeline.go: Pipeline execution and resilience configuration
//   - services.go: Service mode configuration
//   - observability.go: Metrics configuration
type AppConfig struct {
	// IsDev controls development mode behavior (verbose logging, etc.)
	// Set DEV=true or ENVIRONMENT=development for development mode.
	IsDev bool `env:"DEV" envDefault:"false"`

	// Services is a comma-delimited list of service modes to run.
	Services string `env:"SERVICES" envDefault:"worker"`

	// Job store configuration
	Store StoreConfig
	Redis RedisConfig `envPrefix:"REDIS_"`

	// Pipeline execution configuration
	Pipeline   PipelineConfig
	Resilience ResilienceConfig

	// Janitor configuration
	Janitor JanitorConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// Sanitize applies guardrails to configuration values loaded from env.
// This should be called after loading configuration from environment variables.
func (c *AppConfig) Sanitize() {
	c.Store.Sanitize()
	c.Redis.Sanitize()
	c.Pipeline.Sanitize()
	c.Resilience.Sanitize()
	c.Janitor.Sanitize()
	c.Observability.Sanitize()

	c.detectDevMode()
}

// detectDevMode checks both DEV and ENVIRONMENT environment variables.
// This is called by Sanitize() to ensure IsDev is set correctly.
func (c *AppConfig) detectDevMode() {
	if !c.IsDev {
		environment := strings.ToLower(os.Getenv("ENVIRONMENT"))
		c.IsDev = environment == "development" || environment == "dev"
	}
}

// GetEnabledServices returns the enabled services based on the Services field.
func (c *AppConfig) GetEnabledServices() (map[ServiceMode]bool, error) {
	return ParseServices(c.Services)
}

// IsWorkerEnabled returns true if the job worker service is enabled.
func (c *AppConfig) IsWorkerEnabled() bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeWorker]
}

// IsJanitorEnabled returns true if the janitor service is enabled.
func (c *AppConfig) IsJanitorEnabled() bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeJanitor]
}
