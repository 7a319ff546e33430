// Package config loads service configuration with Viper.
//
// LoadConfig looks for ./cmd/<service>/config.yml (and a few fallbacks),
// loads an optional .env file with godotenv and lets environment variables
// override file values: REGISTRY_LEASE_EVICTION_FACTOR maps onto
// registry.lease.eviction_factor.
//
//	var cfg Config
//	if err := config.LoadConfig("registry", &cfg); err != nil {
//	    log.Fatal(err)
//	}
package config
