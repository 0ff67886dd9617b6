// Package config loads typed configuration from environment variables.
//
// It combines github.com/joho/godotenv, which reads optional .env files into
// the process environment, with github.com/caarlos0/env/v11, which parses
// the environment into a struct according to its `env` tags. Each
// configuration type is parsed once and cached for the life of the process.
//
// # Usage
//
//	type GatewayConfig struct {
//		Addr        string        `env:"APNS_GATEWAY_ADDR,required"`
//		CacheLength int           `env:"APNS_CACHE_LENGTH" envDefault:"100"`
//		DialTimeout time.Duration `env:"APNS_DIAL_TIMEOUT" envDefault:"30s"`
//	}
//
//	if err := config.LoadEnv("./deploy/.env"); err != nil {
//		log.Fatal(err)
//	}
//
//	var cfg GatewayConfig
//	if err := config.Load(&cfg); err != nil {
//		log.Fatal(err)
//	}
//
// # Errors
//
//   - ErrParsingConfig: the environment could not be parsed into the struct.
//   - ErrLoadingEnvFile: a .env file passed to LoadEnv could not be read.
//   - ErrNilPointer: Load was given a nil pointer.
//
// ResetCache clears the cache between tests.
package config
