// Package config loads worker configuration from environment variables
// using the env package. Defaults suit a local Redis and a Docker daemon.
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
