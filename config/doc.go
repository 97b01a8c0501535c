// Package config loads the configuration of testbed agents.
//
// Configuration is layered: built-in defaults, then each file layer in
// order, then environment variables. Files are JSON or YAML, chosen by
// extension, and durations may be written as strings ("30s").
//
// # Basic Usage
//
//	loader := config.NewLoader()
//	loader.AddLayer("config/base.yaml")
//	loader.AddLayer("config/grenoble.json") // Overrides base
//
//	cfg, err := loader.Load()
//	if err != nil {
//		log.Fatal(err)
//	}
//
// # Environment Overrides
//
// Variables named TESTBEDBUS_<SECTION>_<KEY> override the files, for
// instance TESTBEDBUS_BROKER_URL, TESTBEDBUS_TOPICS_PREFIX or
// TESTBEDBUS_TIMEOUTS_REQUEST=10s.
//
// # Validation
//
// Load validates the result unless EnableValidation(false) was called.
// Validation errors are classified invalid (errors.IsInvalid).
package config
