// Package config provides application configuration management.
//
// The config package loads the settings collaborator of the service: server
// transport, logging, execution defaults, per-provider settings (endpoints and
// credentials), persistence and metrics. Values come from defaults, an
// optional config.yaml, a .env file and AGENTBOX_* environment variables, in
// increasing order of precedence.
//
// Usage:
//
//	cfg, err := config.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Default provider: %s\n", cfg.Sandbox.DefaultProvider)
package config
