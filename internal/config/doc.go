// Package config provides configuration types and loading for avalimit.
//
// Configuration is read from YAML with ${VAR} and ${VAR:-default}
// substitution and decoded over DefaultConfig, so a file only needs the
// keys it changes. Unknown keys are rejected.
//
//	cfg, err := config.LoadConfig("configs/avalimit.yaml")
//	if err != nil {
//	    return err
//	}
//	if err := config.ValidateConfig(cfg); err != nil {
//	    return err
//	}
//
// A Watcher reloads the file on change; avalimit uses it to swap rate
// limit policies without a restart.
package config
