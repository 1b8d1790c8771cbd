package di

import (
	"fmt"
	"os"

	"github.com/alpacahq/tracelog/utils"
	"github.com/alpacahq/tracelog/utils/log"
)

// LoadConfig builds the configuration of a command. The YAML file at
// configPath supplies the settings and schema when given; a non empty
// tracePath overrides the log path it names.
func LoadConfig(tracePath, configPath string) (*utils.TraceLogConfig, error) {
	cfg := &utils.TraceLogConfig{
		Path:      tracePath,
		ReadAhead: utils.DefaultReadAhead,
	}
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read configuration file error: %w", err)
		}
		log.Info("using %v for configuration", configPath)
		if err := cfg.Parse(data); err != nil {
			return nil, fmt.Errorf("failed to parse configuration file error: %w", err)
		}
		if tracePath != "" {
			cfg.Path = tracePath
		}
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("no trace log path given")
	}
	return cfg, nil
}
