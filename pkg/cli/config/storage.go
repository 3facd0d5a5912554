package config

import "github.com/urfave/cli/v3"

// Storage holds storage configuration
type Storage struct {
	MappingFile string
}

// Flags returns CLI flags for storage configuration
func (c *Storage) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "mapping-file",
			Usage:       "TOML file with repository mappings, reloaded on change",
			Destination: &c.MappingFile,
			Sources:     cli.EnvVars("ISSUE_LINKER_MAPPING_FILE"),
		},
	}
}
