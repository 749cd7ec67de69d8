package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/twright82/VitalPBX-Asterisk-Wallboard/internal/config"
	"github.com/twright82/VitalPBX-Asterisk-Wallboard/internal/db"
	"gorm.io/gorm"
)

const (
	defaultConfigPath = "/etc/wallboard/wallboard.yaml"
	defaultEnvFile    = "/etc/wallboard/.env"
)

// configFlags are shared by every command that reads the config file.
type configFlags struct {
	path    string
	envFile string
}

func (f *configFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.path, "config", "c", defaultConfigPath, "path to wallboard config file")
	cmd.Flags().StringVar(&f.envFile, "env-file", defaultEnvFile, "optional .env file with secrets")
}

func (f *configFlags) load() (*config.Config, error) {
	cfg, err := config.Load(f.path, f.envFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func connectFromConfig(f *configFlags) (*config.Config, *gorm.DB, error) {
	cfg, err := f.load()
	if err != nil {
		return nil, nil, err
	}
	gormDB, err := db.Open(cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	return cfg, gormDB, nil
}
