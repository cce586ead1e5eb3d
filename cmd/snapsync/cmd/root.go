package cmd

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "snapsync",
	Short: "Checksum-addressed snapshot synchronization CLI",
	Long:  "CLI for packing solution snapshots and syncing them through OCI registries.",
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ~/.config/snapsync/config.yaml)")
	rootCmd.PersistentFlags().Int("concurrency", 0, "parallel operations (default: 4)")

	viper.BindPFlag("concurrency", rootCmd.PersistentFlags().Lookup("concurrency"))
}

func initConfig() {
	if cfg := rootCmd.PersistentFlags().Lookup("config").Value.String(); cfg != "" {
		viper.SetConfigFile(cfg)
	} else {
		viper.AddConfigPath(configDir())
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("SNAPSYNC")
	viper.AutomaticEnv()
	viper.SetDefault("concurrency", 4)
	viper.SetDefault("compression", 2)

	viper.ReadInConfig()
}

func configDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "snapsync")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", "snapsync")
	}
	return ".snapsync"
}

func getConcurrency() int {
	return viper.GetInt("concurrency")
}

func getCompression() int {
	return viper.GetInt("compression")
}
