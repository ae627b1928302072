// Package cmd contains all the commands included in the binary file.
package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	datastoreEngineFlag = "datastore-engine"
	datastoreEngineConf = "datastore.engine"
	datastoreURIFlag    = "datastore-uri"
	datastoreURIConf    = "datastore.uri"
)

// NewRootCommand enables all children commands to read flags from CLI
// flags, environment variables prefixed with ENTITYDB, or config.yaml (in
// that order).
func NewRootCommand() *cobra.Command {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetEnvPrefix("ENTITYDB")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	configPaths := []string{"/etc/entitydb", "$HOME/.entitydb", "."}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	viper.SetDefault(datastoreEngineFlag, "")
	viper.SetDefault(datastoreURIFlag, "")
	err := viper.ReadInConfig()
	if err == nil {
		viper.SetDefault(datastoreEngineFlag, viper.Get(datastoreEngineConf))
		viper.SetDefault(datastoreURIFlag, viper.Get(datastoreURIConf))
	}

	return &cobra.Command{
		Use:   "entitydb",
		Short: "A store and search platform for extracted entities with per-entity access control",
		Long: `A store and search platform for extracted entities with per-entity access control.

EntityDB ingests entities through an asynchronous queue, persists them in a
pluggable datastore, indexes them for search, and answers Entity Query
Language (EQL) queries filtered by each caller's access control lists.`,
	}
}
