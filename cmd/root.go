package cmd

import (
	"errors"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"logingest/src/log"
)

var rootCmd = &cobra.Command{
	Use:   "logingest",
	Short: "Log file ingestion service",
	Long: `logingest accepts log file uploads through presigned URLs and queues
them as jobs for downstream processing.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return log.Setup(viper.GetString("app.environment"), viper.GetInt("app.log_verbosity"))
	},
}

func init() {
	cobra.OnInitialize(loadEnvFile)
	settingDefaultConfig()
}

// loadEnvFile reads .env into the process environment when present.
func loadEnvFile() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Error(err, "Failed to load .env file")
	}
}

// syncLogs flushes the logger before the process exits.
var syncLogs = log.Sync

func Execute() {
	os.Exit(execute())
}

func execute() int {
	err := rootCmd.Execute()
	syncLogs()
	if err != nil {
		return 1
	}
	return 0
}
