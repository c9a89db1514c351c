package cmd

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"niconico"
	"niconico/config"
)

var (
	cfgFile string
	client  *niconico.Client
	logger  = logrus.New()
)

const (
	cookieFileKey = "cookie_file"
	userAgentKey  = "user_agent"
)

var rootCmd = &cobra.Command{
	Use:   "niconico",
	Short: "Watch live broadcasts and drive Nsen stations from the terminal",
	Long: `niconico streams live broadcast comments, posts comments, looks up
video metadata and controls Nsen auto-DJ stations.

Authentication uses a cookie file exported from a logged-in browser
session; pass it with --cookie-file or set it in the config file.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if viper.GetBool("verbose") {
			logger.SetLevel(logrus.DebugLevel)
		} else {
			logger.SetLevel(logrus.WarnLevel)
		}

		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if v := viper.GetString(cookieFileKey); v != "" {
			cfg.CookieFile = v
		}
		if v := viper.GetString(userAgentKey); v != "" {
			cfg.UserAgent = v
		}

		client, err = niconico.NewClient(&niconico.ClientOptions{
			Config: cfg,
			Logger: logger,
		})
		return err
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if client != nil {
			return client.Close()
		}
		return nil
	},
}

// Execute runs the root command. Called once from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default niconico.json)")
	rootCmd.PersistentFlags().String("cookie-file", "", "path to the session cookie file")
	rootCmd.PersistentFlags().String("user-agent", "", "User-Agent header for API requests")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	viper.BindPFlag(cookieFileKey, rootCmd.PersistentFlags().Lookup("cookie-file"))
	viper.BindPFlag(userAgentKey, rootCmd.PersistentFlags().Lookup("user-agent"))
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

// initConfig reads in config file and NICONICO_* environment variables.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home + "/.config/niconico")
		}
		viper.SetConfigType("json")
		viper.SetConfigName("niconico")
	}

	viper.SetEnvPrefix("NICONICO")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		logger.WithField("file", viper.ConfigFileUsed()).Debug("config file loaded")
	}
}
