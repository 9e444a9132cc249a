package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "ftlsim",
	Short: "Run and inspect an in-memory flash translation layer",
	Long: `ftlsim drives the ftl core against a synthetic block device.

It exposes the same knobs the core accepts (pool geometry, append-point
count, device-wait targets, pool-serialize and no-waits) as flags and a
config file, and serves a /status and /metrics endpoint while running.`,
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./ftlsim.yaml)")

	rootCmd.PersistentFlags().Int("pools", 2, "number of pools (= number of append points)")
	rootCmd.PersistentFlags().Int("blocks-per-pool", 4, "erase-blocks per pool")
	rootCmd.PersistentFlags().Int("over-provision", 0, "blocks per pool held back from the free-list rotation")
	rootCmd.PersistentFlags().Int("host-pages-per-block", 8, "host pages per erase-block")
	rootCmd.PersistentFlags().Int("host-pages-per-flash-page", 1, "host pages grouped into one flash page")
	rootCmd.PersistentFlags().Int("sectors-per-host-page", 8, "device sectors per host page")
	rootCmd.PersistentFlags().Int64("t-read", 50, "per-AP target read device-wait, in microseconds")
	rootCmd.PersistentFlags().Int64("t-write", 200, "per-AP target write device-wait, in microseconds")
	rootCmd.PersistentFlags().Bool("no-waits", false, "disable device-wait pacing")
	rootCmd.PersistentFlags().Bool("pool-serialize", false, "serialize I/O within each pool")
	rootCmd.PersistentFlags().Int("request-pool-size", 64, "bound on concurrently in-flight requests (0 = unbounded)")
	rootCmd.PersistentFlags().String("listen", "127.0.0.1:9420", "address for /status and /metrics")

	viper.BindPFlags(rootCmd.PersistentFlags())
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("ftlsim")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
	}
	viper.SetEnvPrefix("FTLSIM")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			fmt.Fprintln(os.Stderr, "ftlsim: reading config:", err)
		}
	}
}
