package main

import (
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "iotrace",
	Short: "Low-level I/O activity tracer",
	Long: `iotrace instruments a running machine for low-level activity -
syscall entry/exit latency, block device access patterns and enclave
page events - and aggregates the event stream into live counters.`,
	SilenceUsage: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default iotrace.yaml in the working directory)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")

	runCmd.Flags().Uint32("target-pid", 0, "only observe events for this pid (0 = all)")
	runCmd.Flags().Bool("deep-trace", false, "emit and retain individual trace events (detailed timing mode)")
	runCmd.Flags().Bool("enable-sgx", false, "attach the enclave kprobes")
	runCmd.Flags().Int("channel-capacity", 32768, "transport channel slots")
	runCmd.Flags().Duration("poll-timeout", 0, "consumer poll timeout (0 = default)")
	runCmd.Flags().String("bpf-object", "tracer.bpf.o", "path to the compiled BPF object")
	runCmd.Flags().String("output-dir", ".", "directory for the CSV results")

	bindings := map[string]string{
		"log_level":        "log-level",
		"target_pid":       "target-pid",
		"deep_trace":       "deep-trace",
		"enable_sgx":       "enable-sgx",
		"channel_capacity": "channel-capacity",
		"poll_timeout":     "poll-timeout",
		"bpf_object":       "bpf-object",
		"output_dir":       "output-dir",
	}
	for key, flag := range bindings {
		var err error
		if f := rootCmd.PersistentFlags().Lookup(flag); f != nil {
			err = viper.BindPFlag(key, f)
		} else {
			err = viper.BindPFlag(key, runCmd.Flags().Lookup(flag))
		}
		if err != nil {
			log.Fatalf("binding flag %s: %v", flag, err)
		}
	}

	rootCmd.AddCommand(runCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("iotrace")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix("IOTRACE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			cobra.CheckErr(fmt.Errorf("reading config: %w", err))
		}
	}
}

// newLogger builds the process logger the way the log level asks for.
func newLogger(level string) (*zap.Logger, error) {
	switch level {
	case "debug":
		return zap.NewDevelopment()
	default:
		lvl, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
		cfg := zap.NewProductionConfig()
		cfg.Level = lvl
		return cfg.Build()
	}
}
