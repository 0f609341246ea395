package main

import (
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/next-trace/scg-appfw/appfw"
	"github.com/next-trace/scg-appfw/internal/log"
)

var (
	config = appfw.DefaultConfig("busctl")
	logger *slog.Logger

	flagConfigFilePath string // value of --config flag
	flagVerbose        bool   // value of --verbose flag
)

func main() {
	// root flags
	rootCmd.PersistentFlags().StringVar(&flagConfigFilePath, "config", "", "YAML file with framework settings")
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")
	config.BindFlags(rootCmd.PersistentFlags())

	// never print messages
	rootCmd.SilenceErrors = true

	rootCmd.PersistentPreRunE = initBusctl

	bindDemoFlags(demoCmd.Flags())
	rootCmd.AddCommand(demoCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("busctl failed", "err", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "busctl",
	Short:        "Exercise the application framework bus from the command line",
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "print build information",
	Run: func(cmd *cobra.Command, args []string) {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Println("busctl: version info not available")
			return
		}

		fmt.Printf("busctl: %s\n", info.Main.Version)
		fmt.Printf("go:     %s\n", info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				fmt.Printf("commit: %s\n", s.Value)
			case "vcs.time":
				fmt.Printf("date:   %s\n", s.Value)
			case "vcs.modified":
				fmt.Printf("dirty:  %s\n", s.Value)
			}
		}
	},
}

// initBusctl loads --config and then re-applies explicit flags, so flags win
// over the file.
func initBusctl(cmd *cobra.Command, _ []string) error {
	logger = log.NewConsole(os.Stderr, flagVerbose)
	slog.SetDefault(logger)

	if flagConfigFilePath == "" {
		return config.Validate()
	}

	changed := make(map[string]string)
	cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = f.Value.String() })

	f, err := os.Open(flagConfigFilePath)
	if err != nil {
		return fmt.Errorf("opening config file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	loaded, err := appfw.LoadConfig(f, config.Name)
	if err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}

	config = loaded

	for name, v := range changed {
		if err := cmd.Flags().Set(name, v); err != nil {
			return err
		}
	}

	return config.Validate()
}
