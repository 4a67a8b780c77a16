package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/gethiox/midiroute/internal/pkg/config"
	"github.com/gethiox/midiroute/internal/pkg/logger"
	"github.com/logrusorgru/aurora"
	"github.com/spf13/cobra"
)

var log = logger.GetLogger()

var (
	configPath string
	logLevel   int
	debug      bool
	nocolor    bool
	silent     bool

	cfg      config.Config
	au       aurora.Aurora
	logsDone chan struct{}
	logsOnce sync.Once
)

var rootCmd = &cobra.Command{
	Use:   "midiroute",
	Short: "midiroute routes MIDI events between ports that come and go",
	Long: `midiroute opens MIDI ports by name whether the devices are present or not,
binds them as soon as matching devices appear and forwards events between them
according to a route file.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "midiroute.config", "path to the config file")
	rootCmd.PersistentFlags().IntVar(&logLevel, "loglevel", 2,
		"logging level, each level enables additional information class (0-4, default: config or 2)\n"+
			"0: errors\n"+
			"1: warnings\n"+
			"2: general info\n"+
			"3: port changes (device arrival, departure, rebinding)\n"+
			"4: routed events",
	)
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug messages with caller information")
	rootCmd.PersistentFlags().BoolVar(&nocolor, "nocolor", false, "disable color")
	rootCmd.PersistentFlags().BoolVar(&silent, "silent", false, "no output logging, best performance")
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	c, err := config.LoadConfig(configPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !cmd.Flags().Changed("config") {
			return config.Default(), nil
		}
		return config.Config{}, err
	}
	return c, nil
}

func setup(cmd *cobra.Command, args []string) error {
	c, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cfg = c

	lvl := cfg.Log.Level
	if cmd.Flags().Changed("loglevel") {
		lvl = logLevel
	}
	if lvl < logger.ErrorLvl || lvl > logger.EventLvl {
		return fmt.Errorf("log level %d out of range 0-4", lvl)
	}
	if debug {
		lvl = logger.DebugLvl
	}

	au = aurora.NewAurora(!nocolor)
	logsDone = make(chan struct{})
	go printLogs(os.Stdout, au, lvl, silent, logsDone)

	log.Info(fmt.Sprintf("midiroute config: %+v", cfg), logger.Debug)
	return nil
}

// closeLogs stops the log printer, nothing may log afterwards.
func closeLogs() {
	logsOnce.Do(func() {
		close(logger.Messages)
		if logsDone != nil {
			<-logsDone
		}
	})
}
