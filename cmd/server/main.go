package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/pavelsim/gorelay/pkg/datastore"
	"github.com/pavelsim/gorelay/pkg/logging"
	"github.com/pavelsim/gorelay/pkg/server"
	"github.com/pavelsim/gorelay/pkg/version"
)

func main() {
	cfg := server.DefaultConfig()

	configPath := flag.String("config", "", "YAML config file (flags override it)")
	flag.StringVar(&cfg.Addr, "addr", cfg.Addr, "TCP bind address")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database file path")
	flag.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "HTTP bind address for Prometheus /metrics (empty to disable)")
	flag.StringVar(&cfg.GroupsFile, "groups-file", cfg.GroupsFile, "YAML file defining groups to create on startup")
	flag.IntVar(&cfg.MaxFrameSize, "max-frame", cfg.MaxFrameSize, "Per-frame payload cap in bytes")
	flag.DurationVar(&cfg.IdleTimeout, "idle-timeout", cfg.IdleTimeout, "Drop connections silent for this long (0 to disable)")
	flag.DurationVar(&cfg.WriteTimeout, "write-timeout", cfg.WriteTimeout, "Per-frame outbound write deadline")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: "+logging.LevelNames())
	flag.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format: text or json")
	exportGroups := flag.Bool("export-groups", false, "Export all groups as YAML and exit")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("gorelay", version.Full())
		return
	}

	// Config file first, then explicit flags on top of it.
	if *configPath != "" {
		fileCfg, err := server.LoadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "config: %v\n", err)
			os.Exit(1)
		}
		merged := fileCfg
		flag.Visit(func(f *flag.Flag) {
			switch f.Name {
			case "addr":
				merged.Addr = cfg.Addr
			case "db":
				merged.DBPath = cfg.DBPath
			case "metrics":
				merged.MetricsAddr = cfg.MetricsAddr
			case "groups-file":
				merged.GroupsFile = cfg.GroupsFile
			case "max-frame":
				merged.MaxFrameSize = cfg.MaxFrameSize
			case "idle-timeout":
				merged.IdleTimeout = cfg.IdleTimeout
			case "write-timeout":
				merged.WriteTimeout = cfg.WriteTimeout
			case "log-level":
				merged.LogLevel = cfg.LogLevel
			case "log-format":
				merged.LogFormat = cfg.LogFormat
			}
		})
		cfg = merged
	}

	if err := logging.Setup(logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Output: os.Stdout,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "invalid logging config: %v\n", err)
		os.Exit(1)
	}

	st, err := datastore.NewSQLStore(cfg.DBPath)
	if err != nil {
		slog.Error("open database", "err", err)
		os.Exit(1)
	}

	if *exportGroups {
		defer st.Close()
		data, err := server.ExportGroupsYAML(st)
		if err != nil {
			slog.Error("export groups", "err", err)
			os.Exit(1)
		}
		fmt.Print(string(data))
		return
	}

	slog.Info("starting gorelay", "version", version.String(),
		"addr", cfg.Addr, "db", cfg.DBPath, "idle_timeout", cfg.IdleTimeout)

	srv := server.New(cfg, server.Dependencies{Store: st})
	if err := srv.Run(); err != nil {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
}
