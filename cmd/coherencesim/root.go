package main

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/sarchlab/coherence/datarecording"
	"github.com/sarchlab/coherence/monitoring"
	"github.com/sarchlab/coherence/platform"
)

// Environment variables that provide defaults for the flags. They can also
// be set in a .env file in the working directory.
const (
	envConfig      = "COHERENCESIM_CONFIG"
	envRecord      = "COHERENCESIM_RECORD"
	envMonitorPort = "COHERENCESIM_MONITOR_PORT"
)

// loadDotEnv sets the variables of a .env file that are not set already.
func loadDotEnv() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("cannot load .env: %v", err)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "coherencesim",
		Short: "coherencesim simulates cache coherence protocols.",
		Long: `coherencesim runs cores with private L1 caches over a shared ` +
			`L2 cache and an ideal memory. The cores run synthetic sharing ` +
			`patterns or text traces. After the run, the caches are checked ` +
			`for coherence and a report is printed.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE:         run,
	}

	f := cmd.Flags()
	f.String("config", os.Getenv(envConfig), "YAML platform config file")
	f.String("save-config", "", "write the effective config to a file")
	f.Int("cores", 0, "number of cores")
	f.String("protocol", "", "mesi, msi or incoherent")
	f.String("shared", "", "shared cache organization, inclusive or directory")
	f.String("pattern", "", "synthetic pattern: false_sharing, true_sharing, "+
		"private or random")
	f.Int("accesses", 0, "number of accesses per core of the synthetic pattern")
	f.Float64("write-ratio", 0, "share of writes in the synthetic pattern")
	f.StringSlice("trace", nil, "trace file of each core, in core order")
	f.Int64("seed", 0, "random seed")
	f.Bool("writeback-acks", false, "acknowledge writebacks")
	f.Bool("log-events", false, "print every event the engine handles")
	f.Bool("trace-log", false, "print every cache transaction")
	f.String("record", os.Getenv(envRecord),
		"record accesses and transactions into this SQLite database")
	f.Int("monitor-port", envInt(envMonitorPort, -1),
		"serve the monitor on this port, 0 for any port, -1 to disable")

	return cmd
}

func envInt(name string, def int) int {
	v, found := os.LookupEnv(name)
	if !found {
		return def
	}

	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("ignoring %s=%q: %v", name, v, err)
		return def
	}

	return n
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if path, _ := cmd.Flags().GetString("save-config"); path != "" {
		if err := cfg.SaveConfig(path); err != nil {
			return err
		}
	}

	builder := platform.MakeBuilder().WithConfig(cfg)

	if path, _ := cmd.Flags().GetString("record"); path != "" {
		recorder := datarecording.New(path)
		defer recorder.Close()

		builder = builder.WithRecorder(recorder)
	}

	var monitor *monitoring.Monitor
	if port, _ := cmd.Flags().GetInt("monitor-port"); port >= 0 {
		monitor = monitoring.NewMonitor().WithPortNumber(port)
		builder = builder.WithMonitor(monitor)
	}

	p, err := builder.Build()
	if err != nil {
		return err
	}

	if monitor != nil {
		monitor.StartServer()
	}

	report, err := p.Run()
	if err != nil {
		return err
	}

	return report.Print(cmd.OutOrStdout())
}

// loadConfig reads the config file, if any, and applies the flags that were
// set on top of it.
func loadConfig(cmd *cobra.Command) (*platform.Config, error) {
	flags := cmd.Flags()
	cfg := platform.DefaultConfig()

	if path, _ := flags.GetString("config"); path != "" {
		loaded, err := platform.LoadConfig(path)
		if err != nil {
			return nil, err
		}

		cfg = loaded
	}

	if flags.Changed("cores") {
		cfg.NumCores, _ = flags.GetInt("cores")
	}

	if flags.Changed("protocol") {
		cfg.Protocol, _ = flags.GetString("protocol")
	}

	if flags.Changed("shared") {
		cfg.SharedCache, _ = flags.GetString("shared")
	}

	if flags.Changed("pattern") {
		cfg.Workload.Pattern, _ = flags.GetString("pattern")
	}

	if flags.Changed("accesses") {
		cfg.Workload.NumAccesses, _ = flags.GetInt("accesses")
	}

	if flags.Changed("write-ratio") {
		cfg.Workload.WriteRatio, _ = flags.GetFloat64("write-ratio")
	}

	if flags.Changed("trace") {
		cfg.Workload.Traces, _ = flags.GetStringSlice("trace")
	}

	if flags.Changed("seed") {
		cfg.Seed, _ = flags.GetInt64("seed")
	}

	if flags.Changed("writeback-acks") {
		cfg.WritebackAcks, _ = flags.GetBool("writeback-acks")
	}

	if flags.Changed("log-events") {
		cfg.LogEvents, _ = flags.GetBool("log-events")
	}

	if flags.Changed("trace-log") {
		cfg.TraceLog, _ = flags.GetBool("trace-log")
	}

	return cfg, nil
}
