package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/ohowland/cgc_dispatch/internal/pkg/comm/modbuscomm"
	"github.com/ohowland/cgc_dispatch/internal/pkg/config"
	"github.com/ohowland/cgc_dispatch/internal/pkg/datastreams/mongodb"
	"github.com/ohowland/cgc_dispatch/internal/pkg/datastreams/natshandler"
	"github.com/ohowland/cgc_dispatch/internal/pkg/datastreams/sqldb"
	"github.com/ohowland/cgc_dispatch/internal/pkg/hmi"
	"github.com/ohowland/cgc_dispatch/internal/pkg/routine"
	"github.com/ohowland/cgc_dispatch/internal/pkg/solver"
	"github.com/ohowland/cgc_dispatch/internal/pkg/system"
	"github.com/ohowland/cgc_dispatch/internal/pkg/webservice"
	"github.com/spf13/cobra"
)

var (
	systemPath    string
	casePath      string
	optionsPath   string
	telemetryPath string
	jsonOutput    bool

	webPath    string
	natsPath   string
	mongoPath  string
	sqlPath    string
	showHMI    bool
	runOnStart []string

	rootCmd = &cobra.Command{
		Use:   "cgc_dispatch",
		Short: "Grid dispatch and power flow routines over a device case",
		Long: `cgc_dispatch binds power flow, optimal power flow, economic dispatch
and unit commitment routines to a device case, runs them through solver
adapters and writes the results back onto the case.`,
		SilenceUsage: true,
	}

	runCmd = &cobra.Command{
		Use:   "run [routine]",
		Short: "Run one routine and print its report",
		Args:  cobra.ExactArgs(1),
		RunE:  runRoutine,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve routine results over HTTP and stream run reports",
		RunE:  serve,
	}

	routinesCmd = &cobra.Command{
		Use:   "routines",
		Short: "List the routine catalogue",
		RunE:  listRoutines,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&systemPath, "system", "./config/system.json", "system config file")
	rootCmd.PersistentFlags().StringVar(&casePath, "case", "", "case file, overrides the system config")

	runCmd.Flags().StringVar(&optionsPath, "options", "", "solver options file (JSON or YAML)")
	runCmd.Flags().StringVar(&telemetryPath, "telemetry", "", "modbus telemetry config, synced before and dispatched after the run")
	runCmd.Flags().BoolVar(&jsonOutput, "json", false, "print the report as JSON")

	serveCmd.Flags().StringVar(&webPath, "webservice", "", "web service config, defaults to port 8080")
	serveCmd.Flags().StringVar(&natsPath, "nats", "", "NATS datastream config")
	serveCmd.Flags().StringVar(&mongoPath, "mongo", "", "MongoDB datastream config")
	serveCmd.Flags().StringVar(&sqlPath, "sql", "", "SQL datastream config")
	serveCmd.Flags().BoolVar(&showHMI, "hmi", false, "show the terminal HMI")
	serveCmd.Flags().StringSliceVar(&runOnStart, "run", nil, "routines to run once the service is up")

	rootCmd.AddCommand(runCmd, serveCmd, routinesCmd)
}

func loadSystem() (*system.System, error) {
	cfg, err := system.LoadConfig(systemPath)
	if err != nil {
		return nil, err
	}
	if casePath != "" {
		cfg.Case = casePath
	}
	sys := system.NewWithConfig(cfg, nil)
	if cfg.Case != "" {
		if err := sys.LoadCase(cfg.Case); err != nil {
			return nil, err
		}
	}
	return sys, sys.Setup()
}

func loadOptions(path string) (*solver.Options, error) {
	if path == "" {
		return nil, nil
	}
	opts := solver.DefaultOptions()
	if err := config.Load(path, &opts); err != nil {
		return nil, err
	}
	return &opts, nil
}

func runRoutine(cmd *cobra.Command, args []string) error {
	sys, err := loadSystem()
	if err != nil {
		return err
	}
	opts, err := loadOptions(optionsPath)
	if err != nil {
		return err
	}

	var tel *modbuscomm.Telemetry
	if telemetryPath != "" {
		t, err := modbuscomm.New(telemetryPath)
		if err != nil {
			return err
		}
		tel = &t
		if err := tel.Sync(sys); err != nil {
			log.Printf("[Main] WARN telemetry sync: %v\n", err)
		}
	}

	report, err := sys.Run(cmd.Context(), args[0], opts)
	if err != nil {
		return err
	}
	if tel != nil && report.Success {
		if err := tel.Dispatch(sys); err != nil {
			log.Printf("[Main] WARN telemetry dispatch: %v\n", err)
		}
	}
	return printReport(cmd.OutOrStdout(), sys, report)
}

func printReport(w io.Writer, sys *system.System, report routine.Report) error {
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Routine\t%s\n", report.Routine)
	fmt.Fprintf(tw, "Exit code\t%d\n", report.ExitCode)
	fmt.Fprintf(tw, "Exec time\t%.4f s\n", report.ExecTime)
	fmt.Fprintf(tw, "Objective\t%.4f\n", report.Objective)
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "Model\tIdx\tP (MW)")
	for _, model := range []string{"Slack", "PV"} {
		idx, p, err := sys.Values(model, "p")
		if err != nil {
			return err
		}
		for i := range idx {
			fmt.Fprintf(tw, "%s\t%v\t%.2f\n", model, idx[i], p[i]*sys.BaseMVA())
		}
	}
	return tw.Flush()
}

func listRoutines(cmd *cobra.Command, args []string) error {
	sys, err := loadSystem()
	if err != nil {
		return err
	}
	summaries, err := sys.Summaries()
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "Name\tInfo\tAlgorithm\tState")
	for _, s := range summaries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.Name, s.Info, s.Algorithm, s.State)
	}
	return tw.Flush()
}

func serve(cmd *cobra.Command, args []string) error {
	sys, err := loadSystem()
	if err != nil {
		return err
	}
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := linkDatastreams(sys); err != nil {
		return err
	}

	app := &webservice.App{Source: sys}
	if webPath != "" {
		if err := config.Load(webPath, &app.Config); err != nil {
			return err
		}
	}
	go func() {
		if err := app.ListenAndServe(); err != nil {
			log.Printf("[Main] WARN server: %v\n", err)
			cancel()
		}
	}()

	for _, name := range runOnStart {
		if _, err := sys.Run(ctx, name, nil); err != nil {
			log.Printf("[Main] WARN run %s: %v\n", name, err)
		}
	}

	if showHMI {
		err := hmi.Run(ctx, sys, sys.BaseMVA())
		cancel()
		return err
	}
	<-ctx.Done()
	log.Println("[Main] Stopping system")
	return nil
}

func linkDatastreams(sys *system.System) error {
	if natsPath != "" {
		h, err := natshandler.New(natsPath, sys)
		if err != nil {
			return err
		}
		go logExit("NATS", h.Process)
	}
	if mongoPath != "" {
		h, err := mongodb.New(mongoPath, sys)
		if err != nil {
			return err
		}
		go logExit("Mongo", h.Process)
	}
	if sqlPath != "" {
		h, err := sqldb.New(sqlPath, sys)
		if err != nil {
			return err
		}
		go logExit("SQL", h.Process)
	}
	return nil
}

func logExit(name string, process func() error) {
	if err := process(); err != nil {
		log.Printf("[Main] WARN %s datastream stopped: %v\n", name, err)
	}
}
