package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/iotinspector/inspector/announce"
	"github.com/iotinspector/inspector/capture"
	"github.com/iotinspector/inspector/config"
	"github.com/iotinspector/inspector/forwarding"
	"github.com/iotinspector/inspector/hoststate"
	"github.com/iotinspector/inspector/identity"
	"github.com/iotinspector/inspector/inspector"
	"github.com/iotinspector/inspector/log"
	"github.com/iotinspector/inspector/metrics"
	"github.com/iotinspector/inspector/netinfo"
	"github.com/iotinspector/inspector/packet"
	"github.com/iotinspector/inspector/sock"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const (
	shutdownTimeout = 5 * time.Second
	statusInterval  = time.Minute
)

var (
	cfg         = config.NewConfig()
	verboseFlag string
	showVersion bool
	Version     = "dev"
	Commit      = "none"
	Date        = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "inspector",
	Short: "IoT Inspector network monitor",
	Long: `IoT Inspector discovers the devices on the local network, observes their
traffic and uploads an anonymized summary to the hosted report.`,
	RunE:         runInspector,
	SilenceUsage: true,
}

func init() {
	cfg.BindFlags(rootCmd)

	rootCmd.Flags().StringVar(&verboseFlag, "verbose", "info", "Set verbosity level (debug, trace, info, error, silent)")
	rootCmd.Flags().BoolVarP(&showVersion, "version", "v", false, "Show version and exit")
}

func main() {
	if err := preloadConfig(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// preloadConfig loads --config before cobra parses the command line, so
// explicit flags override the file.
func preloadConfig(args []string) error {
	fs := pflag.NewFlagSet("preload", pflag.ContinueOnError)
	fs.ParseErrorsWhitelist.UnknownFlags = true
	fs.SetOutput(io.Discard)
	fs.Usage = func() {}

	var path string
	fs.StringVar(&path, "config", "", "")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("parse arguments: %w", err)
	}
	if path == "" {
		return nil
	}
	return cfg.LoadOrInit(path)
}

func runInspector(cmd *cobra.Command, args []string) error {
	if showVersion {
		fmt.Printf("IoT Inspector version: %s (%s) %s\n", Version, Commit, Date)
		return nil
	}

	if cmd.Flags().Changed("verbose") {
		cfg.ApplyLogLevel(verboseFlag)
	}
	if err := initLogging(&cfg); err != nil {
		return fmt.Errorf("logging initialization failed: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return log.Errorf("invalid configuration: %v", err)
	}
	printConfigDefaults(cmd)

	m := metrics.GetCollector()
	m.RecordEvent("info", "Inspector starting up")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := resolveState(ctx)
	if err != nil {
		m.RecordEvent("error", fmt.Sprintf("Startup failed: %v", err))
		return log.Errorf("startup failed: %v", err)
	}

	sender := sock.NewSender(capture.Injector(st.Network().Interface))
	var group *inspector.Group
	sess, err := startSession(forwarding.New(), !cfg.NoSpoofing, func() {
		group = inspector.Launch(ctx, st, plan(&cfg, sender), cfg.NoSpoofing)
	})
	if err != nil {
		return err
	}
	m.RecordEvent("info", fmt.Sprintf("Workers started: %v", group.Started()))
	go logStatus(ctx, m, statusInterval)

	var opener announce.Opener
	if cfg.Session.OpenBrowser {
		opener = announce.SystemOpener
	}
	announce.Announce(os.Stdout, cfg.Server.BaseURL, st.Identity(), st.PersistentMode(), opener)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	log.Infof("Received signal: %v, shutting down gracefully", sig)
	m.RecordEvent("info", fmt.Sprintf("Shutdown initiated by signal: %v", sig))

	return gracefulShutdown(cancel, group, sender, sess, m)
}

func resolveState(ctx context.Context) (*hoststate.State, error) {
	store := &identity.Store{
		Path:     cfg.IdentityPath(),
		Fallback: identity.LocalProvisioner{},
	}
	if cfg.Server.NewUserURL != "" {
		store.Primary = &identity.RemoteProvisioner{
			URL:    cfg.Server.NewUserURL,
			Client: &http.Client{Timeout: cfg.ServerTimeout()},
		}
	}
	resolver := netinfo.NewResolver(cfg.Network.Interface)

	return hoststate.Resolve(ctx,
		func(ctx context.Context) (identity.HostIdentity, error) {
			return identity.Resolve(ctx, store)
		},
		resolver.Resolve,
		cfg.Session.Persistent,
		packet.New,
	)
}

func gracefulShutdown(cancel context.CancelFunc, group *inspector.Group, sender *sock.Sender, sess *forwardingSession, m *metrics.Collector) error {
	cancel()

	var errs []error
	if !group.WaitTimeout(shutdownTimeout) {
		errs = append(errs, log.Errorf("Shutdown timeout reached, some workers are still running"))
		m.RecordEvent("error", "Forced shutdown due to timeout")
	}
	sender.Close()

	if err := sess.stop(); err != nil {
		errs = append(errs, err)
	}

	for _, line := range m.Report() {
		log.Infof("%s", line)
	}

	if len(errs) > 0 {
		log.Errorf("Shutdown completed with %d errors", len(errs))
	} else {
		log.Infof("Shutdown complete")
	}
	log.CloseErrorFile()
	log.Flush()
	return errors.Join(errs...)
}

// logStatus writes the collector's status line every interval until ctx ends.
func logStatus(ctx context.Context, m *metrics.Collector, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			log.Infof("Status: %s", m.StatusLine())
		}
	}
}

func initLogging(cfg *config.Config) error {
	log.Init(os.Stderr, cfg.Logging.Level, cfg.Logging.Instaflush)

	if cfg.Logging.Syslog {
		if err := log.EnableSyslog("iot-inspector"); err != nil {
			return log.Errorf("Failed to enable syslog: %v", err)
		}
		log.Infof("Syslog enabled")
	}

	if cfg.Logging.ErrorFile != "" {
		if err := log.InitErrorFile(cfg.Logging.ErrorFile); err != nil {
			log.Errorf("Failed to open error log file: %v", err)
		} else {
			log.Infof("Error logging to file: %s", cfg.Logging.ErrorFile)
		}
	}
	return nil
}

func printConfigDefaults(cmd *cobra.Command) {
	var all []*pflag.Flag
	cmd.Flags().VisitAll(func(f *pflag.Flag) { all = append(all, f) })
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })

	line := ""
	for _, f := range all {
		if line != "" {
			line += " "
		}
		line += fmt.Sprintf("--%s=%s", f.Name, f.Value.String())
	}
	log.Tracef("Effective CLI flags: %s", line)
}
