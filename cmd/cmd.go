// Package cmd implements the phoeup command
//
// It is in a sub package so its internals can be re-used by the
// subcommands.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ianusa/phoeup/backend/phoestorage"
	"github.com/ianusa/phoeup/lib/errs"
	"github.com/ianusa/phoeup/lib/metrics"
	"github.com/ianusa/phoeup/uploader"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rclone/rclone/fs"
	"github.com/rclone/rclone/fs/fshttp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Root is the main phoeup command
var Root = &cobra.Command{
	Use:   "phoeup",
	Short: "Upload files and folder trees to a PhoeStorage server",
	Long: `
phoeup uploads files to a PhoeStorage server in 10 MiB chunks sent in
parallel. Directories are recreated as remote folders below the
destination folder.

Options can be given as flags, as PHOEUP_<NAME> environment variables or
in a YAML file named with --config, in that order of precedence.
`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Global flags
var (
	verbose int
)

// Options which live outside the backend
const (
	keyConfig      = "config"
	keyFolder      = "folder"
	keyMetricsAddr = "metrics_addr"
)

func init() {
	pflags := Root.PersistentFlags()
	pflags.String(FlagName(keyConfig), "", "YAML config file")
	pflags.String(FlagName(keyFolder), "", "ID of the destination folder")
	pflags.String(FlagName(keyMetricsAddr), "", "Serve prometheus metrics on this address, eg localhost:9090")
	pflags.CountVarP(&verbose, "verbose", "v", "Print lots more stuff (repeat for more)")
	addBackendFlags(pflags)
}

// addBackendFlags makes a flag for every client option
func addBackendFlags(flags *pflag.FlagSet) {
	for _, opt := range phoestorage.OptionsInfo {
		name := FlagName(opt.Name)
		if flags.Lookup(name) != nil {
			fs.Errorf(nil, "Not adding duplicate flag --%s", name)
			continue
		}
		// Take first line of help only
		help := strings.TrimSpace(opt.Help)
		if nl := strings.IndexRune(help, '\n'); nl >= 0 {
			help = help[:nl]
		}
		def := ""
		if opt.Default != nil {
			def = fmt.Sprint(opt.Default)
		}
		flag := flags.VarPF(&stringValue{value: def}, name, "", help)
		flag.DefValue = def
	}
}

// stringValue is a pflag.Value holding the raw text so the backend can
// parse it with the rest of its config
type stringValue struct {
	value string
}

func (s *stringValue) String() string     { return s.value }
func (s *stringValue) Set(v string) error { s.value = v; return nil }
func (s *stringValue) Type() string       { return "string" }

// Env is what a subcommand needs to run
type Env struct {
	Config   Layers
	Client   *phoestorage.Client
	Uploader *uploader.Uploader
	Metrics  *metrics.Metrics
	Progress *Progress
	FolderID string // destination folder
}

// setLogLevel maps -v to the rclone log level
func setLogLevel(ctx context.Context) {
	ci := fs.GetConfig(ctx)
	switch {
	case verbose >= 2:
		ci.LogLevel = fs.LogLevelDebug
	case verbose == 1:
		ci.LogLevel = fs.LogLevelInfo
	}
}

// newEnv reads the config and connects the client
func newEnv(ctx context.Context, command *cobra.Command) (*Env, error) {
	layers, err := NewLayers(command.Flags(), os.LookupEnv)
	if err != nil {
		return nil, err
	}
	folderID, _ := layers.Get(keyFolder)
	if folderID == "" {
		return nil, errs.NewValidation(keyFolder, fmt.Sprintf("a destination folder is required, use --%s or %s", keyFolder, EnvName(keyFolder)))
	}
	env := &Env{
		Config:   layers,
		FolderID: folderID,
		Progress: NewProgress(),
	}
	// metrics first so the http transport of the client reports to them
	if addr, _ := layers.Get(keyMetricsAddr); addr != "" {
		reg := prometheus.NewRegistry()
		env.Metrics = metrics.New(reg)
		m := fshttp.NewMetrics("phoeup")
		for _, c := range m.Collectors() {
			reg.MustRegister(c)
		}
		fshttp.DefaultMetrics = m
		if err := serveMetrics(ctx, addr, reg); err != nil {
			return nil, err
		}
	}
	client, err := phoestorage.NewClient(ctx, layers)
	if err != nil {
		return nil, err
	}
	env.Client = client
	env.Uploader = uploader.New(client, uploader.Options{
		Concurrency: client.Options().UploadConcurrency,
		Metrics:     env.Metrics,
	})
	return env, nil
}

// serveMetrics serves reg on addr until ctx is done
func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen for metrics: %w", err)
	}
	router := chi.NewRouter()
	router.Get("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}).ServeHTTP)
	srv := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		err := srv.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			fs.Errorf(nil, "metrics server: %v", err)
		}
	}()
	context.AfterFunc(ctx, func() {
		_ = srv.Close()
	})
	fs.Infof(nil, "Serving metrics on http://%s/metrics", ln.Addr())
	return nil
}

// signalContext returns a context which is cancelled by the first of
// sigs. The signals are released as soon as one arrives so a second
// one has its default effect and kills the process.
func signalContext(parent context.Context, sigs ...os.Signal) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(parent, sigs...)
	context.AfterFunc(ctx, stop)
	return ctx, stop
}

// Run sets up the environment for a subcommand and calls f with it.
//
// The context passed to f is cancelled on SIGINT or SIGTERM so uploads
// wind down cleanly. Interrupting again kills phoeup.
func Run(command *cobra.Command, f func(ctx context.Context, env *Env) error) error {
	ctx, stop := signalContext(command.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	setLogLevel(ctx)
	env, err := newEnv(ctx, command)
	if err != nil {
		return err
	}
	stopProgress := env.Progress.Start()
	err = f(ctx, env)
	stopProgress()
	return err
}

// Main runs phoeup interpreting flags and commands out of os.Args
func Main() {
	if err := Root.ExecuteContext(context.Background()); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}
