package cmd

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/Iron-Ham/singleinstance"
	"github.com/Iron-Ham/singleinstance/internal/args"
	appconfig "github.com/Iron-Ham/singleinstance/internal/config"
	"github.com/Iron-Ham/singleinstance/internal/errors"
)

const defaultName = "sictl"

// argSource yields the vector a secondary forwards.
var argSource args.Source = args.Current

var runCmd = &cobra.Command{
	Use:   "run [flags] [-- args...]",
	Short: "Become the first instance, or forward arguments to it",
	Long: `Run as the first instance of NAME for the current user, printing every
argument vector later instances forward, until interrupted.

If a first instance is already running, forward this process's whole
command line to it, program path and flags included, and exit.`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringP("name", "n", defaultName, "unique application name")
	runCmd.Flags().Bool("tui", false, "show an interactive listener view when stdout is a terminal")
	runCmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address while listening (e.g. :9091)")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, _ []string) error {
	cfg, err := appconfig.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	name, _ := cmd.Flags().GetString("name")
	wantTUI, _ := cmd.Flags().GetBool("tui")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

	out := cmd.OutOrStdout()
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := []singleinstance.Option{
		singleinstance.WithArgSource(argSource),
	}

	var reg *prometheus.Registry
	if metricsAddr != "" {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		opts = append(opts, singleinstance.WithRegisterer(reg))
	}

	var (
		target  singleinstance.Invokable
		program *tea.Program
	)
	useTUI := wantTUI && isTerminal(os.Stdout)
	if wantTUI && !useTUI {
		fmt.Fprintln(out, mutedStyle.Render("stdout is not a terminal; using plain output"))
	}
	if useTUI {
		program = tea.NewProgram(newListenModel(name), tea.WithContext(ctx), tea.WithOutput(out))
		target = singleinstance.InvokedFunc(func(argv []string) {
			program.Send(invokedMsg{args: argv, at: time.Now()})
		})
	} else {
		target = newPrinter(out)
	}

	coord, err := singleinstance.NewFromConfig(cfg, opts...)
	if err != nil {
		return err
	}

	first, err := coord.InitializeContext(ctx, target, name)
	if err != nil {
		return describeInitError(cmd.ErrOrStderr(), name, err)
	}
	if !first {
		fmt.Fprintln(out, successStyle.Render("✓")+" forwarded to first instance of "+name)
		return nil
	}
	defer coord.Cleanup()

	if reg != nil {
		shutdown := serveMetrics(metricsAddr, reg, out)
		defer shutdown()
	}

	if program != nil {
		if _, err := program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
			return fmt.Errorf("listener view failed: %w", err)
		}
		return nil
	}

	fmt.Fprintln(out, titleStyle.Render("First instance of "+name)+" "+mutedStyle.Render("(Ctrl+C to stop)"))
	fmt.Fprintln(out, label("identifier", coord.Identifier()))
	<-ctx.Done()
	fmt.Fprintln(out, mutedStyle.Render("stopping"))
	return nil
}

// describeInitError turns a coordinator failure into the error sictl
// reports. Errors meant for users are shown as they are. Internal ones are
// written to w in full and replaced by a short summary.
func describeInitError(w io.Writer, name string, err error) error {
	hint := ""
	if errors.IsRetryable(err) {
		hint = "; try again"
	}
	if errors.IsUserFacing(err) {
		return errors.Wrapf(err, "cannot start %s%s", name, hint)
	}
	fmt.Fprintln(w, mutedStyle.Render("detail: "+err.Error()))
	return fmt.Errorf("could not reach the first instance of %s%s", name, hint)
}

// printer writes each forwarded vector on its own line.
type printer struct {
	mu    sync.Mutex
	out   io.Writer
	count int
}

func newPrinter(out io.Writer) *printer {
	return &printer{out: out}
}

func (p *printer) OnInstanceInvoked(argv []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.count++
	fmt.Fprintf(p.out, "%s %s\n", indexStyle.Render(fmt.Sprintf("#%d", p.count)), formatArgs(argv))
}

// serveMetrics exposes reg on addr until the returned function is called.
func serveMetrics(addr string, reg *prometheus.Registry, out io.Writer) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintln(out, mutedStyle.Render("metrics server: "+err.Error()))
		}
	}()
	fmt.Fprintln(out, label("metrics", "http://"+addr+"/metrics"))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
