package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/joeblew999/plat-alkis/internal/config"
	"github.com/joeblew999/plat-alkis/internal/logger"
	"github.com/joeblew999/plat-alkis/internal/server"
)

// Options defines all CLI flags and env vars for the explorer.
// Flags: --host, --port, --backend-url, --web-dir, --data-dir, --config, --zone,
// --stream, --query-timeout, --log-level, --environment
// Env vars: SERVICE_HOST, SERVICE_PORT, SERVICE_BACKEND_URL, ...
type Options struct {
	Host         string `doc:"Host to bind to" default:"0.0.0.0"`
	Port         int    `doc:"Port to listen on" short:"p" default:"8086"`
	BackendURL   string `doc:"Question-answering service URL" default:"http://localhost:8000/api"`
	WebDir       string `doc:"Path to web/ directory" default:"web"`
	DataDir      string `doc:"Directory for the statistics database, empty keeps it in memory" default:""`
	Config       string `doc:"Map configuration file (YAML)" default:"alkis.yaml"`
	Zone         int    `doc:"UTM zone of the backend's coordinates" default:"33"`
	Stream       bool   `doc:"Request streamed answers with progress notifications" default:"false"`
	QueryTimeout int    `doc:"Seconds to wait for an answer, 0 for the default, -1 to wait forever" default:"0"`
	LogLevel     string `doc:"Log level: debug, info, warn, error" default:""`
	Environment  string `doc:"development or production" default:"development"`
}

func (o *Options) serverConfig() server.Config {
	timeout := time.Duration(o.QueryTimeout) * time.Second
	if o.QueryTimeout < 0 {
		timeout = -1
	}
	return server.Config{
		Host:         o.Host,
		Port:         fmt.Sprintf("%d", o.Port),
		BackendURL:   o.BackendURL,
		WebDir:       o.WebDir,
		DataDir:      o.DataDir,
		MapConfig:    o.Config,
		Zone:         o.Zone,
		Stream:       o.Stream,
		QueryTimeout: timeout,
	}
}

func newLogger(opts *Options) *zap.Logger {
	log, err := logger.New(logger.Config{Environment: opts.Environment, Level: opts.LogLevel})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	return log
}

func newServer(opts *Options, log *zap.Logger) *server.Server {
	srv, err := server.New(opts.serverConfig(), log)
	if err != nil {
		log.Fatal("server setup failed", zap.Error(err))
	}
	return srv
}

func main() {
	if err := config.LoadEnv(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	cli := humacli.New(func(hooks humacli.Hooks, opts *Options) {
		log := newLogger(opts)
		srv := newServer(opts, log)
		httpSrv := &http.Server{
			Addr:    fmt.Sprintf("%s:%d", opts.Host, opts.Port),
			Handler: srv,
		}

		hooks.OnStart(func() {
			defer logger.Sync(log)
			displayHost := opts.Host
			if displayHost == "0.0.0.0" {
				displayHost = "localhost"
			}
			baseURL := fmt.Sprintf("http://%s:%d", displayHost, opts.Port)

			fmt.Println()
			fmt.Printf("plat-alkis explorer starting...\n")
			fmt.Printf("  Explorer: %s/\n", baseURL)
			fmt.Printf("  Backend:  %s\n", opts.BackendURL)
			fmt.Println()
			fmt.Printf("  Docs:     %s/docs\n", baseURL)
			fmt.Printf("  OpenAPI:  %s/openapi.json\n", baseURL)
			fmt.Printf("  Metrics:  %s/metrics\n", baseURL)
			fmt.Println()

			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatal("server error", zap.Error(err))
			}
		})

		hooks.OnStop(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := httpSrv.Shutdown(ctx); err != nil {
				log.Warn("shutdown", zap.Error(err))
			}
			if err := srv.Close(); err != nil {
				log.Warn("closing server", zap.Error(err))
			}
		})
	})

	cli.Root().Use = "alkis"
	cli.Root().Short = "Explore ALKIS building data in Berlin with natural-language questions"
	cli.Root().Version = "1.0.0"

	// spec subcommand: export OpenAPI spec
	specCmd := &cobra.Command{
		Use:   "spec",
		Short: "Export OpenAPI spec (JSON by default, --yaml for YAML)",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			srv := newServer(opts, zap.NewNop())
			defer srv.Close()
			spec := srv.OpenAPI()

			useYAML, _ := cmd.Flags().GetBool("yaml")

			var output []byte
			var err error
			if useYAML {
				output, err = yaml.Marshal(spec)
			} else {
				output, err = json.MarshalIndent(spec, "", "  ")
			}
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error marshaling spec: %v\n", err)
				os.Exit(1)
			}
			fmt.Println(string(output))
		}),
	}
	specCmd.Flags().BoolP("yaml", "y", false, "Output as YAML instead of JSON")
	cli.Root().AddCommand(specCmd)

	cli.Root().AddCommand(newAskCommand())

	cli.Run()
}
