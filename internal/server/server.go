package server

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"go.uber.org/zap"

	"github.com/joeblew999/plat-alkis/internal/api"
	"github.com/joeblew999/plat-alkis/internal/api/ui"
	"github.com/joeblew999/plat-alkis/internal/backend"
	"github.com/joeblew999/plat-alkis/internal/config"
	"github.com/joeblew999/plat-alkis/internal/db"
	"github.com/joeblew999/plat-alkis/internal/metrics"
	"github.com/joeblew999/plat-alkis/internal/projection"
	"github.com/joeblew999/plat-alkis/internal/service"
	"github.com/joeblew999/plat-alkis/internal/spatialfilter"
	"github.com/joeblew999/plat-alkis/internal/templates"
	"github.com/joeblew999/plat-alkis/internal/tiler"
)

// Config holds the server configuration.
type Config struct {
	Host         string
	Port         string
	BackendURL   string        // question-answering service, e.g. http://localhost:8000/api
	WebDir       string        // Path to web/ directory for static files and templates
	DataDir      string        // DuckDB files; empty keeps statistics in memory
	MapConfig    string        // YAML file with map, base layer and style settings
	Zone         int           // UTM zone of the backend's projected coordinates
	Stream       bool          // ask the backend for streamed answers
	QueryTimeout time.Duration // 0 uses the default, negative disables
}

// Server is the ALKIS explorer HTTP server.
type Server struct {
	config   Config
	log      *zap.Logger
	mux      *http.ServeMux
	humaAPI  huma.API
	db       *sql.DB
	bus      *service.EventBus
	metrics  *metrics.Metrics
	services *api.Services
	renderer *templates.Renderer
}

// New wires all services and routes.
func New(cfg Config, log *zap.Logger) (*Server, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Zone == 0 {
		cfg.Zone = projection.DefaultZone
	}

	mapCfg, err := config.Load(cfg.MapConfig)
	if err != nil {
		return nil, err
	}
	tr, err := projection.New(cfg.Zone)
	if err != nil {
		return nil, err
	}
	parser, err := service.NewParser(tr, 0, log.Named("parser"))
	if err != nil {
		return nil, err
	}
	tiles, err := tiler.New(256)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()

	humaConfig := huma.DefaultConfig("plat-alkis API", api.Version)
	humaConfig.Info.Description = "Natural-language exploration of ALKIS building data in Berlin."
	humaConfig.Servers = []*huma.Server{
		{URL: fmt.Sprintf("http://%s:%s", cfg.Host, cfg.Port), Description: "Local server"},
	}
	// Disable $schema property in responses (cleaner JSON)
	humaConfig.CreateHooks = []func(huma.Config) huma.Config{}
	humaConfig.Transformers = append(humaConfig.Transformers, api.LinkTransformer())

	s := &Server{
		config:  cfg,
		log:     log,
		mux:     mux,
		humaAPI: humago.New(mux, humaConfig),
		bus:     service.NewEventBus(),
		metrics: metrics.New(),
	}

	session := service.NewMapSession(service.NewBusCanvas(s.bus), mapCfg, log.Named("map"))
	if err := session.Open(); err != nil {
		return nil, err
	}
	client := backend.New(cfg.BackendURL)
	coord := service.NewCoordinator(service.CoordinatorDeps{
		Backend:   client,
		Parser:    parser,
		Encoder:   spatialfilter.NewEncoder(tr, log.Named("filter")),
		Session:   session,
		Selection: service.NewSelection(),
		Tiles:     tiles,
		Bus:       s.bus,
		Metrics:   s.metrics,
		Log:       log.Named("chat"),
	}, service.CoordinatorConfig{Stream: cfg.Stream, Timeout: cfg.QueryTimeout})

	s.services = &api.Services{
		Backend:     client,
		Coordinator: coord,
		Session:     session,
		Exporter:    service.NewExporter(),
		Tiles:       tiles,
		Config:      mapCfg,
	}

	conn, err := db.Open(db.Config{DataDir: cfg.DataDir, DBName: "alkis"})
	if err != nil {
		log.Warn("statistics disabled", zap.Error(err))
	} else {
		s.db = conn
		s.services.Stats = service.NewStats(conn)
	}

	if cfg.WebDir != "" {
		fragmentsDir := filepath.Join(cfg.WebDir, "templates", "fragments")
		r, err := templates.New(fragmentsDir)
		if err != nil {
			log.Warn("UI disabled, fragment templates not loaded", zap.String("dir", fragmentsDir), zap.Error(err))
		} else {
			s.renderer = r
			log.Info("loaded fragment templates", zap.String("dir", fragmentsDir))
		}
	}

	s.routes()
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// OpenAPI returns the generated API description.
func (s *Server) OpenAPI() *huma.OpenAPI {
	return s.humaAPI.OpenAPI()
}

// Close closes the map session and the statistics database.
func (s *Server) Close() error {
	if err := s.services.Session.Close(); err != nil {
		s.log.Debug("closing map session", zap.Error(err))
	}
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Server) routes() {
	// Register Huma REST API routes (OpenAPI-documented JSON endpoints)
	api.RegisterRoutes(s.humaAPI, s.services)
	api.NewInfoHandler(s.config.BackendURL, s.config.Zone, s.config.Stream, s.services.Stats != nil).
		RegisterRoutes(s.humaAPI)

	// Register UI SSE routes using Huma + Datastar SDK
	if s.renderer != nil {
		ui.New(s.services, s.bus, s.renderer, s.log.Named("ui")).RegisterRoutes(s.humaAPI)
	}

	s.mux.Handle("/metrics", s.metrics.Handler())

	if s.config.WebDir != "" {
		staticDir := filepath.Join(s.config.WebDir, "static")
		s.mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.Dir(staticDir))))
	}

	s.mux.HandleFunc("/", s.handleRoot)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if s.renderer != nil {
		page := filepath.Join(s.config.WebDir, "templates", "index.html")
		if _, err := os.Stat(page); err == nil {
			http.ServeFile(w, r, page)
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"service": "plat-alkis",
		"status":  "running",
	})
}
