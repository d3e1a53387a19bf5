package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/joeblew999/plat-alkis/internal/backend"
	"github.com/joeblew999/plat-alkis/internal/config"
	"github.com/joeblew999/plat-alkis/internal/projection"
	"github.com/joeblew999/plat-alkis/internal/service"
	"github.com/joeblew999/plat-alkis/internal/spatialfilter"
)

type askFlags struct {
	filter string
	export string
	sort   string
}

func newAskCommand() *cobra.Command {
	var flags askFlags
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask one question and print the matching buildings",
		Args:  cobra.MinimumNArgs(1),
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			if opts.LogLevel == "" {
				opts.LogLevel = "warn"
			}
			log := newLogger(opts)
			question := strings.Join(args, " ")
			if err := runAsk(cmd.Context(), os.Stdout, opts, flags, question, log); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		}),
	}
	cmd.Flags().StringVar(&flags.filter, "wkt", "", "Restrict the question to a WKT polygon in lon/lat")
	cmd.Flags().StringVarP(&flags.export, "export", "o", "", "Write the buildings to a .geojson or .csv file")
	cmd.Flags().StringVar(&flags.sort, "sort", "area", "Sort the listing by area, name or floors")
	return cmd
}

// parseFilter reads a lon/lat WKT polygon for the spatial filter.
func parseFilter(s string) (orb.Geometry, error) {
	g, err := wkt.Unmarshal(s)
	if err != nil {
		return nil, fmt.Errorf("--wkt: %w", err)
	}
	switch g.(type) {
	case orb.Polygon, orb.MultiPolygon:
		return g, nil
	}
	return nil, fmt.Errorf("--wkt: want a polygon, got %s", g.GeoJSONType())
}

func runAsk(ctx context.Context, out io.Writer, opts *Options, flags askFlags, question string, log *zap.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := opts.serverConfig()
	mapCfg, err := config.Load(cfg.MapConfig)
	if err != nil {
		return err
	}
	tr, err := projection.New(cfg.Zone)
	if err != nil {
		return err
	}
	parser, err := service.NewParser(tr, 0, log)
	if err != nil {
		return err
	}

	bus := service.NewEventBus()
	session := service.NewMapSession(service.NopCanvas{}, mapCfg, log)
	if err := session.Open(); err != nil {
		return err
	}
	defer session.Close()
	if flags.filter != "" {
		g, err := parseFilter(flags.filter)
		if err != nil {
			return err
		}
		if err := session.HandleDraw(service.DrawEvent{Kind: service.DrawCreated, Geometry: g}); err != nil {
			return err
		}
	}

	coord := service.NewCoordinator(service.CoordinatorDeps{
		Backend:   backend.New(cfg.BackendURL),
		Parser:    parser,
		Encoder:   spatialfilter.NewEncoder(tr, log),
		Session:   session,
		Selection: service.NewSelection(),
		Bus:       bus,
		Log:       log,
	}, service.CoordinatorConfig{Stream: cfg.Stream, Timeout: cfg.QueryTimeout})

	events := bus.Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range events {
			if step, ok := ev.Payload.(service.ThinkingStep); ok && ev.Topic == service.TopicThinking {
				fmt.Fprintf(os.Stderr, "... %s\n", step.Content)
			}
		}
	}()
	err = coord.Send(ctx, question)
	bus.Unsubscribe(events)
	<-done

	if err != nil {
		return err
	}
	transcript := coord.Transcript()
	fmt.Fprintln(out, transcript[len(transcript)-1].Content)

	buildings := service.SortBuildings(coord.Buildings(), service.SortKey(flags.sort))
	if len(buildings) > 0 {
		fmt.Fprintln(out)
		printBuildings(out, buildings)
	}
	if flags.export != "" {
		return exportFile(flags.export, buildings)
	}
	return nil
}

func printBuildings(out io.Writer, buildings []service.Building) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tAREA\tFLOORS\tDISTRICT")
	for _, b := range buildings {
		area, floors := "-", "-"
		if b.Area > 0 {
			area = service.FormatArea(b.Area)
		}
		if b.Floors > 0 {
			floors = service.FormatFloors(b.Floors)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", b.ID, b.Name, area, floors, b.District)
	}
	tw.Flush()
}

func exportFile(path string, buildings []service.Building) error {
	x, err := service.NewExporter().ExportAll(buildings)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if strings.HasSuffix(strings.ToLower(path), ".csv") {
		err = x.WriteCSV(f)
	} else {
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		err = enc.Encode(x.Collection)
	}
	if err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}
