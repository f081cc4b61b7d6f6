package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/mcdev12/tandem/go/internal/backend"
	"github.com/mcdev12/tandem/go/internal/location"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run every component and the local gateway",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		store, err := setupDatabase(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		services, err := setupServices(ctx, store)
		if err != nil {
			return err
		}
		if err := services.Start(ctx); err != nil {
			services.Stop()
			return err
		}

		err = serveUntilSignal(setupGatewayServer(services.Gateway))

		cancel()
		services.Stop()
		log.Info().Msg("tandem shutdown complete")
		return err
	},
}

var (
	locateTimeout time.Duration
	locateSave    bool
)

var locateCmd = &cobra.Command{
	Use:   "locate",
	Short: "Resolve the approximate location once and print it",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), locateTimeout)
		defer cancel()

		var opts []location.Option
		if locateSave {
			store, err := setupDatabase(ctx)
			if err != nil {
				return err
			}
			defer store.Close()
			opts = append(opts, location.WithOnResolved(func(c location.Coordinate) {
				if err := store.SaveCoordinate(ctx, c); err != nil {
					log.Warn().Err(err).Msg("failed to persist coordinate")
				}
			}))
		}

		first, third := setupGeoProviders()
		resolver := location.NewResolver(first, third, cfg.LocationConfig(), opts...)

		coord, err := resolver.Resolve(ctx)
		if err != nil {
			return err
		}
		printCoordinate(coord)
		return nil
	},
}

func printCoordinate(c location.Coordinate) {
	bold := color.New(color.Bold).SprintFunc()
	city := color.GreenString(c.City)
	if !c.HasCity() {
		city = color.YellowString("unknown")
	}

	fmt.Printf("%s %.4f, %.4f\n", bold("Coordinate:"), c.Lat, c.Lng)
	fmt.Printf("%s %s\n", bold("City:      "), city)
	fmt.Printf("%s %s\n", bold("Source:    "), c.Source)
}

var citiesCmd = &cobra.Command{
	Use:   "cities",
	Short: "Print how many devices checked in per city today",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Backend.Timeout)
		defer cancel()

		client := backend.NewClient(backend.NewHTTPClient(cfg.Backend.Timeout), cfg.Backend.URL)
		resp, err := client.GetCityPresenceCounts(ctx, &backend.GetCityPresenceCountsRequest{})
		if err != nil {
			return err
		}

		if len(resp.Cities) == 0 {
			color.Yellow("No check-ins yet")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, color.New(color.Bold).Sprint("CITY\tVISITORS"))
		for _, c := range resp.Cities {
			fmt.Fprintf(w, "%s\t%d\n", c.City, c.VisitorCount)
		}
		return w.Flush()
	},
}

var (
	fakeAddr    string
	fakeLat     float64
	fakeLng     float64
	fakeCity    string
	fakeText    string
	fakeRepeat  int
	fakeSeconds int
	fakeNearby  []int
)

// serveFakeCmd serves an in-memory backend plus the first party geo
// endpoint, enough for `tandem run` to work against localhost.
var serveFakeCmd = &cobra.Command{
	Use:   "serve-fake",
	Short: "Serve an in-memory backend for local development",
	RunE: func(cmd *cobra.Command, args []string) error {
		demo := &demoBackend{
			MemoryService: &backend.MemoryService{NearbyCounts: fakeNearby},
			item: backend.Item{
				ID:               "demo",
				Text:             fakeText,
				SecondsPerRepeat: fakeSeconds,
				RepeatCount:      fakeRepeat,
			},
			startedAt: time.Now(),
		}
		if err := demo.item.Validate(); err != nil {
			return err
		}

		mux := http.NewServeMux()
		mux.Handle("/", backend.NewHandler(demo))
		mux.HandleFunc("/api/geo", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{"lat": fakeLat, "lng": fakeLng, "city": fakeCity})
		})

		log.Info().
			Str("city", fakeCity).
			Ints("nearby_counts", fakeNearby).
			Msg("starting fake backend")
		return serveUntilSignal(setupServer(fakeAddr, mux))
	},
}

// demoBackend loops the configured item forever so the countdown always
// has a live snapshot.
type demoBackend struct {
	*backend.MemoryService
	item      backend.Item
	startedAt time.Time
}

func (d *demoBackend) GetCurrentSnapshot(ctx context.Context, req *backend.GetCurrentSnapshotRequest) (*backend.GetCurrentSnapshotResponse, error) {
	total := int64(d.item.SecondsPerRepeat*d.item.RepeatCount) * 1000
	elapsed := time.Since(d.startedAt).Milliseconds() % total
	return &backend.GetCurrentSnapshotResponse{
		Item:                d.item,
		TotalDurationMs:     total,
		ElapsedAtSnapshotMs: &elapsed,
	}, nil
}

func init() {
	locateCmd.Flags().DurationVar(&locateTimeout, "timeout", 15*time.Second, "overall lookup timeout")
	locateCmd.Flags().BoolVar(&locateSave, "save", false, "persist the coordinate in the device store")

	serveFakeCmd.Flags().StringVar(&fakeAddr, "addr", ":8080", "listen address")
	serveFakeCmd.Flags().Float64Var(&fakeLat, "lat", 52.52, "latitude served on /api/geo")
	serveFakeCmd.Flags().Float64Var(&fakeLng, "lng", 13.405, "longitude served on /api/geo")
	serveFakeCmd.Flags().StringVar(&fakeCity, "city", "Berlin", "city served on /api/geo")
	serveFakeCmd.Flags().StringVar(&fakeText, "text", "Breathe in", "countdown item text")
	serveFakeCmd.Flags().IntVar(&fakeRepeat, "repeats", 3, "countdown repeat count")
	serveFakeCmd.Flags().IntVar(&fakeSeconds, "seconds", 20, "seconds per repeat")
	serveFakeCmd.Flags().IntSliceVar(&fakeNearby, "nearby", []int{3, 9, 9, 2}, "raw nearby counts returned by successive heartbeats")
}
