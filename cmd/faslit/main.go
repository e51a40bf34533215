package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/faslit/internal/api"
	"github.com/banshee-data/faslit/internal/config"
	"github.com/banshee-data/faslit/internal/db"
	"github.com/banshee-data/faslit/internal/displaymux"
	"github.com/banshee-data/faslit/internal/navigator"
	"github.com/banshee-data/faslit/internal/timeutil"
	"github.com/banshee-data/faslit/internal/tracker"
	"github.com/banshee-data/faslit/internal/v2v"
	"github.com/banshee-data/faslit/internal/version"
)

var (
	devMode      = flag.Bool("dev", false, "Run in dev mode (in-memory journal, replay "+devFixtures+" when present)")
	listen       = flag.String("listen", ":8080", "Listen address")
	configPath   = flag.String("config", "", "Path to tuning config JSON (defaults to "+config.DefaultConfigPath+" when present)")
	journalPath  = flag.String("journal", "", "SQLite journal path (in-memory when empty)")
	replayPath   = flag.String("replay", "", "JSON lines of observations to feed in at startup")
	kafkaBrokers = flag.String("kafka-brokers", "", "Comma-separated Kafka brokers for V2V (disabled when empty)")
	hazardTopic  = flag.String("v2v-hazard-topic", "faslit.v2v.hazards", "Kafka topic for shared hazards")
	exitTopic    = flag.String("v2v-exit-topic", "faslit.v2v.exits", "Kafka topic for passenger exits")
	groupPrefix  = flag.String("kafka-group-prefix", "faslit", "Kafka consumer group prefix")
	showVersion  = flag.Bool("version", false, "Print version and exit")
)

// devFixtures is replayed in dev mode when -replay is not given.
const devFixtures = "fixtures.jsonl"

// splitBrokers parses the -kafka-brokers flag.
func splitBrokers(s string) []string {
	var out []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// loadConfig reads path, or the default tuning file when path is empty and
// the file exists, or falls back to built-in defaults.
func loadConfig(path string) (*config.TuningConfig, error) {
	if path == "" {
		if _, err := os.Stat(config.DefaultConfigPath); err != nil {
			return config.EmptyTuningConfig(), nil
		}
		path = config.DefaultConfigPath
	}
	return config.LoadTuningConfig(path)
}

// replayObservations submits each JSON line in path as an observation.
// Blank lines and lines starting with # are skipped.
func replayObservations(ctx context.Context, nav *navigator.Navigator, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	n := 0
	scanner := bufio.NewScanner(f)
	for line := 1; scanner.Scan(); line++ {
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		var obs tracker.Observation
		if err := json.Unmarshal([]byte(text), &obs); err != nil {
			return n, fmt.Errorf("line %d: %w", line, err)
		}
		if err := nav.Submit(ctx, navigator.ObservationEvent{Observation: obs}); err != nil {
			return n, fmt.Errorf("line %d: %w", line, err)
		}
		n++
	}
	return n, scanner.Err()
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	dsn := *journalPath
	if *devMode {
		dsn = db.MemoryDSN
	}
	journal, err := db.NewDB(dsn)
	if err != nil {
		log.Fatalf("Failed to open journal: %v", err)
	}
	defer journal.Close()

	display := displaymux.New(timeutil.RealClock{})
	defer display.Close()

	opts := []navigator.Option{
		navigator.WithSink(display),
		navigator.WithJournal(journal),
	}

	var (
		broadcaster *v2v.Broadcaster
		listener    *v2v.Listener
	)
	brokers := splitBrokers(*kafkaBrokers)
	vehicleID := cfg.GetVehicleID()
	if len(brokers) > 0 {
		hazardWriter := v2v.NewWriter(brokers, *hazardTopic)
		defer hazardWriter.Close()
		exitWriter := v2v.NewWriter(brokers, *exitTopic)
		defer exitWriter.Close()
		reader := v2v.NewReader(brokers, *hazardTopic, *groupPrefix+"-"+vehicleID)
		defer reader.Close()

		broadcaster = v2v.NewBroadcaster(vehicleID, hazardWriter, exitWriter, cfg.GetEventQueueSize())
		listener = v2v.NewListener(vehicleID, reader, cfg.GetSharedHazardZoneRadiusM())
		opts = append(opts, navigator.WithBroadcaster(broadcaster))
		log.Printf("V2V enabled: brokers=%v hazards=%s exits=%s", brokers, *hazardTopic, *exitTopic)
	}

	nav := navigator.New(cfg, opts...)

	// Create a wait group for the navigator, V2V, and HTTP server routines
	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := nav.Run(ctx); err != nil {
			log.Printf("navigator stopped: %v", err)
		}
		log.Print("navigator routine terminated")
	}()

	if broadcaster != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := broadcaster.Run(ctx); err != nil {
				log.Printf("V2V broadcaster stopped: %v", err)
			}
			sent, dropped := broadcaster.Stats()
			log.Printf("V2V broadcaster terminated: sent=%d dropped=%d", sent, dropped)
		}()
	}
	if listener != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := listener.Run(ctx, func(ctx context.Context, sz v2v.SharedZone) error {
				return nav.Submit(ctx, navigator.SharedHazardEvent{VehicleID: sz.VehicleID, Zone: sz.Zone})
			})
			if err != nil {
				log.Printf("V2V listener stopped: %v", err)
			}
			log.Print("V2V listener terminated")
		}()
	}

	replay := *replayPath
	if replay == "" && *devMode {
		if _, err := os.Stat(devFixtures); err == nil {
			replay = devFixtures
		}
	}
	if replay != "" {
		n, err := replayObservations(ctx, nav, replay)
		if err != nil && !errors.Is(err, navigator.ErrStopped) {
			log.Printf("replay %s stopped after %d observations: %v", replay, n, err)
		} else {
			log.Printf("replayed %d observations from %s", n, replay)
		}
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		srv := api.NewServer(nav,
			api.WithJournal(journal),
			api.WithDisplayStream(http.HandlerFunc(display.ServeSSE)),
			api.WithSharedRadius(cfg.GetSharedHazardZoneRadiusM()),
		)
		mux := srv.ServeMux()
		srv.AttachAdminRoutes(mux)
		display.AttachAdminRoutes(mux)
		journal.AttachAdminRoutes(mux)

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		// Start server in a goroutine so it doesn't block
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()
		log.Printf("%s: vehicle %s listening on %s", version.String(), nav.VehicleID(), *listen)

		// Wait for context cancellation to shut down server
		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			// Force close the server if graceful shutdown fails
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}

		log.Printf("HTTP server routine stopped")
	}()

	// Wait for all goroutines to finish
	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
