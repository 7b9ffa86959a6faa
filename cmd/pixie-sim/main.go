package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"hagw/pixie-gateway/internal/appliance"
	"hagw/pixie-gateway/internal/model"
)

type simTag struct {
	id   string
	x, y float64
}

func main() {
	addr := flag.String("addr", ":3000", "Listen address for the simulated appliance")
	refA := flag.String("ref-a", "D78D11E03AC8", "First reference tag id, placed at (0,0)")
	refB := flag.String("ref-b", "DC955EBFD1C1", "Second reference tag id, placed at (baseline,0)")
	baseline := flag.Float64("baseline", 200, "Distance between the reference tags")
	tagsFlag := flag.String("tags", "keys:100:112,bag:40:80", "Comma separated id:x:y tag positions")
	offline := flag.String("offline", "wallet", "Comma separated ids reported as Disconnected")
	jitter := flag.Float64("jitter", 2, "Maximum random jitter applied to ranges")
	username := flag.String("username", "sim@example.com", "Username reported by the appliance")

	flag.Parse()

	tags, err := parseTags(*tagsFlag)
	if err != nil {
		log.Fatalf("invalid -tags: %v", err)
	}

	handler := func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		status := snapshot(*username, *refA, *refB, *baseline, *jitter, tags, splitList(*offline))
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(status); err != nil {
			log.Printf("encode status: %v", err)
			return
		}
		log.Printf("served status for %d tags", len(status.PixiePoints))
	}

	mux := http.NewServeMux()
	mux.HandleFunc(appliance.StatusPath, handler)

	srv := &http.Server{Addr: *addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("simulated appliance listening on %s%s", *addr, appliance.StatusPath)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("listen: %v", err)
	}
	log.Print("received shutdown signal, exiting")
}

func snapshot(username, refA, refB string, baseline, jitter float64, tags []simTag, offline []string) model.RawStatus {
	points := map[string]model.TagReading{
		refA: {Status: model.StatusConnected, TagName: "Reference A", Range: map[string]float64{refB: noisy(baseline, jitter)}},
		refB: {Status: model.StatusConnected, TagName: "Reference B", Range: map[string]float64{refA: noisy(baseline, jitter)}},
	}

	for _, tag := range tags {
		points[tag.id] = model.TagReading{
			Status:  model.StatusConnected,
			TagName: tag.id,
			Range: map[string]float64{
				refA: noisy(math.Hypot(tag.x, tag.y), jitter),
				refB: noisy(math.Hypot(tag.x-baseline, tag.y), jitter),
			},
		}
	}

	for _, id := range offline {
		points[id] = model.TagReading{Status: "Disconnected", TagName: id, Range: map[string]float64{}}
	}

	return model.RawStatus{Username: username, PixiePoints: points}
}

func noisy(v, jitter float64) float64 {
	if jitter <= 0 {
		return v
	}
	return math.Max(0, v+(rand.Float64()*2-1)*jitter)
}

func parseTags(v string) ([]simTag, error) {
	var tags []simTag
	for _, entry := range splitList(v) {
		parts := strings.Split(entry, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("expected id:x:y, got %q", entry)
		}
		x, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			return nil, fmt.Errorf("tag %s: %w", parts[0], err)
		}
		y, err := strconv.ParseFloat(parts[2], 64)
		if err != nil {
			return nil, fmt.Errorf("tag %s: %w", parts[0], err)
		}
		tags = append(tags, simTag{id: parts[0], x: x, y: y})
	}
	return tags, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
