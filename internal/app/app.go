package app

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"

	"hagw/pixie-gateway/internal/appliance"
	"hagw/pixie-gateway/internal/config"
	"hagw/pixie-gateway/internal/messaging"
	"hagw/pixie-gateway/internal/model"
	"hagw/pixie-gateway/internal/mqttbroker"
	"hagw/pixie-gateway/internal/pixie"
	"hagw/pixie-gateway/internal/positioning"
	"hagw/pixie-gateway/internal/store"
)

// App wires together the gateway services and manages their lifecycle.
type App struct {
	cfg     config.Config
	logger  *slog.Logger
	store   *store.Store
	broker  *mqttbroker.Broker
	service *pixie.Service
	mdns    *zeroconf.Server

	requests sync.WaitGroup
}

// New constructs a new application instance.
func New(cfg config.Config, logger *slog.Logger) *App {
	return &App{cfg: cfg, logger: logger}
}

// Run starts all configured services and blocks until the context is cancelled or an error occurs.
func (a *App) Run(ctx context.Context) error {
	db, err := store.Open(a.cfg.DatabasePath)
	if err != nil {
		return err
	}
	a.store = db

	defer func() {
		if cerr := a.store.Close(); cerr != nil {
			a.logger.Error("close store", "error", cerr)
		}
	}()

	if err := a.store.InitSchema(ctx); err != nil {
		return err
	}

	broker := mqttbroker.New(a.logger)
	broker.SetPublishHandler(a.handleMQTTPublish)

	var sender messaging.Sender
	if a.cfg.ServiceEdgeBroker != "" {
		clientSender, err := messaging.DialClientSender(ctx, a.cfg.ServiceEdgeBroker, a.cfg.TopicPrefix, a.cfg.SendTimeout, a.logger)
		if err != nil {
			return err
		}
		defer clientSender.Close()
		sender = clientSender
	} else {
		sender = messaging.NewBrokerSender(broker, a.cfg.TopicPrefix, a.cfg.SendTimeout, a.logger)
	}

	fetcher := appliance.New(a.cfg.ApplianceURL, a.cfg.FetchTimeout, a.logger)
	engine := positioning.NewEngine(a.cfg.ReferencePoints, a.cfg.Dimensions, a.logger)
	a.service = pixie.NewService(fetcher, engine, sender, a.store, a.logger, a.cfg.StrictStatus)

	brokerErrCh, err := broker.Start(ctx, a.cfg.MQTTBindAddress)
	if err != nil {
		return err
	}
	a.broker = broker

	httpErrCh := make(chan error, 1)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.HTTPPort),
		Handler:           a.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", "addr", httpServer.Addr, "service_id", a.cfg.ServiceID)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErrCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	if a.cfg.MDNSEnabled {
		if err := a.startMDNS(a.cfg.HTTPPort, mqttPort(broker.Addr())); err != nil {
			a.logger.Warn("mDNS advertisement failed", "error", err)
		}
	}
	defer a.stopMDNS()

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("http server shutdown: %w", err)
			}
			a.logger.Info("http server stopped")

			if err := a.broker.Stop(); err != nil {
				return err
			}
			a.requests.Wait()
			a.logger.Info("mqtt broker stopped")
			return nil
		case err := <-httpErrCh:
			if err != nil {
				_ = a.broker.Stop()
				return err
			}
		case err, ok := <-brokerErrCh:
			if !ok {
				brokerErrCh = nil
				continue
			}
			if err != nil {
				_ = httpServer.Shutdown(context.Background())
				_ = a.broker.Stop()
				return err
			}
		}
	}
}

func mqttPort(addr net.Addr) int {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.Port
	}
	return 0
}

// requestTopic returns the MQTT topic on which method requests are accepted.
func (a *App) requestTopic(method string) string {
	topic := strings.Trim(a.cfg.ServiceID, "/") + "/" + method
	if prefix := strings.Trim(a.cfg.TopicPrefix, "/"); prefix != "" {
		topic = prefix + "/" + topic
	}
	return topic
}

func (a *App) handleMQTTPublish(ctx context.Context, msg mqttbroker.Message) {
	switch msg.Topic {
	case a.requestTopic(pixie.MethodGetItemLocations):
		a.dispatchMQTTRequest(ctx, msg, a.service.GetItemLocations)
	case a.requestTopic(pixie.MethodGetRawItemLocations):
		a.dispatchMQTTRequest(ctx, msg, a.service.GetRawItemLocations)
	default:
		// replies and unrelated traffic are forwarded only
	}
}

// dispatchMQTTRequest runs the request off the connection's read loop so a
// slow appliance fetch does not stall the publishing client.
func (a *App) dispatchMQTTRequest(ctx context.Context, msg mqttbroker.Message, op func(context.Context, model.ItemLocationsRequest) model.StatusResponse) {
	req, err := decodeItemLocations(msg.Payload)
	if err != nil {
		a.logger.Warn("mqtt request rejected", "topic", msg.Topic, "client", msg.ClientID, "error", err)
		return
	}

	a.requests.Add(1)
	go func() {
		defer a.requests.Done()
		resp := op(ctx, req)
		a.logger.Debug("mqtt request handled", "topic", msg.Topic, "client", msg.ClientID, "status", resp.Status)
	}()
}

func (a *App) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", a.handleHealthz)
	mux.HandleFunc("/readyz", a.handleReadyz)
	mux.HandleFunc("/rpc", a.handleRPC)
	mux.HandleFunc("/api/locations", a.handleLocations)
	mux.HandleFunc("/api/raw", a.handleRaw)
	mux.HandleFunc("/api/faults", a.handleRecentFaults)
	mux.HandleFunc("/api/deliveries", a.handleRecentDeliveries)
	mux.HandleFunc("/api/export/faults", a.handleExportFaults)
	mux.HandleFunc("/api/config", a.handleConfig)
	mux.HandleFunc("/api/admin/wipe", a.handleWipeDatabase)
	return mux
}

func (a *App) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (a *App) handleReadyz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if a.store == nil || a.service == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"starting"}`))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.store.Ping(ctx); err != nil {
		a.logger.Warn("readiness: store unreachable", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"store unavailable"}`))
		return
	}
	_, _ = w.Write([]byte(`{"status":"ready"}`))
}

func (a *App) handleLocations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	report, err := a.service.Locations(r.Context())
	if err != nil {
		http.Error(w, "positioning appliance unavailable", http.StatusServiceUnavailable)
		return
	}

	a.writeJSON(w, report)
}

func (a *App) handleRaw(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	raw, err := a.service.RawStatus(r.Context())
	if err != nil {
		http.Error(w, "positioning appliance unavailable", http.StatusServiceUnavailable)
		return
	}

	a.writeJSON(w, raw)
}

func (a *App) handleRecentFaults(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if a.store == nil {
		http.Error(w, "store not initialized", http.StatusServiceUnavailable)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	faults, err := a.store.RecentFaults(ctx, queryLimit(r, 50, 500))
	if err != nil {
		a.logger.Error("failed to load faults", "error", err)
		http.Error(w, "failed to load faults", http.StatusInternalServerError)
		return
	}

	a.writeJSON(w, struct {
		Faults []model.Fault `json:"faults"`
	}{Faults: faults})
}

func (a *App) handleRecentDeliveries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if a.store == nil {
		http.Error(w, "store not initialized", http.StatusServiceUnavailable)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	deliveries, err := a.store.RecentDeliveries(ctx, queryLimit(r, 50, 500))
	if err != nil {
		a.logger.Error("failed to load deliveries", "error", err)
		http.Error(w, "failed to load deliveries", http.StatusInternalServerError)
		return
	}

	a.writeJSON(w, struct {
		Deliveries []model.Delivery `json:"deliveries"`
	}{Deliveries: deliveries})
}

func queryLimit(r *http.Request, fallback, max int) int {
	limit := fallback
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			if parsed > 0 && parsed <= max {
				limit = parsed
			}
		}
	}
	return limit
}

func (a *App) handleExportFaults(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if a.store == nil {
		http.Error(w, "store not initialized", http.StatusServiceUnavailable)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	faults, err := a.store.AllFaults(ctx)
	if err != nil {
		a.logger.Error("export: failed to load faults", "error", err)
		http.Error(w, "failed to load faults", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename=hagw_pixie_faults.csv")

	csvWriter := csv.NewWriter(w)
	defer csvWriter.Flush()

	if err := csvWriter.Write([]string{"created_at", "kind", "tag", "detail"}); err != nil {
		a.logger.Error("export: failed to write header", "error", err)
		return
	}

	for _, f := range faults {
		row := []string{
			f.CreatedAt.UTC().Format(time.RFC3339Nano),
			f.Kind,
			f.Tag,
			f.Detail,
		}
		if err := csvWriter.Write(row); err != nil {
			a.logger.Error("export: failed to write row", "error", err)
			return
		}
	}

	if err := csvWriter.Error(); err != nil {
		a.logger.Error("export: writer error", "error", err)
	}
}

func (a *App) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	active := map[string]any{
		"http_port":           a.cfg.HTTPPort,
		"mqtt_bind":           a.cfg.MQTTBindAddress,
		"service_edge_broker": a.cfg.ServiceEdgeBroker,
		"appliance_url":       a.cfg.ApplianceURL,
		"reference_points":    a.cfg.ReferencePoints,
		"dimensions":          a.cfg.Dimensions,
		"fetch_timeout":       a.cfg.FetchTimeout.String(),
		"send_timeout":        a.cfg.SendTimeout.String(),
		"service_id":          a.cfg.ServiceID,
		"topic_prefix":        a.cfg.TopicPrefix,
		"database_path":       a.cfg.DatabasePath,
		"log_level":           a.cfg.LogLevel,
		"mdns_enabled":        a.cfg.MDNSEnabled,
		"strict_status":       a.cfg.StrictStatus,
	}

	a.writeJSON(w, struct {
		Active map[string]any `json:"active"`
	}{Active: active})
}

func (a *App) handleWipeDatabase(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if a.store == nil {
		http.Error(w, "store not initialized", http.StatusServiceUnavailable)
		return
	}

	var body struct {
		Confirm string `json:"confirm"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	if strings.ToLower(strings.TrimSpace(body.Confirm)) != "wipe" {
		http.Error(w, "confirmation required", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := a.store.WipeData(ctx); err != nil {
		a.logger.Error("wipe: failed", "error", err)
		http.Error(w, "failed to wipe data", http.StatusInternalServerError)
		return
	}

	a.logger.Warn("wipe: audit tables cleared")
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Error("failed to encode response", "error", err)
	}
}
