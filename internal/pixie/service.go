package pixie

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"hagw/pixie-gateway/internal/messaging"
	"hagw/pixie-gateway/internal/model"
	"hagw/pixie-gateway/internal/positioning"
)

// Callback method names, appended to the configured service id.
const (
	MethodGetRawItemLocations = "getrawitemlocations"
	MethodGetItemLocations    = "getitemlocations"
	MethodPing                = "ping"
)

// Status codes returned to callers.
const (
	StatusOK     = 0
	StatusFailed = 1
)

// StatusFetcher reads the raw tag status from the positioning appliance.
type StatusFetcher interface {
	FetchRawStatus(ctx context.Context) (*model.RawStatus, error)
}

// AuditLog persists faults and deliveries. Write failures are logged only.
type AuditLog interface {
	InsertFault(ctx context.Context, f model.Fault) error
	InsertDelivery(ctx context.Context, d model.Delivery) error
}

// Service implements the pixie and core callback services.
type Service struct {
	fetcher StatusFetcher
	engine  *positioning.Engine
	sender  messaging.Sender
	audit   AuditLog
	logger  *slog.Logger
	strict  bool
}

// NewService wires the callback service. audit may be nil. When strict is
// set, callers receive StatusFailed if the appliance was unavailable or the
// delivery failed; otherwise StatusOK is always returned.
func NewService(fetcher StatusFetcher, engine *positioning.Engine, sender messaging.Sender, audit AuditLog, logger *slog.Logger, strict bool) *Service {
	return &Service{
		fetcher: fetcher,
		engine:  engine,
		sender:  sender,
		audit:   audit,
		logger:  logger,
		strict:  strict,
	}
}

// RawStatus fetches the appliance status. Failures are logged and recorded
// and yield a nil status.
func (s *Service) RawStatus(ctx context.Context) (*model.RawStatus, error) {
	raw, err := s.fetcher.FetchRawStatus(ctx)
	if err != nil {
		s.logger.Error("pixie status unavailable", "error", err)
		s.recordFault(ctx, "", err)
		return nil, err
	}
	return raw, nil
}

// Locations fetches the appliance status and calibrates it.
func (s *Service) Locations(ctx context.Context) (*model.LocationReport, error) {
	raw, err := s.RawStatus(ctx)
	if err != nil {
		return nil, err
	}

	result, err := s.engine.ComputeLocations(raw)
	if err != nil {
		return nil, err
	}
	for _, fault := range result.Faults {
		s.recordFault(ctx, fault.Tag, fault)
	}
	return result.Report, nil
}

// GetRawItemLocations sends the uncalibrated appliance status to req.SendTo.
// Tags are accepted but not used for filtering.
func (s *Service) GetRawItemLocations(ctx context.Context, req model.ItemLocationsRequest) model.StatusResponse {
	s.logger.Info("getrawitemlocations", "tags", req.Tags, "sendto", req.SendTo)

	raw, fetchErr := s.RawStatus(ctx)
	var payload any
	if raw != nil {
		payload = raw
	}
	return s.deliver(ctx, MethodGetRawItemLocations, req.SendTo, payload, fetchErr)
}

// GetItemLocations sends the calibrated location report to req.SendTo.
// Tags are accepted but not used for filtering.
func (s *Service) GetItemLocations(ctx context.Context, req model.ItemLocationsRequest) model.StatusResponse {
	s.logger.Info("getitemlocations", "tags", req.Tags, "sendto", req.SendTo)

	report, fetchErr := s.Locations(ctx)
	var payload any
	if report != nil {
		payload = report
	}
	return s.deliver(ctx, MethodGetItemLocations, req.SendTo, payload, fetchErr)
}

// Ping logs the message and acknowledges it.
func (s *Service) Ping(_ context.Context, req model.PingRequest) model.StatusResponse {
	s.logger.Info("core ping", "message", req.Message)
	return model.StatusResponse{Status: StatusOK}
}

// deliver sends payload (null when the appliance was unavailable) and
// derives the caller-visible status.
func (s *Service) deliver(ctx context.Context, method, sendto string, payload any, fetchErr error) model.StatusResponse {
	delivery := model.Delivery{
		ID:        uuid.NewString(),
		Service:   sendto,
		Method:    method,
		Status:    StatusOK,
		CreatedAt: time.Now().UTC(),
	}

	sendErr := s.sender.Send(ctx, sendto, payload)
	if sendErr != nil {
		s.logger.Error("cannot send message", "sendto", sendto, "method", method, "error", sendErr)
		delivery.Status = StatusFailed
		delivery.Error = sendErr.Error()
	} else {
		s.logger.Info("sent message", "sendto", sendto, "method", method, "empty", payload == nil)
	}

	if s.audit != nil {
		if err := s.audit.InsertDelivery(ctx, delivery); err != nil {
			s.logger.Error("failed to persist delivery", "id", delivery.ID, "error", err)
		}
	}

	if s.strict && (fetchErr != nil || sendErr != nil) {
		return model.StatusResponse{Status: StatusFailed}
	}
	return model.StatusResponse{Status: StatusOK}
}

func (s *Service) recordFault(ctx context.Context, tag string, cause error) {
	if s.audit == nil {
		return
	}

	fault := model.Fault{
		Kind:      positioning.KindName(cause),
		Tag:       tag,
		Detail:    cause.Error(),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.audit.InsertFault(ctx, fault); err != nil {
		s.logger.Error("failed to persist fault", "kind", fault.Kind, "error", err)
	}
}
