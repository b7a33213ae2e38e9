package grpc_control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	datasource "keeper-oracle/src/data_source"
	"keeper-oracle/src/helpers"
	"keeper-oracle/src/interfaces"
	"keeper-oracle/src/logger"
	"keeper-oracle/src/models"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// StateProvider exposes the last published aggregation state.
type StateProvider interface {
	LatestState() models.MLatestData
}

// ControlService implements OracleControlServer
type ControlService struct {
	Feeds  interfaces.IFeedController
	State  StateProvider
	Logger *logger.Logger

	// onUpdate persists accepted parameter changes, e.g. into the config file.
	onUpdate func(name string, params models.MFeedParameters) error
}

// NewControlService creates a new instance of ControlService
func NewControlService(feeds interfaces.IFeedController, state StateProvider, log *logger.Logger) *ControlService {
	if log == nil {
		log = logger.NewLogger(nil, "Control")
	}
	return &ControlService{
		Feeds:  feeds,
		State:  state,
		Logger: log,
	}
}

// OnParametersUpdated registers a hook run after a successful parameter update.
func (s *ControlService) OnParametersUpdated(fn func(name string, params models.MFeedParameters) error) {
	s.onUpdate = fn
}

// -----------------------------------------------------------------------------

func (s *ControlService) ListFeeds(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	feeds, err := toList(s.Feeds.Statuses())
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode feeds: %v", err)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{"feeds": structpb.NewListValue(feeds)}}, nil
}

// -----------------------------------------------------------------------------

func (s *ControlService) GetPrice(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	state := s.State.LatestState()
	out := map[string]interface{}{
		"price":         nil,
		"usdt_usd_rate": nil,
		"timestamp":     state.Timestamp,
	}
	if state.Price != nil {
		out["price"] = *state.Price
	}
	if state.UsdtUsdRate != nil {
		out["usdt_usd_rate"] = *state.UsdtUsdRate
	}
	if state.Cycle != nil {
		out["method"] = state.Cycle.Method
		out["valid_feeds"] = state.Cycle.ValidFeeds
		out["total_feeds"] = state.Cycle.TotalFeeds
	}
	return toStruct(out)
}

// -----------------------------------------------------------------------------

func (s *ControlService) GetStatus(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	price, err := s.GetPrice(ctx, nil)
	if err != nil {
		return nil, err
	}
	feeds, err := s.ListFeeds(ctx, nil)
	if err != nil {
		return nil, err
	}
	price.Fields["feeds"] = feeds.Fields["feeds"]
	return price, nil
}

// -----------------------------------------------------------------------------

// UpdateFeedParameters expects {"name": ..., "window_sec"?, "startup_window_sec"?, "min_notional"?}.
func (s *ControlService) UpdateFeedParameters(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	name := req.GetFields()["name"].GetStringValue()
	if name == "" {
		return nil, status.Error(codes.InvalidArgument, "name is required")
	}

	var params models.MFeedParameters
	raw, err := req.MarshalJSON()
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "bad request: %v", err)
	}
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "bad parameters: %v", err)
	}
	if params.WindowSec == nil && params.StartupWindowSec == nil && params.MinNotional == nil {
		return nil, status.Error(codes.InvalidArgument, "no parameter to update")
	}

	if err := s.Feeds.UpdateParameters(name, params); err != nil {
		return nil, toStatus(err)
	}
	s.Logger.Info("gRPC: updated parameters of %s", name)

	if s.onUpdate != nil {
		if err := s.onUpdate(name, params); err != nil {
			s.Logger.Error("gRPC: failed to persist parameters of %s: %v", name, err)
		}
	}

	for _, st := range s.Feeds.Statuses() {
		if st.Name == name {
			return toStruct(st)
		}
	}
	return toStruct(map[string]interface{}{"name": name})
}

// -----------------------------------------------------------------------------

func (s *ControlService) StartFeed(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	name := req.GetFields()["name"].GetStringValue()
	if name == "" {
		return nil, status.Error(codes.InvalidArgument, "name is required")
	}
	if err := s.Feeds.StartSource(name); err != nil {
		if errors.Is(err, datasource.ErrSourceNotFound) {
			return nil, toStatus(err)
		}
		return controlResponse(false, err.Error(), "stopped")
	}
	return controlResponse(true, fmt.Sprintf("Started %s", name), "running")
}

// -----------------------------------------------------------------------------

func (s *ControlService) StopFeed(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	name := req.GetFields()["name"].GetStringValue()
	if name == "" {
		return nil, status.Error(codes.InvalidArgument, "name is required")
	}
	if err := s.Feeds.StopSource(name); err != nil {
		if errors.Is(err, datasource.ErrSourceNotFound) {
			return nil, toStatus(err)
		}
		return controlResponse(false, err.Error(), "unknown")
	}
	return controlResponse(true, fmt.Sprintf("Stopped %s", name), "stopped")
}

// -----------------------------------------------------------------------------
// Conversion helpers
// -----------------------------------------------------------------------------

func controlResponse(success bool, message, state string) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]interface{}{
		"success":       success,
		"message":       message,
		"current_state": state,
	})
}

func toStatus(err error) error {
	var validation *helpers.ValidationError
	switch {
	case errors.Is(err, datasource.ErrSourceNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.As(err, &validation):
		return status.Error(codes.InvalidArgument, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// toStruct goes through JSON so struct tags decide the field names.
func toStruct(v interface{}) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	out := &structpb.Struct{}
	if err := out.UnmarshalJSON(raw); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

func toList(v interface{}) (*structpb.ListValue, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := &structpb.ListValue{}
	if err := out.UnmarshalJSON(raw); err != nil {
		return nil, err
	}
	return out, nil
}
