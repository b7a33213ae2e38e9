package main

import (
	"context"
	"fmt"
	"net"
	"time"

	"google.golang.org/grpc"

	"keeper-oracle/src/config"
	datasource "keeper-oracle/src/data_source"
	pb "keeper-oracle/src/grpc_control"
	"keeper-oracle/src/logger"
	"keeper-oracle/src/models"
	"keeper-oracle/src/server"
)

// -----------------------------------------------------------------------------

// servers holds everything startServers launched so shutdown can stop it.
type servers struct {
	api  *server.APIServer
	grpc *grpc.Server
}

// startServers orchestrates the startup of all server components
func startServers(
	srv *server.APIServer,
	feeds *datasource.MultiSourceManager,
	conf *config.Config,
	configPath string,
	appLogger *logger.Logger,
) (*servers, error) {

	// 1. REST + websocket + /metrics
	go func() {
		if err := srv.Start(); err != nil {
			appLogger.Error("Server failed: %v", err)
		}
	}()

	// 2. gRPC Control Server
	addr := fmt.Sprintf("%s:%d", conf.GrpcHost, conf.GrpcPort)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		appLogger.Error("failed to listen for gRPC: %v", err)
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		srv.Stop(stopCtx)
		return nil, err
	}

	grpcServer := grpc.NewServer()
	controlService := pb.NewControlService(feeds, srv, logger.NewLogger(conf, "ControlService"))
	controlService.OnParametersUpdated(persistParameters(conf, configPath))
	pb.RegisterOracleControlServer(grpcServer, controlService)

	go func() {
		appLogger.Info("Starting gRPC Control Server on %s", addr)
		if err := grpcServer.Serve(lis); err != nil {
			appLogger.Error("failed to serve gRPC: %v", err)
		}
	}()

	return &servers{api: srv, grpc: grpcServer}, nil
}

// -----------------------------------------------------------------------------

// persistParameters records a feed parameter change in conf and writes the
// config file, so REST and gRPC updates survive a restart.
func persistParameters(conf *config.Config, configPath string) func(name string, params models.MFeedParameters) error {
	return func(name string, params models.MFeedParameters) error {
		if err := conf.UpdateFeedParameters(name, params); err != nil {
			return err
		}
		return conf.Save(configPath)
	}
}

// -----------------------------------------------------------------------------

// stop shuts the servers down, waiting at most timeout for in-flight requests.
func (s *servers) stop(timeout time.Duration, appLogger *logger.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.api.Stop(ctx); err != nil {
		appLogger.Error("Server shutdown: %v", err)
	}

	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.grpc.Stop()
	}
}
