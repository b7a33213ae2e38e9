package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"keeper-oracle/src/config"
	pb "keeper-oracle/src/grpc_control"
)

// runStatus prints the status and the feeds of a running oracle.
func runStatus(ctx context.Context, conf *config.Config, out io.Writer) error {
	addr := fmt.Sprintf("%s:%d", conf.GrpcHost, conf.GrpcPort)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	client := pb.NewControlClient(conn)
	status, err := client.GetStatus(ctx)
	if err != nil {
		return fmt.Errorf("get status: %w", err)
	}
	feeds, err := client.ListFeeds(ctx)
	if err != nil {
		return fmt.Errorf("list feeds: %w", err)
	}

	marshal := protojson.MarshalOptions{Multiline: true, Indent: "  "}
	for _, s := range []*structpb.Struct{status, feeds} {
		b, err := marshal.Marshal(s)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(b))
	}
	return nil
}
