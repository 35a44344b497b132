package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	internalgrpc "github.com/mr1hm/disaster-live-feed/internal/grpc"
)

func watchCmd() *cobra.Command {
	var (
		addr  string
		req   internalgrpc.SubscribeRequest
		count int
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print live alerts from the feed's gRPC stream",
		Long: `Subscribe to the running feed server and print each alert as JSON.

Examples:
  # Everything, until interrupted
  report-seed watch

  # First three High floods
  report-seed watch --type Flood --min-severity High --count 3`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
			if err != nil {
				return fmt.Errorf("connecting to %s: %w", addr, err)
			}
			defer conn.Close()

			return runWatch(ctx, conn, &req, cmd.OutOrStdout(), count)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "localhost:50051", "Feed server gRPC address")
	cmd.Flags().StringVarP(&req.DisasterType, "type", "t", "", "Only this disaster type")
	cmd.Flags().StringVarP(&req.MinSeverity, "min-severity", "s", "", "Low, Medium or High")
	cmd.Flags().IntVarP(&count, "count", "n", 0, "Stop after this many alerts (0 for no limit)")

	return cmd
}

// runWatch prints alerts until count is reached, the server ends the stream
// or ctx is cancelled.
func runWatch(ctx context.Context, cc grpc.ClientConnInterface, req *internalgrpc.SubscribeRequest, out io.Writer, count int) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := internalgrpc.SubscribeAlerts(ctx, cc, req)
	if err != nil {
		return err
	}

	for seen := 0; count <= 0 || seen < count; seen++ {
		ev, err := stream.Recv()
		if errors.Is(err, io.EOF) || status.Code(err) == codes.Canceled {
			return nil
		}
		if err != nil {
			return err
		}
		if err := printJSON(out, ev); err != nil {
			return err
		}
	}
	return nil
}
