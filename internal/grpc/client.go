package grpc

import (
	"context"

	"google.golang.org/grpc"

	"github.com/mr1hm/disaster-live-feed/internal/models"
)

// AlertStream is the client side of a Subscribe call.
type AlertStream struct {
	stream grpc.ClientStream
}

// SubscribeAlerts opens a Subscribe stream on cc. Cancel ctx to end it.
func SubscribeAlerts(ctx context.Context, cc grpc.ClientConnInterface, req *SubscribeRequest) (*AlertStream, error) {
	stream, err := cc.NewStream(ctx, &alertFeedDesc.Streams[0], subscribeMethod, grpc.CallContentSubtype(codecName))
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(req); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &AlertStream{stream: stream}, nil
}

// Recv blocks for the next event. It returns io.EOF when the server ends
// the stream.
func (a *AlertStream) Recv() (models.AlertEvent, error) {
	var ev models.AlertEvent
	err := a.stream.RecvMsg(&ev)
	return ev, err
}
