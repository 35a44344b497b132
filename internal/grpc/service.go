package grpc

import (
	"google.golang.org/grpc"
)

const (
	ServiceName     = "disasterfeed.v1.AlertFeed"
	subscribeMethod = "/" + ServiceName + "/Subscribe"
)

// SubscribeRequest narrows a subscription. Empty fields match everything.
type SubscribeRequest struct {
	DisasterType string `json:"disaster_type,omitempty"`
	MinSeverity  string `json:"min_severity,omitempty"`
}

// AlertFeedServer is implemented by *Server. Subscribe sends one
// models.AlertEvent message per broadcast until the client goes away.
type AlertFeedServer interface {
	Subscribe(req *SubscribeRequest, stream grpc.ServerStream) error
}

var alertFeedDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AlertFeedServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Subscribe",
			Handler:       subscribeHandler,
			ServerStreams: true,
		},
	},
	Metadata: "disasterfeed/v1/alert_feed",
}

func subscribeHandler(srv any, stream grpc.ServerStream) error {
	req := new(SubscribeRequest)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(AlertFeedServer).Subscribe(req, stream)
}
