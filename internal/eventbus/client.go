package eventbus

import (
	"context"

	"github.com/syncstack/crm-connector/internal/eventbus/pubsubproto"

	"google.golang.org/grpc"
)

const (
	subscribeMethod = "/eventbus.v1.PubSub/Subscribe"
	getSchemaMethod = "/eventbus.v1.PubSub/GetSchema"
)

var subscribeStreamDesc = &grpc.StreamDesc{
	StreamName:    "Subscribe",
	ServerStreams: true,
	ClientStreams: true,
}

// PubSubClient speaks the eventbus.v1.PubSub service over an existing
// channel.  The RPCs are driven directly through the connection so the
// hand-encoded messages can travel without generated bindings.
type PubSubClient struct {
	grpcConn *grpc.ClientConn
}

func NewPubSubClient(grpcConn *grpc.ClientConn) *PubSubClient {
	return &PubSubClient{grpcConn: grpcConn}
}

// SubscribeStream is the bidirectional fetch stream.  The client requests
// batches with Send and the broker delivers them through Recv.
type SubscribeStream struct {
	grpc.ClientStream
}

func (s *SubscribeStream) Send(request *pubsubproto.FetchRequest) error {
	return s.SendMsg(request)
}

func (s *SubscribeStream) Recv() (*pubsubproto.FetchResponse, error) {
	response := new(pubsubproto.FetchResponse)
	if err := s.RecvMsg(response); err != nil {
		return nil, err
	}
	return response, nil
}

func (c *PubSubClient) Subscribe(ctx context.Context) (*SubscribeStream, error) {
	clientStream, err := c.grpcConn.NewStream(ctx, subscribeStreamDesc, subscribeMethod,
		grpc.ForceCodec(pubsubproto.Codec{}))
	if err != nil {
		return nil, err
	}
	return &SubscribeStream{ClientStream: clientStream}, nil
}

func (c *PubSubClient) GetSchema(ctx context.Context, schemaId string) (*pubsubproto.SchemaInfo, error) {
	schemaInfo := new(pubsubproto.SchemaInfo)
	err := c.grpcConn.Invoke(ctx, getSchemaMethod, &pubsubproto.SchemaRequest{SchemaId: schemaId}, schemaInfo,
		grpc.ForceCodec(pubsubproto.Codec{}))
	if err != nil {
		return nil, err
	}
	return schemaInfo, nil
}
