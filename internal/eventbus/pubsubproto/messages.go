// Package pubsubproto carries the wire messages of the eventbus.v1.PubSub
// gRPC service.  The messages are encoded by hand with protowire, which
// keeps the module free of generated bindings while staying byte compatible
// with the broker's protobuf contract.
package pubsubproto

// ReplayPreset selects where a subscription starts in the event stream.
type ReplayPreset int32

const (
	ReplayPresetLatest   ReplayPreset = 0
	ReplayPresetEarliest ReplayPreset = 1
	ReplayPresetCustom   ReplayPreset = 2
)

// FetchRequest asks the broker for more events on an open subscribe stream.
// The first request on a stream carries the topic and the replay position;
// subsequent requests only top up NumRequested.
type FetchRequest struct {
	TopicName    string
	ReplayPreset ReplayPreset
	ReplayId     []byte
	NumRequested int32
}

// FetchResponse delivers a batch of events.  LatestReplayId is the durable
// checkpoint to persist once the batch has been processed.
type FetchResponse struct {
	Events              []*ConsumerEvent
	LatestReplayId      []byte
	RpcId               string
	PendingNumRequested int32
}

type ConsumerEvent struct {
	Event    *ProducerEvent
	ReplayId []byte
}

// ProducerEvent is an Avro payload plus the schema it was written with.
type ProducerEvent struct {
	Id       string
	SchemaId string
	Payload  []byte
}

type SchemaRequest struct {
	SchemaId string
}

type SchemaInfo struct {
	SchemaJson string
	RpcId      string
	SchemaId   string
}
