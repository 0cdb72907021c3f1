package pubsubproto

import (
	"fmt"
)

type wireMarshaler interface {
	Marshal() ([]byte, error)
}

type wireUnmarshaler interface {
	Unmarshal(data []byte) error
}

// Codec plugs the hand-encoded messages into grpc via grpc.ForceCodec.
type Codec struct{}

func (Codec) Marshal(v interface{}) ([]byte, error) {
	message, ok := v.(wireMarshaler)
	if !ok {
		return nil, fmt.Errorf("unable to marshal message of type %T", v)
	}
	return message.Marshal()
}

func (Codec) Unmarshal(data []byte, v interface{}) error {
	message, ok := v.(wireUnmarshaler)
	if !ok {
		return fmt.Errorf("unable to unmarshal message of type %T", v)
	}
	return message.Unmarshal(data)
}

func (Codec) Name() string {
	return "proto"
}
