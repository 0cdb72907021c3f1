package pubsubproto

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

func (m *FetchRequest) Marshal() ([]byte, error) {
	var buf []byte

	if m.TopicName != "" {
		buf = protowire.AppendTag(buf, 1, protowire.BytesType)
		buf = protowire.AppendString(buf, m.TopicName)
	}
	if m.ReplayPreset != 0 {
		buf = protowire.AppendTag(buf, 2, protowire.VarintType)
		buf = protowire.AppendVarint(buf, uint64(m.ReplayPreset))
	}
	if len(m.ReplayId) > 0 {
		buf = protowire.AppendTag(buf, 3, protowire.BytesType)
		buf = protowire.AppendBytes(buf, m.ReplayId)
	}
	if m.NumRequested != 0 {
		buf = protowire.AppendTag(buf, 4, protowire.VarintType)
		buf = protowire.AppendVarint(buf, uint64(m.NumRequested))
	}

	return buf, nil
}

func (m *FetchRequest) Unmarshal(data []byte) error {
	for len(data) > 0 {
		fieldNumber, fieldType, n, err := consumeTag(data)
		if err != nil {
			return err
		}
		data = data[n:]

		switch fieldNumber {
		case 1:
			value, n, err := consumeString(data)
			if err != nil {
				return err
			}
			m.TopicName = value
			data = data[n:]
		case 2:
			value, n, err := consumeVarint(data)
			if err != nil {
				return err
			}
			m.ReplayPreset = ReplayPreset(value)
			data = data[n:]
		case 3:
			value, n, err := consumeBytes(data)
			if err != nil {
				return err
			}
			m.ReplayId = value
			data = data[n:]
		case 4:
			value, n, err := consumeVarint(data)
			if err != nil {
				return err
			}
			m.NumRequested = int32(value)
			data = data[n:]
		default:
			n, err := skipField(data, fieldNumber, fieldType)
			if err != nil {
				return err
			}
			data = data[n:]
		}
	}
	return nil
}

func (m *FetchResponse) Marshal() ([]byte, error) {
	var buf []byte

	for _, event := range m.Events {
		embedded, err := event.Marshal()
		if err != nil {
			return nil, err
		}
		buf = protowire.AppendTag(buf, 1, protowire.BytesType)
		buf = protowire.AppendBytes(buf, embedded)
	}
	if len(m.LatestReplayId) > 0 {
		buf = protowire.AppendTag(buf, 2, protowire.BytesType)
		buf = protowire.AppendBytes(buf, m.LatestReplayId)
	}
	if m.RpcId != "" {
		buf = protowire.AppendTag(buf, 3, protowire.BytesType)
		buf = protowire.AppendString(buf, m.RpcId)
	}
	if m.PendingNumRequested != 0 {
		buf = protowire.AppendTag(buf, 4, protowire.VarintType)
		buf = protowire.AppendVarint(buf, uint64(m.PendingNumRequested))
	}

	return buf, nil
}

func (m *FetchResponse) Unmarshal(data []byte) error {
	for len(data) > 0 {
		fieldNumber, fieldType, n, err := consumeTag(data)
		if err != nil {
			return err
		}
		data = data[n:]

		switch fieldNumber {
		case 1:
			embedded, n, err := consumeBytes(data)
			if err != nil {
				return err
			}
			event := new(ConsumerEvent)
			if err := event.Unmarshal(embedded); err != nil {
				return err
			}
			m.Events = append(m.Events, event)
			data = data[n:]
		case 2:
			value, n, err := consumeBytes(data)
			if err != nil {
				return err
			}
			m.LatestReplayId = value
			data = data[n:]
		case 3:
			value, n, err := consumeString(data)
			if err != nil {
				return err
			}
			m.RpcId = value
			data = data[n:]
		case 4:
			value, n, err := consumeVarint(data)
			if err != nil {
				return err
			}
			m.PendingNumRequested = int32(value)
			data = data[n:]
		default:
			n, err := skipField(data, fieldNumber, fieldType)
			if err != nil {
				return err
			}
			data = data[n:]
		}
	}
	return nil
}

func (m *ConsumerEvent) Marshal() ([]byte, error) {
	var buf []byte

	if m.Event != nil {
		embedded, err := m.Event.Marshal()
		if err != nil {
			return nil, err
		}
		buf = protowire.AppendTag(buf, 1, protowire.BytesType)
		buf = protowire.AppendBytes(buf, embedded)
	}
	if len(m.ReplayId) > 0 {
		buf = protowire.AppendTag(buf, 2, protowire.BytesType)
		buf = protowire.AppendBytes(buf, m.ReplayId)
	}

	return buf, nil
}

func (m *ConsumerEvent) Unmarshal(data []byte) error {
	for len(data) > 0 {
		fieldNumber, fieldType, n, err := consumeTag(data)
		if err != nil {
			return err
		}
		data = data[n:]

		switch fieldNumber {
		case 1:
			embedded, n, err := consumeBytes(data)
			if err != nil {
				return err
			}
			event := new(ProducerEvent)
			if err := event.Unmarshal(embedded); err != nil {
				return err
			}
			m.Event = event
			data = data[n:]
		case 2:
			value, n, err := consumeBytes(data)
			if err != nil {
				return err
			}
			m.ReplayId = value
			data = data[n:]
		default:
			n, err := skipField(data, fieldNumber, fieldType)
			if err != nil {
				return err
			}
			data = data[n:]
		}
	}
	return nil
}

func (m *ProducerEvent) Marshal() ([]byte, error) {
	var buf []byte

	if m.Id != "" {
		buf = protowire.AppendTag(buf, 1, protowire.BytesType)
		buf = protowire.AppendString(buf, m.Id)
	}
	if m.SchemaId != "" {
		buf = protowire.AppendTag(buf, 2, protowire.BytesType)
		buf = protowire.AppendString(buf, m.SchemaId)
	}
	if len(m.Payload) > 0 {
		buf = protowire.AppendTag(buf, 3, protowire.BytesType)
		buf = protowire.AppendBytes(buf, m.Payload)
	}

	return buf, nil
}

func (m *ProducerEvent) Unmarshal(data []byte) error {
	for len(data) > 0 {
		fieldNumber, fieldType, n, err := consumeTag(data)
		if err != nil {
			return err
		}
		data = data[n:]

		switch fieldNumber {
		case 1:
			value, n, err := consumeString(data)
			if err != nil {
				return err
			}
			m.Id = value
			data = data[n:]
		case 2:
			value, n, err := consumeString(data)
			if err != nil {
				return err
			}
			m.SchemaId = value
			data = data[n:]
		case 3:
			value, n, err := consumeBytes(data)
			if err != nil {
				return err
			}
			m.Payload = value
			data = data[n:]
		default:
			n, err := skipField(data, fieldNumber, fieldType)
			if err != nil {
				return err
			}
			data = data[n:]
		}
	}
	return nil
}

func (m *SchemaRequest) Marshal() ([]byte, error) {
	var buf []byte

	if m.SchemaId != "" {
		buf = protowire.AppendTag(buf, 1, protowire.BytesType)
		buf = protowire.AppendString(buf, m.SchemaId)
	}

	return buf, nil
}

func (m *SchemaRequest) Unmarshal(data []byte) error {
	for len(data) > 0 {
		fieldNumber, fieldType, n, err := consumeTag(data)
		if err != nil {
			return err
		}
		data = data[n:]

		switch fieldNumber {
		case 1:
			value, n, err := consumeString(data)
			if err != nil {
				return err
			}
			m.SchemaId = value
			data = data[n:]
		default:
			n, err := skipField(data, fieldNumber, fieldType)
			if err != nil {
				return err
			}
			data = data[n:]
		}
	}
	return nil
}

func (m *SchemaInfo) Marshal() ([]byte, error) {
	var buf []byte

	if m.SchemaJson != "" {
		buf = protowire.AppendTag(buf, 1, protowire.BytesType)
		buf = protowire.AppendString(buf, m.SchemaJson)
	}
	if m.RpcId != "" {
		buf = protowire.AppendTag(buf, 2, protowire.BytesType)
		buf = protowire.AppendString(buf, m.RpcId)
	}
	if m.SchemaId != "" {
		buf = protowire.AppendTag(buf, 3, protowire.BytesType)
		buf = protowire.AppendString(buf, m.SchemaId)
	}

	return buf, nil
}

func (m *SchemaInfo) Unmarshal(data []byte) error {
	for len(data) > 0 {
		fieldNumber, fieldType, n, err := consumeTag(data)
		if err != nil {
			return err
		}
		data = data[n:]

		switch fieldNumber {
		case 1:
			value, n, err := consumeString(data)
			if err != nil {
				return err
			}
			m.SchemaJson = value
			data = data[n:]
		case 2:
			value, n, err := consumeString(data)
			if err != nil {
				return err
			}
			m.RpcId = value
			data = data[n:]
		case 3:
			value, n, err := consumeString(data)
			if err != nil {
				return err
			}
			m.SchemaId = value
			data = data[n:]
		default:
			n, err := skipField(data, fieldNumber, fieldType)
			if err != nil {
				return err
			}
			data = data[n:]
		}
	}
	return nil
}

func consumeTag(data []byte) (protowire.Number, protowire.Type, int, error) {
	fieldNumber, fieldType, n := protowire.ConsumeTag(data)
	if n < 0 {
		return 0, 0, 0, protowire.ParseError(n)
	}
	return fieldNumber, fieldType, n, nil
}

func consumeVarint(data []byte) (uint64, int, error) {
	value, n := protowire.ConsumeVarint(data)
	if n < 0 {
		return 0, 0, protowire.ParseError(n)
	}
	return value, n, nil
}

func consumeBytes(data []byte) ([]byte, int, error) {
	value, n := protowire.ConsumeBytes(data)
	if n < 0 {
		return nil, 0, protowire.ParseError(n)
	}
	copied := make([]byte, len(value))
	copy(copied, value)
	return copied, n, nil
}

func consumeString(data []byte) (string, int, error) {
	value, n := protowire.ConsumeBytes(data)
	if n < 0 {
		return "", 0, protowire.ParseError(n)
	}
	return string(value), n, nil
}

func skipField(data []byte, fieldNumber protowire.Number, fieldType protowire.Type) (int, error) {
	n := protowire.ConsumeFieldValue(fieldNumber, fieldType, data)
	if n < 0 {
		return 0, fmt.Errorf("unable to skip field %d: %w", fieldNumber, protowire.ParseError(n))
	}
	return n, nil
}
