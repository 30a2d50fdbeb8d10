package types

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// commands travel through the raft log as a google.protobuf.Struct
// {"type": "<command type>", "payload": {...}}

// serializes a command for replication
func EncodeCommand(cmd Command) ([]byte, error) {
	payload, err := toMap(cmd)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", cmd.Type(), err)
	}

	wrapper, err := structpb.NewStruct(map[string]any{
		"type":    cmd.Type().String(),
		"payload": payload,
	})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", cmd.Type(), err)
	}

	return proto.Marshal(wrapper)
}

// inverse of EncodeCommand
func DecodeCommand(data []byte) (Command, error) {
	var wrapper structpb.Struct
	if err := proto.Unmarshal(data, &wrapper); err != nil {
		return nil, fmt.Errorf("decode command: %w", err)
	}

	payload := wrapper.GetFields()["payload"].GetStructValue()
	if payload == nil {
		return nil, fmt.Errorf("decode command: missing payload")
	}

	raw, err := protojson.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("decode command: %w", err)
	}

	typ := wrapper.GetFields()["type"].GetStringValue()
	switch typ {
	case CommandTypeInsertRecord.String():
		var c InsertRecordCmd
		err = json.Unmarshal(raw, &c)
		return c, err
	case CommandTypeSwapLock.String():
		var c SwapLockCmd
		err = json.Unmarshal(raw, &c)
		return c, err
	case CommandTypeReplaceFields.String():
		var c ReplaceFieldsCmd
		err = json.Unmarshal(raw, &c)
		return c, err
	case CommandTypeDeleteRecord.String():
		var c DeleteRecordCmd
		err = json.Unmarshal(raw, &c)
		return c, err
	default:
		return nil, fmt.Errorf("decode command: unknown type %q", typ)
	}
}

// converts an event to the struct message carried on the grpc stream
func EventToStruct(ev *Event) (*structpb.Struct, error) {
	m, err := toMap(ev)
	if err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

func EventFromStruct(s *structpb.Struct) (*Event, error) {
	raw, err := protojson.Marshal(s)
	if err != nil {
		return nil, err
	}
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

func toMap(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}
