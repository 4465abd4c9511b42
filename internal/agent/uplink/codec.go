package uplink

import (
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/autopeer-io/vandash/internal/supervisor"
)

// EncodeSnapshot marshals the health document of a snapshot as protojson.
func EncodeSnapshot(s supervisor.Snapshot) ([]byte, error) {
	return encode(s.Document())
}

func encode(fields map[string]any) ([]byte, error) {
	st, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, err
	}
	return protojson.Marshal(st)
}

// decode parses a protojson object into plain Go values.
func decode(payload []byte) (map[string]any, error) {
	var st structpb.Struct
	if err := protojson.Unmarshal(payload, &st); err != nil {
		return nil, err
	}
	return st.AsMap(), nil
}
