package proto

import (
	json "github.com/goccy/go-json"
	"google.golang.org/grpc/encoding"
	pb "google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/encoding/protojson"
)

// Messages travel as JSON under the "json" content-subtype. Well-known
// protobuf types use protojson; the service's own structs use go-json and
// may embed well-known types such as timestamps.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	if m, ok := v.(pb.Message); ok {
		return protojson.Marshal(m)
	}
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if m, ok := v.(pb.Message); ok {
		return protojson.Unmarshal(data, m)
	}
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return "json"
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
