package server

import (
	"connectrpc.com/connect"
	"github.com/fxamacker/cbor/v2"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/dynamicpb"
)

// cborCodec is the default connect codec of the exec service. Messages are
// plain structs with integer-keyed CBOR tags.
type cborCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

func newCBORCodec() *cborCodec {
	enc, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic("server: cbor enc mode: " + err.Error())
	}
	dec, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("server: cbor dec mode: " + err.Error())
	}
	return &cborCodec{enc: enc, dec: dec}
}

func (c *cborCodec) Name() string { return "cbor" }

func (c *cborCodec) Marshal(msg any) ([]byte, error) {
	return c.enc.Marshal(msg)
}

func (c *cborCodec) Unmarshal(data []byte, msg any) error {
	return c.dec.Unmarshal(data, msg)
}

// protoCodec encodes the message structs as binary protobuf through their
// dynamic descriptors. It takes the "proto" name, so the handlers also
// serve gRPC and gRPC-Web clients.
type protoCodec struct{}

func (protoCodec) Name() string { return "proto" }

func (protoCodec) Marshal(msg any) ([]byte, error) {
	m, err := toDynamic(msg)
	if err != nil {
		return nil, err
	}
	return proto.Marshal(m)
}

func (protoCodec) Unmarshal(data []byte, msg any) error {
	md, err := MessageDescriptor(msg)
	if err != nil {
		return err
	}
	m := dynamicpb.NewMessage(md)
	if err := proto.Unmarshal(data, m); err != nil {
		return err
	}
	return fromDynamic(m, msg)
}

// jsonCodec is the protobuf JSON mapping of the message structs. Connect
// knows JSON under two content types, so it is registered under both.
type jsonCodec struct {
	name string
}

func (c jsonCodec) Name() string { return c.name }

func (jsonCodec) Marshal(msg any) ([]byte, error) {
	m, err := toDynamic(msg)
	if err != nil {
		return nil, err
	}
	return protojson.Marshal(m)
}

func (jsonCodec) Unmarshal(data []byte, msg any) error {
	md, err := MessageDescriptor(msg)
	if err != nil {
		return err
	}
	m := dynamicpb.NewMessage(md)
	if err := (protojson.UnmarshalOptions{DiscardUnknown: true}).Unmarshal(data, m); err != nil {
		return err
	}
	return fromDynamic(m, msg)
}

// handlerCodecs registers every codec the exec service speaks. The proto
// and json entries replace connect's defaults, which only accept generated
// messages.
func handlerCodecs() []connect.HandlerOption {
	return []connect.HandlerOption{
		connect.WithCodec(newCBORCodec()),
		connect.WithCodec(protoCodec{}),
		connect.WithCodec(jsonCodec{name: "json"}),
		connect.WithCodec(jsonCodec{name: "json; charset=utf-8"}),
	}
}

// WithProto makes a Client send binary protobuf instead of CBOR. Combined
// with connect.WithGRPC it talks to any gRPC server of the service.
func WithProto() connect.ClientOption { return connect.WithCodec(protoCodec{}) }

// WithJSON makes a Client send protobuf JSON instead of CBOR.
func WithJSON() connect.ClientOption { return connect.WithCodec(jsonCodec{name: "json"}) }
