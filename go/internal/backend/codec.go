package backend

import (
	"encoding/json"

	"connectrpc.com/connect"
)

// jsonCodec lets Connect carry the plain structs in this package as JSON.
type jsonCodec struct {
	name string
}

var _ connect.Codec = jsonCodec{}

func (c jsonCodec) Name() string { return c.name }

func (c jsonCodec) Marshal(msg any) ([]byte, error) {
	return json.Marshal(msg)
}

func (c jsonCodec) Unmarshal(data []byte, msg any) error {
	return json.Unmarshal(data, msg)
}

func clientCodec() connect.Option {
	return connect.WithCodec(jsonCodec{name: "json"})
}

func handlerCodecs() connect.HandlerOption {
	return connect.WithHandlerOptions(
		connect.WithCodec(jsonCodec{name: "json"}),
		connect.WithCodec(jsonCodec{name: "json; charset=utf-8"}),
	)
}
