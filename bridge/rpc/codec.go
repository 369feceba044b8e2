package rpc

import (
	"encoding/json"
	"fmt"
)

// jsonCodec lets connect carry the plain structs of the models package. It is
// registered under "json" so Connect, gRPC-Web and curl clients all speak it.
type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(msg any) ([]byte, error) {
	return json.Marshal(msg)
}

func (jsonCodec) Unmarshal(data []byte, msg any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, msg); err != nil {
		return fmt.Errorf("invalid json body: %w", err)
	}
	return nil
}
