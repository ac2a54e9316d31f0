package wire

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
)

var ErrUnknownCodec = errors.New("unknown codec")

// Codec turns messages into WebSocket frames and back.
type Codec interface {
	Name() string
	// FrameType is the websocket message type frames are written with.
	FrameType() int
	Encode(*Message) ([]byte, error)
	Decode([]byte) (*Message, error)
}

const (
	CodecJSON    = "json"
	CodecMsgpack = "msgpack"
)

// CodecByName resolves the ?codec= query value. Empty means JSON.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", CodecJSON:
		return JSON{}, nil
	case CodecMsgpack:
		return Msgpack{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
}

type JSON struct{}

func (JSON) Name() string   { return CodecJSON }
func (JSON) FrameType() int { return websocket.TextMessage }

func (JSON) Encode(m *Message) ([]byte, error) { return json.Marshal(m) }

func (JSON) Decode(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	return &m, nil
}

// Msgpack is the binary variant used by CLI participants.
type Msgpack struct{}

func (Msgpack) Name() string   { return CodecMsgpack }
func (Msgpack) FrameType() int { return websocket.BinaryMessage }

func (Msgpack) Encode(m *Message) ([]byte, error) { return msgpack.Marshal(m) }

func (Msgpack) Decode(data []byte) (*Message, error) {
	var m Message
	if err := msgpack.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode msgpack: %w", err)
	}
	return &m, nil
}
