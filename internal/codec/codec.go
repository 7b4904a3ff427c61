// Package codec encodes outbound events and decodes inbound command
// arguments for the wire. JSON is the default; CBOR is negotiated per
// connection or request.
package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime"
	"reflect"

	"github.com/fxamacker/cbor/v2"

	"github.com/tinywideclouds/go-messaging-bridge/pkg/bridge"
)

type Codec interface {
	// Name doubles as the websocket subprotocol.
	Name() string
	ContentType() string
	// Binary reports whether frames must be sent as binary messages.
	Binary() bool
	EncodeEvent(e bridge.Event) ([]byte, error)
	// DecodeArguments returns nil for an empty or null body, which the
	// dispatcher treats as absent arguments.
	DecodeArguments(data []byte) (map[string]any, error)
}

var (
	JSON Codec = jsonCodec{}
	CBOR Codec = cborCodec{}
)

// ByName resolves a configured codec name.
func ByName(name string) (Codec, error) {
	switch name {
	case "", JSON.Name():
		return JSON, nil
	case CBOR.Name():
		return CBOR, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}

// ForContentType picks the codec for a request body, defaulting to JSON.
func ForContentType(contentType string) Codec {
	mt, _, err := mime.ParseMediaType(contentType)
	if err == nil && mt == CBOR.ContentType() {
		return CBOR
	}
	return JSON
}

type jsonCodec struct{}

func (jsonCodec) Name() string        { return "json" }
func (jsonCodec) ContentType() string { return "application/json" }
func (jsonCodec) Binary() bool        { return false }

func (jsonCodec) EncodeEvent(e bridge.Event) ([]byte, error) {
	return json.Marshal(e.Map())
}

func (jsonCodec) DecodeArguments(data []byte) (map[string]any, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}
	var args map[string]any
	if err := json.Unmarshal(data, &args); err != nil {
		return nil, fmt.Errorf("arguments must be a JSON object: %w", err)
	}
	return args, nil
}

// Core Deterministic Encoding: sorted keys, smallest ints, definite lengths.
var encMode cbor.EncMode

// Nested maps decode as map[string]any so argument readers see the same
// shapes they get from JSON.
var decMode cbor.DecMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

type cborCodec struct{}

func (cborCodec) Name() string        { return "cbor" }
func (cborCodec) ContentType() string { return "application/cbor" }
func (cborCodec) Binary() bool        { return true }

func (cborCodec) EncodeEvent(e bridge.Event) ([]byte, error) {
	return encMode.Marshal(e.Map())
}

func (cborCodec) DecodeArguments(data []byte) (map[string]any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var args map[string]any
	if err := decMode.Unmarshal(data, &args); err != nil {
		return nil, fmt.Errorf("arguments must be a CBOR map: %w", err)
	}
	return args, nil
}
