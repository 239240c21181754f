package websocket

import (
	"encoding/json"
	"reflect"

	"github.com/coder/websocket"
	"github.com/fxamacker/cbor/v2"
)

// SubprotocolCBOR switches server frames to binary CBOR.
const SubprotocolCBOR = "axisflow.cbor"

var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode
)

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	// Keep sub-second precision; the default unix mode truncates to seconds.
	encOptions.Time = cbor.TimeRFC3339Nano
	cborEnc, err = encOptions.EncMode()
	if err != nil {
		panic("websocket: CBOR encoder initialization failed: " + err.Error())
	}

	cborDec, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("websocket: CBOR decoder initialization failed: " + err.Error())
	}
}

type codec interface {
	encode(v any) (websocket.MessageType, []byte, error)
	decode(typ websocket.MessageType, data []byte, v any) error
}

func codecFor(subprotocol string) codec {
	if subprotocol == SubprotocolCBOR {
		return cborCodec{}
	}
	return jsonCodec{}
}

type jsonCodec struct{}

func (jsonCodec) encode(v any) (websocket.MessageType, []byte, error) {
	b, err := json.Marshal(v)
	return websocket.MessageText, b, err
}

func (jsonCodec) decode(_ websocket.MessageType, data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// cborCodec writes CBOR and accepts both JSON text and CBOR binary requests.
type cborCodec struct{}

func (cborCodec) encode(v any) (websocket.MessageType, []byte, error) {
	b, err := cborEnc.Marshal(v)
	return websocket.MessageBinary, b, err
}

func (cborCodec) decode(typ websocket.MessageType, data []byte, v any) error {
	if typ == websocket.MessageText {
		return json.Unmarshal(data, v)
	}
	return cborDec.Unmarshal(data, v)
}

// DecodeCBOR decodes a binary server frame.
func DecodeCBOR(data []byte, v any) error {
	return cborDec.Unmarshal(data, v)
}
