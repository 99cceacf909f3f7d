package remoting

import (
	"encoding/json"
	"fmt"

	"github.com/haldane-systems/aetherhub/internal/actor"
)

// RefResolver is consulted by Decode for every reconstructed Ref: it
// returns the live Target the Ref's path/node pair should be bound to. Hub
// implements this by checking its own registry before falling back to a
// RemoteProxy.
type RefResolver interface {
	ResolveRef(path actor.Path, node actor.Addr) actor.Target
}

// Codec encodes and decodes the (path, msg) frames carried over the wire.
// Decode is handed a RefResolver so that every Ref nested in msg can be
// rewritten into a live target as it is reconstructed, emulating the
// mid-construction deserialization hook the original design assumed.
type Codec interface {
	Encode(path actor.Path, msg interface{}) ([]byte, error)
	Decode(data []byte, resolver RefResolver) (actor.Path, interface{}, error)
}

// refMarkerKey and tupleMarkerKey tag the JSON tree produced by JSONCodec
// so that Decode can tell an encoded actor.Ref or actor.Tuple apart from an
// ordinary map or slice payload. encoding/json has no generic "about to
// populate this struct's fields" hook the way a pickle-style decoder does,
// so JSONCodec performs the rewrite as a post-unmarshal tree walk instead.
const (
	refMarkerKey   = "__ref__"
	tupleMarkerKey = "__tuple__"
)

// JSONCodec is the default wire codec, grounded in the teacher's trivial
// encoding/json wrapper (internal/runtime/remote/jsoncodec.go) and
// extended with the marker-based tree walk needed for Ref rewriting.
type JSONCodec struct{}

type wireEnvelope struct {
	Path string      `json:"path"`
	Msg  interface{} `json:"msg"`
}

func (JSONCodec) Encode(path actor.Path, msg interface{}) ([]byte, error) {
	env := wireEnvelope{Path: string(path), Msg: encodeValue(msg)}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("remoting: json encode: %w", err)
	}
	return data, nil
}

func (JSONCodec) Decode(data []byte, resolver RefResolver) (actor.Path, interface{}, error) {
	var env wireEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("remoting: json decode: %w", err)
	}
	return actor.Path(env.Path), decodeValue(env.Msg, resolver), nil
}

// encodeValue walks a message tree, turning actor.Tuple and *actor.Ref
// values into their tagged wire representation. Everything else passes
// through unchanged for encoding/json to handle natively.
func encodeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case actor.Tuple:
		arr := make([]interface{}, len(val))
		for i, e := range val {
			arr[i] = encodeValue(e)
		}
		return map[string]interface{}{tupleMarkerKey: arr}
	case *actor.Ref:
		if val == nil {
			return nil
		}
		return map[string]interface{}{
			refMarkerKey: map[string]interface{}{
				"path": string(val.Path),
				"node": string(val.Node),
			},
		}
	case []interface{}:
		arr := make([]interface{}, len(val))
		for i, e := range val {
			arr[i] = encodeValue(e)
		}
		return arr
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, e := range val {
			out[k] = encodeValue(e)
		}
		return out
	default:
		return val
	}
}

// decodeValue walks the unmarshaled JSON tree, rewriting every tagged Ref
// node into a live *actor.Ref bound via resolver, and every tagged Tuple
// node back into an actor.Tuple.
func decodeValue(v interface{}, resolver RefResolver) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		if tup, ok := val[tupleMarkerKey]; ok {
			arr, _ := tup.([]interface{})
			out := make(actor.Tuple, len(arr))
			for i, e := range arr {
				out[i] = decodeValue(e, resolver)
			}
			return out
		}
		if refv, ok := val[refMarkerKey]; ok {
			refm, _ := refv.(map[string]interface{})
			path := actor.Path(stringField(refm, "path"))
			node := actor.Addr(stringField(refm, "node"))
			var target actor.Target
			if resolver != nil {
				target = resolver.ResolveRef(path, node)
			}
			return &actor.Ref{Path: path, Node: node, Target: target}
		}
		out := make(map[string]interface{}, len(val))
		for k, e := range val {
			out[k] = decodeValue(e, resolver)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, e := range val {
			out[i] = decodeValue(e, resolver)
		}
		return out
	default:
		return val
	}
}

func stringField(m map[string]interface{}, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}
