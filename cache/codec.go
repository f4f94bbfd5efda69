package cache

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// CodecName selects the payload encoding for new writes.
type CodecName string

const (
	CodecJSON    CodecName = "json"
	CodecMsgpack CodecName = "msgpack"
)

// Payloads start with one format byte so rows written under another codec
// setting still decode after a configuration change.
const (
	formatJSON    byte = 'j'
	formatMsgpack byte = 'm'
)

var errEmptyPayload = errors.New("empty payload")

// envelope carries the value together with its tag. A row whose tag differs
// from the key's discriminant is never handed to a caller.
type envelope[V any] struct {
	Tag   Discriminant `json:"tag" msgpack:"tag"`
	Value V            `json:"value" msgpack:"value"`
}

// ErrTagMismatch is reported (and logged) when a stored payload belongs to a
// different variant than the key that addressed it.
type ErrTagMismatch struct {
	Want Discriminant
	Got  Discriminant
}

func (e *ErrTagMismatch) Error() string {
	return fmt.Sprintf("cache payload tagged %q, expected %q", e.Got, e.Want)
}

func encodeValue[V any](codec CodecName, tag Discriminant, value V) ([]byte, error) {
	env := envelope[V]{Tag: tag, Value: value}
	switch codec {
	case CodecMsgpack:
		data, err := msgpack.Marshal(&env)
		if err != nil {
			return nil, err
		}
		return append([]byte{formatMsgpack}, data...), nil
	default:
		data, err := json.Marshal(&env)
		if err != nil {
			return nil, err
		}
		return append([]byte{formatJSON}, data...), nil
	}
}

func decodeValue[V any](payload []byte, tag Discriminant) (V, error) {
	var env envelope[V]
	if len(payload) == 0 {
		return env.Value, errEmptyPayload
	}

	var err error
	switch payload[0] {
	case formatJSON:
		err = json.Unmarshal(payload[1:], &env)
	case formatMsgpack:
		err = msgpack.Unmarshal(payload[1:], &env)
	default:
		err = fmt.Errorf("unknown payload format %q", payload[0])
	}
	if err != nil {
		var zero V
		return zero, err
	}

	if env.Tag != tag {
		var zero V
		return zero, &ErrTagMismatch{Want: tag, Got: env.Tag}
	}
	return env.Value, nil
}
