// Package codec converts argument vectors to and from the opaque payloads
// carried by a notification channel.
//
// The wire form is a JSON array of strings. A vector holding any element
// that is not valid UTF-8 cannot be carried by JSON strings unchanged, so it
// is sent as an object instead, with every element base64 encoded:
//
//	["app","--open","file.txt"]
//	{"base64":["YXBw","LS1vcGVu","Y2Fm6S50eHQ="]}
//
// Decoding is permissive about trailing commas and comments so that
// producers and consumers built from different versions can still talk to
// each other.
package codec

import (
	"bytes"
	"encoding/base64"
	"unicode/utf8"

	jsoniter "github.com/json-iterator/go"
	"github.com/tailscale/hujson"

	"github.com/Iron-Ham/singleinstance/internal/errors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// rawPayload is the wire form of a vector with non-UTF-8 elements.
type rawPayload struct {
	Base64 []*string `json:"base64"`
}

// Encode serializes args. A nil slice encodes as [] so the receiver always
// sees an array. Decode(Encode(x)) returns x byte for byte.
func Encode(args []string) ([]byte, error) {
	if args == nil {
		args = []string{}
	}

	var v any = args
	if !allValidUTF8(args) {
		raw := rawPayload{Base64: make([]*string, len(args))}
		for i, a := range args {
			enc := base64.StdEncoding.EncodeToString([]byte(a))
			raw.Base64[i] = &enc
		}
		v = raw
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "encode arguments")
	}
	return data, nil
}

// Decode reconstructs the argument vector carried by payload.
// Anything other than a complete array of strings (or its base64 object
// form) is rejected with a *errors.DecodeError; no partially decoded vector
// is ever returned.
func Decode(payload []byte) ([]string, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil, errors.NewDecodeError("empty payload", len(payload))
	}

	standard, err := hujson.Standardize(bytes.Clone(trimmed))
	if err != nil {
		return nil, errors.NewDecodeError("malformed payload", len(payload)).WithCause(err)
	}

	standard = bytes.TrimSpace(standard)
	if len(standard) == 0 {
		return nil, errors.NewDecodeError("payload is not an argument array", len(payload))
	}

	switch standard[0] {
	case '[':
		var elems []*string
		if err := json.Unmarshal(standard, &elems); err != nil {
			return nil, errors.NewDecodeError("payload is not an argument array", len(payload)).WithCause(err)
		}
		return collect(elems, len(payload), func(s string) (string, error) { return s, nil })

	case '{':
		var raw rawPayload
		if err := json.Unmarshal(standard, &raw); err != nil {
			return nil, errors.NewDecodeError("malformed base64 payload", len(payload)).WithCause(err)
		}
		if raw.Base64 == nil {
			return nil, errors.NewDecodeError("payload is not an argument array", len(payload))
		}
		return collect(raw.Base64, len(payload), func(s string) (string, error) {
			b, err := base64.StdEncoding.DecodeString(s)
			return string(b), err
		})

	default:
		return nil, errors.NewDecodeError("payload is not an argument array", len(payload))
	}
}

// collect converts decoded elements, rejecting null entries and any element
// convert fails on.
func collect(elems []*string, size int, convert func(string) (string, error)) ([]string, error) {
	args := make([]string, 0, len(elems))
	for _, e := range elems {
		if e == nil {
			return nil, errors.NewDecodeError("null argument", size)
		}
		s, err := convert(*e)
		if err != nil {
			return nil, errors.NewDecodeError("malformed argument", size).WithCause(err)
		}
		args = append(args, s)
	}
	return args, nil
}

func allValidUTF8(args []string) bool {
	for _, a := range args {
		if !utf8.ValidString(a) {
			return false
		}
	}
	return true
}
