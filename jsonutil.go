package jwtvalidation

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// decodeJWTSegment base64url-decodes a JWT header/payload/signature
// segment, accepting both the unpadded form RFC 7519 mandates and a
// padded form some producers emit.
func decodeJWTSegment(s string) ([]byte, error) {
	if b, err := base64.RawURLEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.URLEncoding.DecodeString(s)
}

// decodeJSONObjectNoDup parses data as a JSON object, rejecting duplicate
// keys at any nesting level as defense-in-depth against claim smuggling
// (§4.7 "Duplicate claims"). encoding/json's default Unmarshal silently
// lets a later duplicate key win, which this bypasses with a manual
// token-level walk.
func decodeJSONObjectNoDup(data []byte) (map[string]interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	v, err := decodeJSONValueNoDup(dec)
	if err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("trailing data after JSON value")
	}
	obj, ok := v.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("top-level JSON value is not an object")
	}
	return obj, nil
}

func decodeJSONValueNoDup(dec *json.Decoder) (interface{}, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	delim, isDelim := tok.(json.Delim)
	if !isDelim {
		if num, ok := tok.(json.Number); ok {
			f, err := num.Float64()
			if err != nil {
				return nil, err
			}
			return f, nil
		}
		return tok, nil
	}
	switch delim {
	case '{':
		obj := make(map[string]interface{})
		for dec.More() {
			keyTok, err := dec.Token()
			if err != nil {
				return nil, err
			}
			key, ok := keyTok.(string)
			if !ok {
				return nil, fmt.Errorf("non-string object key")
			}
			if _, exists := obj[key]; exists {
				return nil, fmt.Errorf("duplicate key %q", key)
			}
			val, err := decodeJSONValueNoDup(dec)
			if err != nil {
				return nil, err
			}
			obj[key] = val
		}
		if _, err := dec.Token(); err != nil { // consume '}'
			return nil, err
		}
		return obj, nil
	case '[':
		arr := make([]interface{}, 0)
		for dec.More() {
			val, err := decodeJSONValueNoDup(dec)
			if err != nil {
				return nil, err
			}
			arr = append(arr, val)
		}
		if _, err := dec.Token(); err != nil { // consume ']'
			return nil, err
		}
		return arr, nil
	default:
		return nil, fmt.Errorf("unexpected JSON delimiter %q", delim)
	}
}
