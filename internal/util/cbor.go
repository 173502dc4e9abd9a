/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package util

import (
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// PrettyJSON renders a generically decoded CBOR value as indented JSON.
// Byte strings are shown as h'..' and tags as {"tag": n, "content": ...}.
func PrettyJSON(decoded any) (string, error) {
	pretty, err := json.MarshalIndent(jsonable(decoded), "", "  ")
	if err != nil {
		return "", err
	}
	return string(pretty), nil
}

func jsonable(value any) any {
	switch v := value.(type) {
	case []any:
		out := make([]any, len(v))
		for i, elem := range v {
			out[i] = jsonable(elem)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, elem := range v {
			out[k] = jsonable(elem)
		}
		return out
	case map[any]any:
		// encoding/json sorts the string keys
		out := make(map[string]any, len(v))
		for k, elem := range v {
			out[mapKey(k)] = jsonable(elem)
		}
		return out
	case []byte:
		return fmt.Sprintf("h'%x'", v)
	case cbor.Tag:
		return map[string]any{
			"tag":     v.Number,
			"content": jsonable(v.Content),
		}
	default:
		return v
	}
}

func mapKey(key any) string {
	switch k := key.(type) {
	case string:
		return k
	case []byte:
		return fmt.Sprintf("h'%x'", k)
	default:
		return fmt.Sprint(k)
	}
}
