// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package shared

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/tombee/flint/internal/jq"
)

// EmitJSON writes v as indented JSON. With --jq set, each value the
// expression emits is written on its own line instead: strings raw, other
// values as compact JSON.
func EmitJSON(w io.Writer, v any) error {
	if expr := GetJQ(); expr != "" {
		return emitFiltered(w, expr, v)
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func emitFiltered(w io.Writer, expr string, v any) error {
	results, err := jq.Filter(context.Background(), expr, v)
	if err != nil {
		return NewConfigError("--jq failed", err)
	}
	for _, r := range results {
		if s, ok := r.(string); ok {
			if _, err := fmt.Fprintln(w, s); err != nil {
				return err
			}
			continue
		}
		data, err := json.Marshal(r)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintln(w, string(data)); err != nil {
			return err
		}
	}
	return nil
}
