// Package callback receives the provider's out-of-band sale notifications
// and resolves the matching pending call.
package callback

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/url"
	"regexp"

	"github.com/tidwall/jsonc"

	"github.com/soyeahso/multiclube/internal/pending"
)

// localeNumber matches a decimal written with a comma separator in a value
// position, e.g. `167,00}`. Group 3 keeps the terminator.
var localeNumber = regexp.MustCompile(`(\d),(\d+)(\s*[}\],])`)

// Parse decodes a callback body. Numbers are kept as json.Number. Bodies
// that are not strict JSON get one repair pass (locale decimals, comments,
// trailing commas); anything still unreadable yields an empty payload.
// Non-object values are wrapped as {"value": v}.
func Parse(raw []byte) pending.Payload {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return pending.Payload{}
	}

	v, err := decodeStrict(raw)
	if err != nil {
		repaired := localeNumber.ReplaceAll(raw, []byte("$1.$2$3"))
		v, err = decodeStrict(jsonc.ToJSON(repaired))
		if err != nil {
			return pending.Payload{}
		}
	}

	if m, ok := v.(map[string]any); ok {
		return pending.Payload(m)
	}
	return pending.Payload{"value": v}
}

// ParseForm converts a url-encoded body to a payload. Single-valued keys
// become strings; repeated keys keep every value.
func ParseForm(raw []byte) (pending.Payload, error) {
	values, err := url.ParseQuery(string(raw))
	if err != nil {
		return nil, err
	}
	p := make(pending.Payload, len(values))
	for k, vs := range values {
		if len(vs) == 1 {
			p[k] = vs[0]
			continue
		}
		p[k] = vs
	}
	return p, nil
}

var errTrailingData = errors.New("trailing data after JSON value")

func decodeStrict(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errTrailingData
	}
	return v, nil
}
