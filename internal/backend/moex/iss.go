// ABOUTME: Decoder for ISS column/data JSON blocks
// ABOUTME: Turns each row into a map keyed by the lowercased column name

package moex

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Row is one ISS data row keyed by lowercase column name. Nulls are empty
// strings and numbers keep their shortest decimal form.
type Row map[string]string

type block struct {
	Columns []string            `json:"columns"`
	Data    [][]json.RawMessage `json:"data"`
}

// decodeBlocks extracts the named blocks from an ISS document.
func decodeBlocks(body []byte, names ...string) (map[string][]Row, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decoding ISS document: %w", err)
	}

	out := make(map[string][]Row, len(names))
	for _, name := range names {
		raw, ok := doc[name]
		if !ok {
			return nil, fmt.Errorf("ISS document has no %q block", name)
		}
		var b block
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, fmt.Errorf("decoding %q block: %w", name, err)
		}
		rows, err := b.rows()
		if err != nil {
			return nil, fmt.Errorf("block %q: %w", name, err)
		}
		out[name] = rows
	}
	return out, nil
}

func (b block) rows() ([]Row, error) {
	columns := make([]string, len(b.Columns))
	for i, c := range b.Columns {
		columns[i] = strings.ToLower(c)
	}

	rows := make([]Row, 0, len(b.Data))
	for _, cells := range b.Data {
		row := make(Row, len(columns))
		for i := 0; i < len(cells) && i < len(columns); i++ {
			v, err := cellString(cells[i])
			if err != nil {
				return nil, fmt.Errorf("column %s: %w", columns[i], err)
			}
			row[columns[i]] = v
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func cellString(raw json.RawMessage) (string, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", err
	}
	switch x := v.(type) {
	case nil:
		return "", nil
	case string:
		return x, nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(x), nil
	default:
		return "", fmt.Errorf("unexpected cell %s", string(raw))
	}
}
