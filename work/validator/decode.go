package validator

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"kptv-search/work/types"
)

// accountInfo is the slice of the player_api response validation cares
// about. Panels disagree on whether numeric fields are numbers or strings,
// so both forms are accepted.
type accountInfo struct {
	Status         string
	MaxConnections int
}

// flexInt decodes a JSON value that may arrive as a number, a quoted
// number, null, or an empty string, treating the unparseable cases as zero
// the way a lenient panel consumer has to.
type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		// some panels report capacity as a float
		fl, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			*f = 0
			return nil
		}
		n = int(fl)
	}
	*f = flexInt(n)
	return nil
}

// flexString decodes a JSON value that may arrive as either a string or a
// bare number, which panels do for stream ids.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	s := string(data)
	if s == "null" {
		*f = ""
		return nil
	}
	if len(s) >= 2 && s[0] == '"' {
		var out string
		if err := json.Unmarshal(data, &out); err != nil {
			return err
		}
		*f = flexString(out)
		return nil
	}
	*f = flexString(strings.TrimSuffix(s, ".0"))
	return nil
}

// decodeAccountInfo pulls status and max_connections out of a player_api
// response body.
func decodeAccountInfo(r io.Reader) (accountInfo, error) {
	var payload struct {
		UserInfo struct {
			Status         string  `json:"status"`
			MaxConnections flexInt `json:"max_connections"`
		} `json:"user_info"`
	}
	if err := json.NewDecoder(r).Decode(&payload); err != nil {
		return accountInfo{}, fmt.Errorf("failed to decode account info: %w", err)
	}
	return accountInfo{
		Status:         payload.UserInfo.Status,
		MaxConnections: int(payload.UserInfo.MaxConnections),
	}, nil
}

// catalogChannel is one entry of the available_channels object.
type catalogChannel struct {
	StreamID     flexString `json:"stream_id"`
	Name         string     `json:"name"`
	CategoryName string     `json:"category_name"`
}

// decodeCatalog walks the panel_api response token by token so the catalog
// comes back in document order. Unmarshalling available_channels into a map
// would scramble it, and probe candidate selection depends on "the first
// few channels" meaning the first few the panel listed.
//
// The found flag reports whether an available_channels key existed at all,
// which is a different condition from it being empty.
func decodeCatalog(r io.Reader) ([]types.CatalogEntry, bool, error) {
	dec := json.NewDecoder(r)

	tok, err := dec.Token()
	if err != nil {
		return nil, false, fmt.Errorf("failed to read panel response: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, false, fmt.Errorf("panel response is not a JSON object")
	}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, false, fmt.Errorf("failed to read panel key: %w", err)
		}
		key, _ := keyTok.(string)

		if key != "available_channels" {
			// skip the value wholesale
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return nil, false, fmt.Errorf("failed to skip panel field %q: %w", key, err)
			}
			continue
		}

		catalog, err := decodeChannelObject(dec)
		if err != nil {
			return nil, false, err
		}
		return catalog, true, nil
	}

	return nil, false, nil
}

// decodeChannelObject consumes the available_channels value, which is an
// object keyed by stream id whose iteration order matters.
func decodeChannelObject(dec *json.Decoder) ([]types.CatalogEntry, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("failed to read available_channels: %w", err)
	}
	delim, ok := tok.(json.Delim)
	if !ok {
		return nil, fmt.Errorf("available_channels is not an object")
	}

	// the occasional panel serves it as an array instead
	closing := json.Delim('}')
	if delim == '[' {
		closing = json.Delim(']')
	} else if delim != '{' {
		return nil, fmt.Errorf("available_channels is not an object")
	}

	var catalog []types.CatalogEntry
	for dec.More() {
		if closing == json.Delim('}') {
			// consume the object key, the id lives in the value too
			if _, err := dec.Token(); err != nil {
				return nil, fmt.Errorf("failed to read channel key: %w", err)
			}
		}
		var ch catalogChannel
		if err := dec.Decode(&ch); err != nil {
			return nil, fmt.Errorf("failed to decode channel: %w", err)
		}
		catalog = append(catalog, types.CatalogEntry{
			StreamID: string(ch.StreamID),
			Name:     ch.Name,
			Category: ch.CategoryName,
		})
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("failed to close available_channels: %w", err)
	}
	return catalog, nil
}
