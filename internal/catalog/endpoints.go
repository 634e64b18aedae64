package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// noSearchResults is the catalog's error code for an empty listid search.
const noSearchResults = "NO_SEARCH_RESULTS"

// Build is one entry of a listid search.
type Build struct {
	UUID  string     `json:"uuid"`
	Build FlexString `json:"build"`
	Title string     `json:"title"`
	Arch  string     `json:"arch"`
}

// Languages is the listlangs result for a build.
type Languages struct {
	// Codes holds the lower case locale codes, sorted.
	Codes []string
	// Build is updateInfo.build, used for integrity checks.
	Build string
	// Ring is updateInfo.ring, empty when the catalog does not report one.
	Ring string
}

// Contains reports whether code is one of the build's languages.
func (l Languages) Contains(code string) bool {
	i := sort.SearchStrings(l.Codes, code)
	return i < len(l.Codes) && l.Codes[i] == code
}

// FlexString decodes both JSON strings and numbers into their text form.
type FlexString string

func (s *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*s = FlexString(str)
		return nil
	}
	if bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return fmt.Errorf("expected string or number, got %s", data)
	}
	*s = FlexString(num.String())
	return nil
}

func (s FlexString) String() string {
	return string(s)
}

// nameMap tolerates the empty JSON array the catalog sends in place of an
// empty object.
type nameMap map[string]string

func (m *nameMap) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var list []json.RawMessage
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		if len(list) != 0 {
			return errors.New("expected object, got non-empty array")
		}
		*m = nameMap{}
		return nil
	}
	var values map[string]string
	if err := json.Unmarshal(data, &values); err != nil {
		return err
	}
	*m = values
	return nil
}

// ListBuilds searches the catalog. Builds are returned in catalog order.
func (c *Client) ListBuilds(ctx context.Context, search string) ([]Build, error) {
	raw, err := c.Call(ctx, EndpointListBuilds, map[string]string{"search": search})
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Code == noSearchResults {
			return nil, nil
		}
		return nil, err
	}

	var body struct {
		Builds json.RawMessage `json:"builds"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("decode listid response: %w", err)
	}
	builds, err := decodeBuilds(body.Builds)
	if err != nil {
		return nil, fmt.Errorf("decode listid builds: %w", err)
	}
	return builds, nil
}

// decodeBuilds accepts either an array or an object keyed by uuid. Object
// keys are read as tokens so the catalog's ordering survives decoding.
func decodeBuilds(raw json.RawMessage) ([]Build, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	switch raw[0] {
	case '[':
		var builds []Build
		if err := json.Unmarshal(raw, &builds); err != nil {
			return nil, err
		}
		return builds, nil
	case '{':
		dec := json.NewDecoder(bytes.NewReader(raw))
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		var builds []Build
		for dec.More() {
			token, err := dec.Token()
			if err != nil {
				return nil, err
			}
			key, ok := token.(string)
			if !ok {
				return nil, fmt.Errorf("unexpected key %v", token)
			}
			var build Build
			if err := dec.Decode(&build); err != nil {
				return nil, fmt.Errorf("build %s: %w", key, err)
			}
			if build.UUID == "" {
				build.UUID = key
			}
			builds = append(builds, build)
		}
		return builds, nil
	default:
		return nil, fmt.Errorf("unexpected builds value %q", raw[:1])
	}
}

// ListLanguages returns the languages available for a build.
func (c *Client) ListLanguages(ctx context.Context, id string) (Languages, error) {
	raw, err := c.Call(ctx, EndpointListLanguages, map[string]string{"id": id})
	if err != nil {
		return Languages{}, err
	}

	var body struct {
		LangList       []string `json:"langList"`
		LangFancyNames nameMap  `json:"langFancyNames"`
		UpdateInfo     struct {
			Build FlexString `json:"build"`
			Ring  string     `json:"ring"`
		} `json:"updateInfo"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return Languages{}, fmt.Errorf("decode listlangs response: %w", err)
	}

	codes := make([]string, 0, len(body.LangFancyNames)+len(body.LangList))
	for code := range body.LangFancyNames {
		codes = append(codes, code)
	}
	codes = append(codes, body.LangList...)

	return Languages{
		Codes: normalizeSet(codes),
		Build: body.UpdateInfo.Build.String(),
		Ring:  body.UpdateInfo.Ring,
	}, nil
}

// ListEditions returns the edition keys available for a build in lang.
func (c *Client) ListEditions(ctx context.Context, id, lang string) ([]string, error) {
	raw, err := c.Call(ctx, EndpointListEditions, map[string]string{"id": id, "lang": lang})
	if err != nil {
		return nil, err
	}

	var body struct {
		EditionList       []string `json:"editionList"`
		EditionFancyNames nameMap  `json:"editionFancyNames"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("decode listeditions response: %w", err)
	}

	editions := make([]string, 0, len(body.EditionFancyNames)+len(body.EditionList))
	for edition := range body.EditionFancyNames {
		editions = append(editions, edition)
	}
	editions = append(editions, body.EditionList...)
	sort.Strings(editions)

	seen := make(map[string]struct{}, len(editions))
	result := make([]string, 0, len(editions))
	for _, edition := range editions {
		key := strings.ToLower(edition)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		result = append(result, edition)
	}
	return result, nil
}

func normalizeSet(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		value = strings.ToLower(strings.TrimSpace(value))
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	sort.Strings(out)
	return out
}
