package backend

import "encoding/json"

// withIDField returns the payload with an "id" field set to id. An existing
// id field is left alone; the enqueue path assigned it in the first place.
func withIDField(payload json.RawMessage, id string) ([]byte, error) {
	fields := make(map[string]json.RawMessage)
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &fields); err != nil {
			return nil, err
		}
	}
	if _, ok := fields["id"]; !ok {
		encoded, err := json.Marshal(id)
		if err != nil {
			return nil, err
		}
		fields["id"] = encoded
	}
	return json.Marshal(fields)
}
