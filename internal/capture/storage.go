package capture

import "encoding/json"

// tokenFields are the JSON fields a stored object is searched for, in
// order.
var tokenFields = []string{"token", "accessToken", "idToken", "authToken"}

// StorageEntry is one key/value pair of a web storage area.
type StorageEntry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// ScanStorage looks through the areas in order, typically localStorage
// then sessionStorage, and returns the first JWT-shaped token found. A
// value matches when it is a token itself or a JSON object with a token in
// one of the known fields.
func ScanStorage(areas ...[]StorageEntry) (string, bool) {
	for _, area := range areas {
		for _, e := range area {
			if tok, ok := tokenFromStored(e.Value); ok {
				return tok, true
			}
		}
	}
	return "", false
}

func tokenFromStored(raw string) (string, bool) {
	if IsJWTShape(raw) {
		return raw, true
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return "", false
	}
	for _, f := range tokenFields {
		if s, ok := obj[f].(string); ok && IsJWTShape(s) {
			return s, true
		}
	}
	return "", false
}
