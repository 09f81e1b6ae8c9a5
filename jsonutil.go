package sigtransport

import "encoding/json"

func jsonMarshalStrings(v []string) ([]byte, error) {
	return json.Marshal(v)
}
