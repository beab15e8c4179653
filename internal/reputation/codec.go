package reputation

import "encoding/json"

func decodeFeedback(raw []byte, f *Feedback) error {
	return json.Unmarshal(raw, f)
}
