package taskboard

import "encoding/json"

func decodeTask(raw []byte, t *Task) error {
	return json.Unmarshal(raw, t)
}

func decodeBid(raw []byte, b *Bid) error {
	return json.Unmarshal(raw, b)
}

func decodeAsset(raw []byte, a *Asset) error {
	return json.Unmarshal(raw, a)
}
