package court

import "encoding/json"

func decodeDispute(raw []byte, d *Dispute) error {
	return json.Unmarshal(raw, d)
}
