package ledger

import "encoding/json"

func decodeInto(raw []byte, v interface{}) error {
	return json.Unmarshal(raw, v)
}

func decodeEscrow(raw []byte) (Escrow, error) {
	var esc Escrow
	err := json.Unmarshal(raw, &esc)
	return esc, err
}
