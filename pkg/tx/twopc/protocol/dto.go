package protocol

import "encoding/json"

type PrepareRequest struct {
	TxID    string          `json:"tx_id"`
	Step    string          `json:"step"`
	Payload json.RawMessage `json:"payload"`
}

// PrepareResponse is a participant's vote. A no vote carries the reason and
// the checkout error kind it maps to; a yes vote may carry a result.
type PrepareResponse struct {
	VoteYes   bool            `json:"vote_yes"`
	Reason    string          `json:"reason,omitempty"`
	ErrorKind string          `json:"error_kind,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
}

type CommitRequest struct {
	TxID string `json:"tx_id"`
}

type AbortRequest struct {
	TxID string `json:"tx_id"`
}

// Yes is a yes vote carrying result encoded as JSON.
func Yes(result any) (PrepareResponse, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return PrepareResponse{}, err
	}
	return PrepareResponse{VoteYes: true, Result: raw}, nil
}

func No(errorKind, reason string) PrepareResponse {
	return PrepareResponse{ErrorKind: errorKind, Reason: reason}
}
