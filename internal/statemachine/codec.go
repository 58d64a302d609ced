package statemachine

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/congo-pay/fedwallet/internal/domain"
)

const (
	recordVersion = 2
	activePrefix  = "sm/active/"
)

type record struct {
	Version     int                `json:"version"`
	Kind        string             `json:"kind"`
	Amount      domain.Amount      `json:"amount"`
	TxID        domain.TxID        `json:"txid"`
	OperationID domain.OperationID `json:"operation_id"`
}

func activeKey(s LegState) string {
	return activeTxPrefix(s.TxID) + s.OperationID.String() + "/" + strings.ToLower(s.Kind.String())
}

func activeTxPrefix(txid domain.TxID) string {
	return activePrefix + txid.String() + "/"
}

func encodeState(s LegState) ([]byte, error) {
	return json.Marshal(record{
		Version:     recordVersion,
		Kind:        s.Kind.String(),
		Amount:      s.Amount,
		TxID:        s.TxID,
		OperationID: s.OperationID,
	})
}

func decodeState(raw []byte) (LegState, error) {
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return LegState{}, fmt.Errorf("decode leg state: %w", err)
	}
	if rec.Version != recordVersion {
		return LegState{}, fmt.Errorf("decode leg state: unsupported version %d", rec.Version)
	}
	kind, err := ParseKind(rec.Kind)
	if err != nil {
		return LegState{}, fmt.Errorf("decode leg state: %w", err)
	}
	return LegState{Kind: kind, Amount: rec.Amount, TxID: rec.TxID, OperationID: rec.OperationID}, nil
}
