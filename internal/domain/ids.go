package domain

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// OperationID correlates every event spawned by one user-facing call.
type OperationID uuid.UUID

// NewOperationID returns a random operation identifier.
func NewOperationID() OperationID {
	return OperationID(uuid.New())
}

// ParseOperationID parses the canonical UUID text form.
func ParseOperationID(s string) (OperationID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return OperationID{}, fmt.Errorf("parse operation id: %w", err)
	}
	return OperationID(id), nil
}

func (id OperationID) String() string {
	return uuid.UUID(id).String()
}

func (id OperationID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *OperationID) UnmarshalText(text []byte) error {
	parsed, err := ParseOperationID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// TxID identifies a transaction by the SHA3-256 digest of its contents.
type TxID [32]byte

// ParseTxID parses a 64 character hex string.
func ParseTxID(s string) (TxID, error) {
	var id TxID
	raw, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("parse txid: %w", err)
	}
	if len(raw) != len(id) {
		return id, fmt.Errorf("parse txid: want %d bytes, got %d", len(id), len(raw))
	}
	copy(id[:], raw)
	return id, nil
}

func (id TxID) String() string {
	return hex.EncodeToString(id[:])
}

func (id TxID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *TxID) UnmarshalText(text []byte) error {
	parsed, err := ParseTxID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// OutPoint references a single output of a transaction.
type OutPoint struct {
	TxID   TxID   `json:"txid"`
	OutIdx uint64 `json:"out_idx"`
}

// ParseOutPoint parses the "txid:index" form produced by String.
func ParseOutPoint(s string) (OutPoint, error) {
	txPart, idxPart, ok := strings.Cut(s, ":")
	if !ok {
		return OutPoint{}, fmt.Errorf("parse outpoint %q: missing index", s)
	}
	txid, err := ParseTxID(txPart)
	if err != nil {
		return OutPoint{}, err
	}
	idx, err := strconv.ParseUint(idxPart, 10, 64)
	if err != nil {
		return OutPoint{}, fmt.Errorf("parse outpoint index: %w", err)
	}
	return OutPoint{TxID: txid, OutIdx: idx}, nil
}

func (o OutPoint) String() string {
	return o.TxID.String() + ":" + strconv.FormatUint(o.OutIdx, 10)
}
