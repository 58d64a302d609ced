package wallet

import "github.com/congo-pay/fedwallet/internal/ledger"

type amountRequest struct {
	Amount uint64 `json:"amount"`
}

type sendRequest struct {
	Account string `json:"account"`
	Amount  uint64 `json:"amount"`
}

type receiveRequest struct {
	OutPoint string `json:"outpoint"`
}

type nameRequest struct {
	Name string `json:"name"`
}

type printResponse struct {
	OperationID string `json:"operation_id"`
	OutPoint    string `json:"outpoint"`
}

type balanceResponse struct {
	Account string `json:"account"`
	Balance uint64 `json:"balance"`
}

type dumpResponse struct {
	Items []ledger.DumpItem `json:"items"`
}
