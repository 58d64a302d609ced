package ledger

import (
	"context"
	"sort"
	"strings"

	"github.com/congo-pay/fedwallet/internal/domain"
	"github.com/congo-pay/fedwallet/internal/store"
)

// Table names accepted by Dump filters.
const (
	TableClientFunds = "ClientFunds"
	TableClientName  = "ClientName"
)

// Tables lists every dumpable table in declaration order.
var Tables = []string{TableClientFunds, TableClientName}

// DumpItem is one labelled value of a diagnostics snapshot.
type DumpItem struct {
	Label string `json:"label"`
	Value any    `json:"value"`
}

// Dump returns the present records of the selected tables, sorted by label.
// Table names match case-insensitively; no filters selects every table.
func Dump(ctx context.Context, tx store.Tx, tables []string) ([]DumpItem, error) {
	var items []DumpItem
	for _, table := range Tables {
		if !selected(table, tables) {
			continue
		}
		switch table {
		case TableClientFunds:
			raw, ok, err := tx.Get(ctx, FundsKey)
			if err != nil {
				return nil, err
			}
			if ok {
				funds, err := domain.AmountFromBytes(raw)
				if err != nil {
					return nil, err
				}
				items = append(items, DumpItem{Label: "Funds", Value: funds})
			}
		case TableClientName:
			raw, ok, err := tx.Get(ctx, NameKey)
			if err != nil {
				return nil, err
			}
			if ok {
				items = append(items, DumpItem{Label: "Name", Value: string(raw)})
			}
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Label < items[j].Label })
	return items, nil
}

func selected(table string, filters []string) bool {
	if len(filters) == 0 {
		return true
	}
	for _, f := range filters {
		if strings.EqualFold(strings.TrimSpace(f), table) {
			return true
		}
	}
	return false
}
