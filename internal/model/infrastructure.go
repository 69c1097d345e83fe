package model

import "time"

// Receipt is returned by every committed ledger write.
type Receipt struct {
	TxHash      string `json:"tx_hash"`
	BlockNumber uint64 `json:"block_number"`
	From        string `json:"from"`
	Nonce       uint64 `json:"nonce"`
	Method      string `json:"method"`
}

type Transaction struct {
	BlockNumber uint64    `json:"block"`
	TxHash      string    `json:"hash"`
	From        string    `json:"from"`
	Nonce       uint64    `json:"nonce"`
	Method      string    `json:"func"`
	Params      string    `json:"params"`
	Timestamp   time.Time `json:"timestamp"`
}

func (tx Transaction) Receipt() Receipt {
	return Receipt{
		TxHash:      tx.TxHash,
		BlockNumber: tx.BlockNumber,
		From:        tx.From,
		Nonce:       tx.Nonce,
		Method:      tx.Method,
	}
}

// LedgerSnapshot is the ledger-visible state captured for observers once the
// live ledger may no longer be reachable.
type LedgerSnapshot struct {
	LedgerAddress   string         `json:"contract_address"`
	BlockNumber     uint64         `json:"block_number"`
	OnchainRound    int            `json:"onchain_round"`
	UpdatesReceived int            `json:"updates_received"`
	UpdatesNeeded   int            `json:"updates_needed"`
	GlobalModelRef  string         `json:"global_model_ref"`
	Clients         []ClientRecord `json:"clients"`
	Transactions    []Transaction  `json:"transactions"`
	TakenAt         time.Time      `json:"taken_at"`
}
