package model

// AccountStatement is the input for statement export: the full ledger history
// of one account plus its current holdings.
type AccountStatement struct {
	Account      Account
	Transactions []Transaction
	Positions    []Position
}
