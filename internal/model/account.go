package model

type Account struct {
	AccountID int64
	UserID    int64
	Name      string
	Broker    string
}
