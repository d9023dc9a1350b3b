package dbConverter

import (
	"github.com/vkuzmenko/holdings_engine/internal/model"
	"github.com/vkuzmenko/holdings_engine/internal/model/dbModel"
)

func ConvertTransaction(dbTx dbModel.Transaction) model.Transaction {
	return model.Transaction{
		TxID:           dbTx.TxID,
		AccountID:      dbTx.AccountID,
		Instrument:     dbTx.Instrument,
		InstrumentName: dbTx.InstrumentName,
		Kind:           model.TxKind(dbTx.Kind),
		Quantity:       dbTx.Quantity,
		Price:          dbTx.Price,
		TotalAmount:    dbTx.TotalAmount,
		Fee:            dbTx.Fee,
		Currency:       dbTx.Currency,
		EffectiveAt:    dbTx.EffectiveAt,
		CreatedAt:      dbTx.CreatedAt,
	}
}

func ConvertPosition(dbPos dbModel.Position) model.Position {
	return model.Position{
		AccountID:      dbPos.AccountID,
		Instrument:     dbPos.Instrument,
		InstrumentName: dbPos.InstrumentName,
		Quantity:       dbPos.Quantity,
		AvgCost:        dbPos.AvgCost,
		TotalCost:      dbPos.TotalCost,
		Currency:       dbPos.Currency,
		LastEffective:  dbPos.LastEffective,
	}
}

func ConvertAccount(dbAcc dbModel.Account) model.Account {
	return model.Account{
		AccountID: dbAcc.AccountID,
		UserID:    dbAcc.UserID,
		Name:      dbAcc.Name,
		Broker:    dbAcc.Broker,
	}
}
