package authz

import (
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	solanapkg "github.com/helium/wallet-app-sub004/service/solana"
	"github.com/mr-tron/base58"
)

// signPayload is the decrypted body of every sign request. Which fields
// are required depends on the method.
type signPayload struct {
	Transaction  string                 `json:"transaction,omitempty"`
	Transactions []string               `json:"transactions,omitempty"`
	SendOptions  *solanapkg.SendOptions `json:"sendOptions,omitempty"`
	Message      string                 `json:"message,omitempty"`
	Display      string                 `json:"display,omitempty"`
}

func (p *signPayload) message() ([]byte, error) {
	if p.Message == "" {
		return nil, &FieldError{Field: "message"}
	}
	msg, err := base58.Decode(p.Message)
	if err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	return msg, nil
}

// rawTransactions returns the serialized transactions the method carries.
func (p *signPayload) rawTransactions(method Method) ([][]byte, error) {
	var encoded []string
	switch method {
	case MethodSignAllTransactions:
		if len(p.Transactions) == 0 {
			return nil, &FieldError{Field: "transactions"}
		}
		encoded = p.Transactions
	default:
		if p.Transaction == "" {
			return nil, &FieldError{Field: "transaction"}
		}
		encoded = []string{p.Transaction}
	}

	raw := make([][]byte, len(encoded))
	for i, e := range encoded {
		b, err := base58.Decode(e)
		if err != nil {
			return nil, fmt.Errorf("decode transaction %d: %w", i, err)
		}
		raw[i] = b
	}
	return raw, nil
}

func (p *signPayload) transactions(method Method) ([]*solana.Transaction, error) {
	raw, err := p.rawTransactions(method)
	if err != nil {
		return nil, err
	}
	txs := make([]*solana.Transaction, len(raw))
	for i, b := range raw {
		tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(b))
		if err != nil {
			return nil, fmt.Errorf("decode transaction %d: %w", i, err)
		}
		txs[i] = tx
	}
	return txs, nil
}
