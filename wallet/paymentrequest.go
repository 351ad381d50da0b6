package wallet

import (
	"errors"
	"fmt"

	"github.com/gonuts-core/walletcore/cashu"
	"github.com/gonuts-core/walletcore/cashu/nuts/nut18"
)

// CreatePaymentRequest builds and encodes a NUT-18 payment request for
// amount, payable at this wallet's current mint.
func (w *Wallet) CreatePaymentRequest(amount uint64, description string) (string, error) {
	req := nut18.PaymentRequest{
		Amount:      amount,
		Unit:        w.unit.String(),
		Mints:       []string{w.CurrentMintURL},
		Description: description,
	}
	return req.Encode()
}

// PayPaymentRequest decodes a NUT-18 payment request and sends a token
// fulfilling it from one of the mints it names (or this wallet's current
// mint, if the request doesn't pin any).
func (w *Wallet) PayPaymentRequest(encoded string) (cashu.Token, error) {
	req, err := nut18.DecodePaymentRequest(encoded)
	if err != nil {
		return nil, fmt.Errorf("error decoding payment request: %v", err)
	}
	if req.Amount == 0 {
		return nil, errors.New("wallet: payment request does not specify an amount")
	}

	mintURL := w.CurrentMintURL
	if len(req.Mints) > 0 {
		mintURL, err = w.acceptedMint(req.Mints)
		if err != nil {
			return nil, err
		}
	}

	return w.Send(mintURL, req.Amount)
}

// acceptedMint returns the first of candidates this wallet already has a
// connection to.
func (w *Wallet) acceptedMint(candidates []string) (string, error) {
	for _, mintURL := range candidates {
		if _, ok := w.mints[mintURL]; ok {
			return mintURL, nil
		}
	}
	return "", errors.New("wallet: payment request doesn't accept any mint this wallet uses")
}
