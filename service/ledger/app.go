package ledger

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/helium/wallet-app-sub004/service/hdpath"
)

// APDU constants of the Solana device application.
const (
	claSolana byte = 0xE0

	insGetAppConfig    byte = 0x04
	insGetPubkey       byte = 0x05
	insSignTransaction byte = 0x06
	insSignMessage     byte = 0x07

	p1NonConfirm byte = 0x00
	p1Confirm    byte = 0x01

	p2Extend byte = 0x01
	p2More   byte = 0x02

	maxChunkSize = 255

	statusOK           uint16 = 0x9000
	statusUserRejected uint16 = 0x6985
)

// Exchanger sends one APDU to a device.
type Exchanger interface {
	Exchange(ctx context.Context, apdu []byte) ([]byte, error)
}

// AppConfig is the device application's reported configuration.
type AppConfig struct {
	BlindSigningEnabled bool
	PubkeyDisplayMode   byte
	Version             string
}

// SolanaApp speaks the Solana device application protocol over an Exchanger.
type SolanaApp struct {
	ex Exchanger
}

// NewSolanaApp wraps an exchanger.
func NewSolanaApp(ex Exchanger) *SolanaApp {
	return &SolanaApp{ex: ex}
}

// OpenApp asks the device dashboard to launch the Solana application.
func (a *SolanaApp) OpenApp(ctx context.Context) error {
	name := []byte("Solana")
	apdu := append([]byte{0xE0, 0xD8, 0x00, 0x00, byte(len(name))}, name...)
	_, err := a.exchange(ctx, apdu)
	return err
}

// GetAppConfig reads the application version and settings.
func (a *SolanaApp) GetAppConfig(ctx context.Context) (*AppConfig, error) {
	resp, err := a.send(ctx, insGetAppConfig, p1NonConfirm, nil)
	if err != nil {
		return nil, err
	}
	if len(resp) < 5 {
		return nil, fmt.Errorf("short app config response: %d bytes", len(resp))
	}
	return &AppConfig{
		BlindSigningEnabled: resp[0] != 0,
		PubkeyDisplayMode:   resp[1],
		Version:             fmt.Sprintf("%d.%d.%d", resp[2], resp[3], resp[4]),
	}, nil
}

// GetAddress returns the public key at path, optionally showing it on the device.
func (a *SolanaApp) GetAddress(ctx context.Context, path hdpath.Path, display bool) (solana.PublicKey, error) {
	p1 := p1NonConfirm
	if display {
		p1 = p1Confirm
	}
	resp, err := a.send(ctx, insGetPubkey, p1, path.Bytes())
	if err != nil {
		return solana.PublicKey{}, err
	}
	if len(resp) < solana.PublicKeyLength {
		return solana.PublicKey{}, fmt.Errorf("short public key response: %d bytes", len(resp))
	}
	return solana.PublicKeyFromBytes(resp[:solana.PublicKeyLength]), nil
}

// SignTransaction signs a serialized transaction message.
func (a *SolanaApp) SignTransaction(ctx context.Context, path hdpath.Path, message []byte) (solana.Signature, error) {
	return a.sign(ctx, insSignTransaction, path, message)
}

// SignMessage signs an arbitrary off-chain message.
func (a *SolanaApp) SignMessage(ctx context.Context, path hdpath.Path, message []byte) (solana.Signature, error) {
	return a.sign(ctx, insSignMessage, path, message)
}

func (a *SolanaApp) sign(ctx context.Context, ins byte, path hdpath.Path, message []byte) (solana.Signature, error) {
	// One signer: [1] + path + message.
	payload := make([]byte, 0, 1+len(path)*4+1+len(message))
	payload = append(payload, 1)
	payload = append(payload, path.Bytes()...)
	payload = append(payload, message...)

	resp, err := a.send(ctx, ins, p1Confirm, payload)
	if err != nil {
		return solana.Signature{}, err
	}
	if len(resp) < 64 {
		return solana.Signature{}, fmt.Errorf("short signature response: %d bytes", len(resp))
	}
	return solana.SignatureFromBytes(resp[:64]), nil
}

// send splits payload into chunks. All chunks but the last carry P2_MORE,
// every chunk after the first carries P2_EXTEND.
func (a *SolanaApp) send(ctx context.Context, ins, p1 byte, payload []byte) ([]byte, error) {
	var p2 byte
	offset := 0
	for len(payload)-offset > maxChunkSize {
		chunk := payload[offset : offset+maxChunkSize]
		offset += maxChunkSize
		if _, err := a.exchange(ctx, apdu(ins, p1, p2|p2More, chunk)); err != nil {
			return nil, err
		}
		p2 |= p2Extend
	}
	return a.exchange(ctx, apdu(ins, p1, p2, payload[offset:]))
}

func apdu(ins, p1, p2 byte, data []byte) []byte {
	out := make([]byte, 0, 5+len(data))
	out = append(out, claSolana, ins, p1, p2, byte(len(data)))
	return append(out, data...)
}

// exchange sends the APDU and strips the status word.
func (a *SolanaApp) exchange(ctx context.Context, apdu []byte) ([]byte, error) {
	resp, err := a.ex.Exchange(ctx, apdu)
	if err != nil {
		return nil, err
	}
	if len(resp) < 2 {
		return nil, fmt.Errorf("short device response: %d bytes", len(resp))
	}

	status := binary.BigEndian.Uint16(resp[len(resp)-2:])
	switch status {
	case statusOK:
		return resp[:len(resp)-2], nil
	case statusUserRejected:
		return nil, ErrUserRejected
	default:
		return nil, &StatusError{Code: status}
	}
}
