package signer

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/helium/wallet-app-sub004/service/ledger"
)

// Kind selects the signing backend.
type Kind int

const (
	KindLocal Kind = iota
	KindHardware
)

func (k Kind) String() string {
	switch k {
	case KindLocal:
		return "local"
	case KindHardware:
		return "hardware"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Identity is the account a request signs for, resolved once to either a
// local keystore identity or a hardware identity.
type Identity struct {
	kind         Kind
	address      solana.PublicKey
	device       ledger.Device
	accountIndex int
}

// LocalIdentity signs with the local key stored for address.
func LocalIdentity(address solana.PublicKey) Identity {
	return Identity{kind: KindLocal, address: address}
}

// HardwareIdentity signs on device with the key at accountIndex.
func HardwareIdentity(address solana.PublicKey, device ledger.Device, accountIndex int) Identity {
	return Identity{kind: KindHardware, address: address, device: device, accountIndex: accountIndex}
}

// ResolveIdentity routes to hardware only when both a device and an account
// index are present.
func ResolveIdentity(address solana.PublicKey, device *ledger.Device, accountIndex *int) Identity {
	if device != nil && accountIndex != nil {
		return HardwareIdentity(address, *device, *accountIndex)
	}
	return LocalIdentity(address)
}

func (i Identity) Kind() Kind                { return i.kind }
func (i Identity) Address() solana.PublicKey { return i.address }

// Device returns the hardware device and account index. ok is false for local identities.
func (i Identity) Device() (device ledger.Device, accountIndex int, ok bool) {
	return i.device, i.accountIndex, i.kind == KindHardware
}
