// Package hdpath parses and builds hierarchical derivation paths.
package hdpath

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// Hardened is the offset added to hardened indices.
const Hardened uint32 = 0x80000000

const (
	purpose        = 44
	solanaCoinType = 501
	heliumCoinType = 904
)

// Path is a sequence of child indices, hardened indices carry the Hardened bit.
type Path []uint32

// Parse reads "m/44'/501'/0'" style paths. The leading "m" is optional and
// hardened components may be marked with ', h or H.
func Parse(s string) (Path, error) {
	parts := strings.Split(strings.TrimSpace(s), "/")
	if len(parts) > 0 && parts[0] == "m" {
		parts = parts[1:]
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("empty derivation path")
	}

	path := make(Path, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			return nil, fmt.Errorf("invalid derivation path %q: empty component", s)
		}

		hardened := false
		if strings.HasSuffix(part, "'") || strings.HasSuffix(part, "h") || strings.HasSuffix(part, "H") {
			hardened = true
			part = part[:len(part)-1]
		}

		val, err := strconv.ParseUint(part, 10, 31)
		if err != nil {
			return nil, fmt.Errorf("invalid path component %q: %w", part, err)
		}

		index := uint32(val)
		if hardened {
			index |= Hardened
		}
		path = append(path, index)
	}
	return path, nil
}

// MustParse is like Parse but panics on error.
func MustParse(s string) Path {
	p, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return p
}

// String renders the path without the "m/" prefix, e.g. 44'/501'/0'.
func (p Path) String() string {
	parts := make([]string, len(p))
	for i, idx := range p {
		if idx&Hardened != 0 {
			parts[i] = strconv.FormatUint(uint64(idx&^Hardened), 10) + "'"
		} else {
			parts[i] = strconv.FormatUint(uint64(idx), 10)
		}
	}
	return strings.Join(parts, "/")
}

// Full renders the path with the "m/" prefix.
func (p Path) Full() string {
	return "m/" + p.String()
}

// AllHardened reports whether every component is hardened.
func (p Path) AllHardened() bool {
	for _, idx := range p {
		if idx&Hardened == 0 {
			return false
		}
	}
	return true
}

// Bytes serializes the path as a component count followed by big-endian indices.
func (p Path) Bytes() []byte {
	buf := make([]byte, 1+4*len(p))
	buf[0] = byte(len(p))
	for i, idx := range p {
		binary.BigEndian.PutUint32(buf[1+4*i:], idx)
	}
	return buf
}

func h(i int) uint32 { return uint32(i) | Hardened }

// Solana returns m/44'/501' for account -1, m/44'/501'/account' when change
// is nil, and m/44'/501'/account'/change' otherwise.
func Solana(account int, change *int) Path {
	if account < 0 {
		return Path{h(purpose), h(solanaCoinType)}
	}
	if change == nil {
		return Path{h(purpose), h(solanaCoinType), h(account)}
	}
	return Path{h(purpose), h(solanaCoinType), h(account), h(*change)}
}

// Helium returns m/44'/904' for account -1 and m/44'/904'/account'/0' otherwise.
func Helium(account int) Path {
	if account < 0 {
		return Path{h(purpose), h(heliumCoinType)}
	}
	return Path{h(purpose), h(heliumCoinType), h(account), h(0)}
}
