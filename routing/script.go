package routing

import (
	"encoding/hex"
	"fmt"
)

// ScriptHashType selects how a script's code hash is matched.
type ScriptHashType uint8

const (
	// HashTypeData matches the code hash against the data hash of a cell.
	HashTypeData ScriptHashType = 0

	// HashTypeType matches the code hash against the type script hash of
	// a cell.
	HashTypeType ScriptHashType = 1

	// HashTypeData1 is HashTypeData run on the first VM version.
	HashTypeData1 ScriptHashType = 2

	// HashTypeData2 is HashTypeData run on the second VM version.
	HashTypeData2 ScriptHashType = 4
)

// String returns the wire name of the hash type.
func (h ScriptHashType) String() string {
	switch h {
	case HashTypeData:
		return "data"

	case HashTypeType:
		return "type"

	case HashTypeData1:
		return "data1"

	case HashTypeData2:
		return "data2"

	default:
		return fmt.Sprintf("unknown(%d)", uint8(h))
	}
}

// ParseScriptHashType parses the wire name of a hash type.
func ParseScriptHashType(s string) (ScriptHashType, error) {
	switch s {
	case "data":
		return HashTypeData, nil

	case "type":
		return HashTypeType, nil

	case "data1":
		return HashTypeData1, nil

	case "data2":
		return HashTypeData2, nil

	default:
		return 0, fmt.Errorf("unknown script hash type %q", s)
	}
}

// AssetScript describes the asset a payment is denominated in when it is not
// the native token.
type AssetScript struct {
	// CodeHash identifies the script code.
	CodeHash [32]byte

	// HashType selects how CodeHash is matched.
	HashType ScriptHashType

	// Args are the script arguments, which identify the asset issuer.
	Args []byte
}

// Key returns a string that uniquely identifies the asset, suitable as a map
// key.
func (a AssetScript) Key() string {
	return fmt.Sprintf("%x:%v:%v", a.CodeHash[:], a.HashType,
		hex.EncodeToString(a.Args))
}
