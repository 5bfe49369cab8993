package repeater

import (
	"strconv"
	"strings"
)

// CodecVersion is pinned in the database. The prefixes below are part of
// every stored tree; changing them requires a new version and a migration.
const CodecVersion = 1

const (
	FieldPrefix = "for-field-"
	HostPrefix  = "for-page-"
)

// ContainerName is the name of the node grouping all items of a field.
func ContainerName(fieldID int64) string {
	return FieldPrefix + strconv.FormatInt(fieldID, 10)
}

// OwnerName is the name of the node grouping the items one host owns in a field.
func OwnerName(hostID int64) string {
	return HostPrefix + strconv.FormatInt(hostID, 10)
}

func DecodeFieldID(name string) (int64, bool) {
	return decode(name, FieldPrefix)
}

func DecodeHostID(name string) (int64, bool) {
	return decode(name, HostPrefix)
}

// decode accepts only canonical positive decimals so that decoding is the
// exact inverse of encoding.
func decode(name, prefix string) (int64, bool) {
	if !strings.HasPrefix(name, prefix) {
		return 0, false
	}
	digits := name[len(prefix):]
	if digits == "" || digits[0] == '0' {
		return 0, false
	}
	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return 0, false
		}
	}
	id, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
