package model

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// AssetStatus is the answer to an asset request. Clients only ever see one of these values.
type AssetStatus int

// Asset statuses.
const (
	AssetStatusUnknown AssetStatus = iota
	AssetStatusQueued
	AssetStatusCompiling
	AssetStatusCompiled
	AssetStatusFailed
	AssetStatusMissing
)

var assetStatusNames = map[AssetStatus]string{
	AssetStatusUnknown:   "unknown",
	AssetStatusQueued:    "queued",
	AssetStatusCompiling: "compiling",
	AssetStatusCompiled:  "compiled",
	AssetStatusFailed:    "failed",
	AssetStatusMissing:   "missing",
}

func (s AssetStatus) String() string {
	if name, ok := assetStatusNames[s]; ok {
		return name
	}
	return "unknown"
}

// ParseAssetStatus is the inverse of AssetStatus.String.
func ParseAssetStatus(name string) (AssetStatus, error) {
	for status, n := range assetStatusNames {
		if n == name {
			return status, nil
		}
	}
	return AssetStatusUnknown, errors.Errorf("invalid asset status: %q", name)
}

// MarshalJSON implements the json.Marshaler interface.
func (s AssetStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (s *AssetStatus) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return err
	}
	parsed, err := ParseAssetStatus(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
