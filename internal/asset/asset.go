// Package asset validates asset identifiers accepted at the service boundary.
// Inside the engine an asset id is opaque; this package only decides which
// strings are well-formed.
package asset

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/atmx/barter-engine/internal/model"
)

// MaxIDLen is the longest accepted asset id.
const MaxIDLen = 128

// idRegex matches: an alphanumeric first character followed by alphanumerics
// and the separators . _ : / -
// Examples: 7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU, punks:7804, art/gen-1.42
var idRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:/-]*$`)

var (
	ErrInvalidID = errors.New("asset: invalid asset id")
	ErrEmptyList = errors.New("asset: asset list is empty")
)

// ParseID validates and returns an asset id. Surrounding whitespace is trimmed.
func ParseID(raw string) (model.AssetID, error) {
	id := strings.TrimSpace(raw)
	if id == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidID)
	}
	if len(id) > MaxIDLen {
		return "", fmt.Errorf("%w: longer than %d characters", ErrInvalidID, MaxIDLen)
	}
	if !idRegex.MatchString(id) {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return model.AssetID(id), nil
}

// ParseIDs validates every id in raw. Duplicates are kept; the engine treats
// the result as a set.
func ParseIDs(raw []string) ([]model.AssetID, error) {
	if len(raw) == 0 {
		return nil, ErrEmptyList
	}
	ids := make([]model.AssetID, 0, len(raw))
	for _, r := range raw {
		id, err := ParseID(r)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
