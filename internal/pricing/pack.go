package pricing

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cs350892/market-server/internal/common"
)

// ErrUnknownPack is wrapped when a line references a pack size the product does not offer.
var ErrUnknownPack = errors.New("unknown pack size")

// PackSize converts a purchased pack into Multiplier base units.
type PackSize struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Multiplier int    `json:"multiplier"`
}

// MaxPackMultiplier bounds how many base units one pack may hold.
const MaxPackMultiplier = 10_000

// UnitPack is used when a line names no pack size.
var UnitPack = PackSize{ID: "", Name: "unit", Multiplier: 1}

// ValidatePacks rejects blank or duplicate ids and multipliers outside [1, MaxPackMultiplier].
func ValidatePacks(packs []PackSize) error {
	fields := map[string]string{}
	seen := make(map[string]struct{}, len(packs))
	for i, p := range packs {
		key := fmt.Sprintf("packSizes[%d]", i)
		id := strings.TrimSpace(p.ID)
		switch {
		case id == "":
			fields[key] = "id is required"
		case p.Multiplier < 1:
			fields[key] = "multiplier must be at least 1"
		case p.Multiplier > MaxPackMultiplier:
			fields[key] = fmt.Sprintf("multiplier must be at most %d", MaxPackMultiplier)
		default:
			if _, dup := seen[id]; dup {
				fields[key] = fmt.Sprintf("duplicate id %q", id)
			}
			seen[id] = struct{}{}
		}
	}
	if len(fields) > 0 {
		return common.ValidationFailed("invalid pack sizes", map[string]any{"fields": fields}, nil)
	}
	return nil
}

// ResolvePack finds the pack by id. An empty id is the implicit single-unit pack.
func ResolvePack(packs []PackSize, id string) (PackSize, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return UnitPack, nil
	}
	for _, p := range packs {
		if p.ID == id {
			return p, nil
		}
	}
	return PackSize{}, common.InvalidInput(fmt.Sprintf("unknown pack size %q", id), fmt.Errorf("%w: %s", ErrUnknownPack, id))
}
