package state

import (
	"fmt"
	"math/big"
	"strings"

	"energon/pkg/models"
)

const (
	traitRarity  = "rarity tier"
	traitGenesis = "genesis status"
	traitType    = "type"
)

func attribute(attrs []models.Attribute, trait string) (string, bool) {
	for _, a := range attrs {
		if strings.EqualFold(strings.TrimSpace(a.TraitType), trait) && a.Value != nil {
			return strings.TrimSpace(fmt.Sprint(a.Value)), true
		}
	}
	return "", false
}

// RarityLabel returns the "Rarity Tier" attribute, or "" when absent.
func RarityLabel(attrs []models.Attribute) string {
	v, _ := attribute(attrs, traitRarity)
	return v
}

// IsGenesis treats token 1 as Genesis regardless of metadata; otherwise the
// "Genesis Status" or "Type" attribute decides.
func IsGenesis(tokenID *big.Int, attrs []models.Attribute) bool {
	if tokenID != nil && tokenID.Cmp(big.NewInt(1)) == 0 {
		return true
	}
	for _, trait := range []string{traitGenesis, traitType} {
		v, ok := attribute(attrs, trait)
		if !ok {
			continue
		}
		v = strings.ToLower(v)
		switch {
		case v == "true" || v == "yes" || v == "1":
			return true
		case strings.HasPrefix(v, "non") || strings.HasPrefix(v, "not"):
			continue
		case strings.Contains(v, "genesis"):
			return true
		}
	}
	return false
}
