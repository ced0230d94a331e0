package dispatch

import "github.com/aceteam-ai/opencorp/internal/budget"

// selectTiers orders the tiers to try. order runs from most to least
// expensive; its last entry is the cheapest tier.
//
//	normal:              requested, then every cheaper tier
//	caution:             most expensive tier demoted to the rest, otherwise requested + cheapest
//	austerity and worse: cheapest only
func selectTiers(order []string, requested string, status budget.Status) []string {
	if len(order) == 0 {
		return []string{requested}
	}
	cheapest := order[len(order)-1]

	switch status {
	case budget.StatusNormal, "":
		for i, t := range order {
			if t == requested {
				return append([]string(nil), order[i:]...)
			}
		}
		return []string{requested}
	case budget.StatusCaution:
		if requested == order[0] && len(order) > 1 {
			return append([]string(nil), order[1:]...)
		}
		return dedupe([]string{requested, cheapest})
	default:
		return []string{cheapest}
	}
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0:0]
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
