package auction

import "github.com/turflads/crazy-bids-sub000/go/internal/models"

// GradeRule configures one grade tier: its base price, the number of players
// of that grade each team must end up with, and an optional hard cap on a
// single bid for the tier.
type GradeRule struct {
	Grade     string `yaml:"name" json:"grade"`
	BasePrice int64  `yaml:"base_price" json:"base_price"`
	Quota     int    `yaml:"quota" json:"quota"`
	MaxBid    *int64 `yaml:"max_bid,omitempty" json:"max_bid,omitempty"`
}

// MaxBid computes the highest amount team may bid on a player of activeGrade
// given the full roster. Reserving the base price of every still-unsold
// player guarantees the team can never be mathematically locked out of
// completing a legal roster.
//
// This is the authoritative calculation; use MaxBidFromQuotas only when the
// roster is unavailable.
func MaxBid(team *models.Team, players []models.Player, activeGrade string, rules map[string]GradeRule) int64 {
	var reserved int64
	for _, p := range players {
		if p.Status == models.PlayerStatusUnsold {
			reserved += p.BasePrice
		}
	}
	return capAndFloor(team.TotalPurse-reserved, activeGrade, rules)
}

// MaxBidFromQuotas is the roster-free fallback: it reserves base price for
// every grade slot the team still has to fill, excluding one slot of the
// active player's own grade since the bid under consideration is that slot.
func MaxBidFromQuotas(team *models.Team, activeGrade string, rules map[string]GradeRule) int64 {
	var reserved int64
	for grade, rule := range rules {
		slots := rule.Quota - team.GradeCount[grade]
		if slots < 0 {
			slots = 0
		}
		if grade == activeGrade && slots > 0 {
			slots--
		}
		reserved += rule.BasePrice * int64(slots)
	}
	return capAndFloor(team.PurseRemaining()-reserved, activeGrade, rules)
}

func capAndFloor(max int64, activeGrade string, rules map[string]GradeRule) int64 {
	if rule, ok := rules[activeGrade]; ok && rule.MaxBid != nil && max > *rule.MaxBid {
		max = *rule.MaxBid
	}
	if max < 0 {
		return 0
	}
	return max
}
