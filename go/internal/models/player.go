package models

// PlayerStatus is the sale state of a player in the auction queue.
type PlayerStatus string

const (
	PlayerStatusUnsold PlayerStatus = "unsold"
	PlayerStatusSold   PlayerStatus = "sold"
)

// Player represents one entry in the auction roster.
//
// SoldPrice and Team are set iff Status is sold. LastBidTeam and
// LastBidAmount are set only while the player is the active lot and has
// received at least one bid.
type Player struct {
	ID            string       `json:"id"`
	FirstName     string       `json:"first_name"`
	LastName      string       `json:"last_name"`
	Grade         string       `json:"grade"`
	BasePrice     int64        `json:"base_price"`
	Status        PlayerStatus `json:"status"`
	SoldPrice     *int64       `json:"sold_price,omitempty"`
	Team          *string      `json:"team,omitempty"`
	LastBidTeam   *string      `json:"last_bid_team,omitempty"`
	LastBidAmount *int64       `json:"last_bid_amount,omitempty"`
}

// FullName returns the player's display name.
func (p Player) FullName() string {
	if p.LastName == "" {
		return p.FirstName
	}
	return p.FirstName + " " + p.LastName
}

// ClearBidFields strips the transient bid stamps from the player.
func (p *Player) ClearBidFields() {
	p.LastBidTeam = nil
	p.LastBidAmount = nil
}
