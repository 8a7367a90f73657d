package models

// BidRecord is one undo-stack entry: the bid that was on the table before it
// was overwritten by a higher one.
type BidRecord struct {
	Team   string `json:"team"`
	Amount int64  `json:"amount"`
}

// AuctionDocument is the singleton auction state: the bidding queue, the
// active lot and the bid currently on the table.
type AuctionDocument struct {
	Players            []Player    `json:"players"`
	CurrentPlayerIndex int         `json:"current_player_index"`
	CurrentBid         int64       `json:"current_bid"`
	IsAuctionActive    bool        `json:"is_auction_active"`
	HasBids            bool        `json:"has_bids"`
	BidHistory         []BidRecord `json:"bid_history"`
}

// CurrentPlayer returns a pointer to the active lot, or nil when the queue
// is empty or the index is out of range.
func (d *AuctionDocument) CurrentPlayer() *Player {
	if len(d.Players) == 0 || d.CurrentPlayerIndex < 0 || d.CurrentPlayerIndex >= len(d.Players) {
		return nil
	}
	return &d.Players[d.CurrentPlayerIndex]
}

// Clone returns a deep copy of the document.
func (d *AuctionDocument) Clone() *AuctionDocument {
	out := &AuctionDocument{
		CurrentPlayerIndex: d.CurrentPlayerIndex,
		CurrentBid:         d.CurrentBid,
		IsAuctionActive:    d.IsAuctionActive,
		HasBids:            d.HasBids,
	}
	if d.Players != nil {
		out.Players = make([]Player, len(d.Players))
		copy(out.Players, d.Players)
		for i := range out.Players {
			clonePlayerPointers(&out.Players[i])
		}
	}
	if d.BidHistory != nil {
		out.BidHistory = make([]BidRecord, len(d.BidHistory))
		copy(out.BidHistory, d.BidHistory)
	}
	return out
}

// clonePlayerPointers re-boxes the optional fields so a copied player does
// not alias the original's pointers.
func clonePlayerPointers(p *Player) {
	if p.SoldPrice != nil {
		v := *p.SoldPrice
		p.SoldPrice = &v
	}
	if p.Team != nil {
		v := *p.Team
		p.Team = &v
	}
	if p.LastBidTeam != nil {
		v := *p.LastBidTeam
		p.LastBidTeam = &v
	}
	if p.LastBidAmount != nil {
		v := *p.LastBidAmount
		p.LastBidAmount = &v
	}
}
