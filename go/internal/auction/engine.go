// Package auction implements the bidding state machine and the
// max-affordable-bid calculator.
//
// Every transition is a total function over (documents, command): it either
// returns fully built replacement documents or a sentinel error with no
// state change. Inputs are never mutated, so callers can retry or discard
// freely.
package auction

import (
	"errors"

	"github.com/turflads/crazy-bids-sub000/go/internal/models"
)

// Errors returned by rejected commands.
var (
	ErrAuctionPaused   = errors.New("auction is not active")
	ErrNoCurrentPlayer = errors.New("no player is up for bidding")
	ErrBidTooLow       = errors.New("bid does not beat the current bid")
	ErrNoBids          = errors.New("no bids on the current player")
	ErrUnknownTeam     = errors.New("unknown team")
	ErrEmptyRoster     = errors.New("roster is empty")
)

// PlaceBid puts amount on the table for the active lot on behalf of team.
//
// The first bid must be at least the base price; every later bid must
// strictly beat the current one. The max-bid calculator is advisory only;
// amounts above a team's max bid are accepted.
func PlaceBid(doc *models.AuctionDocument, team string, amount int64) (*models.AuctionDocument, error) {
	if !doc.IsAuctionActive {
		return nil, ErrAuctionPaused
	}
	cur := doc.CurrentPlayer()
	if cur == nil {
		return nil, ErrNoCurrentPlayer
	}
	if doc.HasBids {
		if amount <= doc.CurrentBid {
			return nil, ErrBidTooLow
		}
	} else if amount < cur.BasePrice {
		return nil, ErrBidTooLow
	}

	next := doc.Clone()
	player := next.CurrentPlayer()
	if next.HasBids && player.LastBidTeam != nil {
		next.BidHistory = append(next.BidHistory, models.BidRecord{
			Team:   *player.LastBidTeam,
			Amount: next.CurrentBid,
		})
	}
	next.CurrentBid = amount
	next.HasBids = true
	player.LastBidTeam = &team
	bid := amount
	player.LastBidAmount = &bid
	return next, nil
}

// CancelBid undoes the most recent bid. If the undo stack still holds an
// earlier bid it is restored; otherwise the lot returns to its idle state at
// base price.
func CancelBid(doc *models.AuctionDocument) (*models.AuctionDocument, error) {
	if !doc.IsAuctionActive {
		return nil, ErrAuctionPaused
	}
	if doc.CurrentPlayer() == nil {
		return nil, ErrNoCurrentPlayer
	}

	next := doc.Clone()
	player := next.CurrentPlayer()
	if n := len(next.BidHistory); n > 0 {
		prev := next.BidHistory[n-1]
		next.BidHistory = next.BidHistory[:n-1]
		next.CurrentBid = prev.Amount
		team := prev.Team
		amount := prev.Amount
		player.LastBidTeam = &team
		player.LastBidAmount = &amount
		return next, nil
	}
	next.CurrentBid = player.BasePrice
	next.HasBids = false
	player.ClearBidFields()
	return next, nil
}

// MarkSold awards the active lot to the highest bidder at the current bid,
// updates the winning team's purse, roster and grade counts, and advances
// the queue to the next lot.
func MarkSold(doc *models.AuctionDocument, teams *models.TeamsDocument) (*models.AuctionDocument, *models.TeamsDocument, error) {
	if !doc.IsAuctionActive {
		return nil, nil, ErrAuctionPaused
	}
	cur := doc.CurrentPlayer()
	if cur == nil {
		return nil, nil, ErrNoCurrentPlayer
	}
	if !doc.HasBids || cur.LastBidTeam == nil {
		return nil, nil, ErrNoBids
	}
	winner := *cur.LastBidTeam
	if _, ok := teams.Teams[winner]; !ok {
		return nil, nil, ErrUnknownTeam
	}

	nextAuction := doc.Clone()
	nextTeams := teams.Clone()

	player := nextAuction.CurrentPlayer()
	soldPrice := nextAuction.CurrentBid
	player.Status = models.PlayerStatusSold
	player.SoldPrice = &soldPrice
	team := winner
	player.Team = &team
	player.ClearBidFields()

	buyer := nextTeams.Teams[winner]
	buyer.UsedPurse += soldPrice
	buyer.Players = append(buyer.Players, *player)
	if buyer.GradeCount == nil {
		buyer.GradeCount = make(map[string]int)
	}
	buyer.GradeCount[player.Grade]++

	idx := nextAuction.CurrentPlayerIndex + 1
	if idx > len(nextAuction.Players)-1 {
		idx = len(nextAuction.Players) - 1
	}
	nextAuction.CurrentPlayerIndex = idx
	nextAuction.CurrentBid = nextAuction.Players[idx].BasePrice
	nextAuction.HasBids = false
	nextAuction.BidHistory = nil
	return nextAuction, nextTeams, nil
}

// MarkUnsold pulls the active lot from its queue position and re-appends it
// at the end with all bid state cleared, giving the player exactly one more
// pass through the queue. The index does not move numerically: the player
// that shifts into the vacated slot becomes the next lot.
func MarkUnsold(doc *models.AuctionDocument) (*models.AuctionDocument, error) {
	if !doc.IsAuctionActive {
		return nil, ErrAuctionPaused
	}
	if doc.CurrentPlayer() == nil {
		return nil, ErrNoCurrentPlayer
	}

	next := doc.Clone()
	idx := next.CurrentPlayerIndex
	pulled := next.Players[idx]
	pulled.Status = models.PlayerStatusUnsold
	pulled.SoldPrice = nil
	pulled.Team = nil
	pulled.ClearBidFields()

	next.Players = append(next.Players[:idx], next.Players[idx+1:]...)
	next.Players = append(next.Players, pulled)

	next.CurrentBid = next.Players[idx].BasePrice
	next.HasBids = false
	next.BidHistory = nil
	return next, nil
}

// Reset rebuilds both documents from a freshly loaded roster and team
// configuration. The auction starts paused on the first player.
func Reset(players []models.Player, teams []models.Team) (*models.AuctionDocument, *models.TeamsDocument, error) {
	if len(players) == 0 {
		return nil, nil, ErrEmptyRoster
	}

	roster := make([]models.Player, len(players))
	copy(roster, players)
	for i := range roster {
		roster[i].Status = models.PlayerStatusUnsold
		roster[i].SoldPrice = nil
		roster[i].Team = nil
		roster[i].ClearBidFields()
	}

	doc := &models.AuctionDocument{
		Players:            roster,
		CurrentPlayerIndex: 0,
		CurrentBid:         roster[0].BasePrice,
		IsAuctionActive:    false,
		HasBids:            false,
	}
	return doc, models.NewTeamsDocument(teams), nil
}

// StartAuction marks the auction running. No other field changes.
func StartAuction(doc *models.AuctionDocument) *models.AuctionDocument {
	next := doc.Clone()
	next.IsAuctionActive = true
	return next
}

// PauseAuction marks the auction paused. No other field changes.
func PauseAuction(doc *models.AuctionDocument) *models.AuctionDocument {
	next := doc.Clone()
	next.IsAuctionActive = false
	return next
}
