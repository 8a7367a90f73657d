package auction_test

import (
	"testing"

	"github.com/turflads/crazy-bids-sub000/go/internal/auction"
	"github.com/turflads/crazy-bids-sub000/go/internal/models"
)

func int64p(v int64) *int64 { return &v }

func testRules() map[string]auction.GradeRule {
	return map[string]auction.GradeRule{
		"A": {Grade: "A", BasePrice: 2_000_000, Quota: 2},
		"B": {Grade: "B", BasePrice: 1_000_000, Quota: 3},
	}
}

func TestMaxBid(t *testing.T) {
	team := &models.Team{Name: "X", TotalPurse: 10_000_000}

	tests := []struct {
		name        string
		players     []models.Player
		activeGrade string
		rules       map[string]auction.GradeRule
		want        int64
	}{
		{
			name: "reserves base price of all unsold players",
			players: []models.Player{
				{ID: "p1", Grade: "A", BasePrice: 2_000_000, Status: models.PlayerStatusUnsold},
				{ID: "p2", Grade: "A", BasePrice: 2_000_000, Status: models.PlayerStatusUnsold},
				{ID: "p3", Grade: "B", BasePrice: 1_000_000, Status: models.PlayerStatusSold},
			},
			activeGrade: "A",
			rules:       testRules(),
			want:        6_000_000,
		},
		{
			name: "grade cap wins when lower",
			players: []models.Player{
				{ID: "p1", Grade: "A", BasePrice: 2_000_000, Status: models.PlayerStatusUnsold},
			},
			activeGrade: "A",
			rules: map[string]auction.GradeRule{
				"A": {Grade: "A", BasePrice: 2_000_000, Quota: 2, MaxBid: int64p(5_000_000)},
			},
			want: 5_000_000,
		},
		{
			name: "clamped to zero when reservations exceed purse",
			players: []models.Player{
				{ID: "p1", Grade: "A", BasePrice: 6_000_000, Status: models.PlayerStatusUnsold},
				{ID: "p2", Grade: "A", BasePrice: 6_000_000, Status: models.PlayerStatusUnsold},
			},
			activeGrade: "A",
			rules:       testRules(),
			want:        0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := auction.MaxBid(team, tt.players, tt.activeGrade, tt.rules)
			if got != tt.want {
				t.Errorf("MaxBid() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestMaxBidMonotonicInUnsoldBase(t *testing.T) {
	team := &models.Team{Name: "X", TotalPurse: 10_000_000}
	rules := testRules()

	players := []models.Player{
		{ID: "p1", Grade: "A", BasePrice: 2_000_000, Status: models.PlayerStatusUnsold},
	}
	prev := auction.MaxBid(team, players, "A", rules)
	for i := 0; i < 6; i++ {
		players = append(players, models.Player{
			ID: "q", Grade: "B", BasePrice: 1_000_000, Status: models.PlayerStatusUnsold,
		})
		got := auction.MaxBid(team, players, "A", rules)
		if got > prev {
			t.Fatalf("MaxBid increased from %d to %d as unsold base grew", prev, got)
		}
		if got < 0 {
			t.Fatalf("MaxBid() = %d, want >= 0", got)
		}
		prev = got
	}
}

func TestMaxBidFromQuotas(t *testing.T) {
	tests := []struct {
		name        string
		team        *models.Team
		activeGrade string
		rules       map[string]auction.GradeRule
		want        int64
	}{
		{
			name: "fresh team reserves all slots except the active one",
			team: &models.Team{Name: "X", TotalPurse: 10_000_000, GradeCount: map[string]int{}},
			// Reserve one A slot (2M) and three B slots (3M): 10M - 5M.
			activeGrade: "A",
			rules:       testRules(),
			want:        5_000_000,
		},
		{
			name: "filled quota frees the reservation",
			team: &models.Team{
				Name: "X", TotalPurse: 10_000_000, UsedPurse: 4_000_000,
				GradeCount: map[string]int{"A": 2, "B": 1},
			},
			// A quota full, two B slots left, one excluded as the active slot.
			activeGrade: "B",
			rules:       testRules(),
			want:        5_000_000,
		},
		{
			name: "over-quota counts never go negative",
			team: &models.Team{
				Name: "X", TotalPurse: 10_000_000, UsedPurse: 9_500_000,
				GradeCount: map[string]int{"A": 3, "B": 3},
			},
			activeGrade: "A",
			rules:       testRules(),
			want:        500_000,
		},
		{
			name: "clamped to zero",
			team: &models.Team{
				Name: "X", TotalPurse: 10_000_000, UsedPurse: 9_800_000,
				GradeCount: map[string]int{},
			},
			activeGrade: "A",
			rules:       testRules(),
			want:        0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := auction.MaxBidFromQuotas(tt.team, tt.activeGrade, tt.rules)
			if got != tt.want {
				t.Errorf("MaxBidFromQuotas() = %d, want %d", got, tt.want)
			}
		})
	}
}
