package models

// Team represents a bidding team and its purchases.
//
// UsedPurse equals the sum of SoldPrice over Players; it only decreases via
// an explicit correction (a full Teams document replace).
type Team struct {
	Name       string         `json:"name"`
	TotalPurse int64          `json:"total_purse"`
	UsedPurse  int64          `json:"used_purse"`
	Players    []Player       `json:"players"`
	GradeCount map[string]int `json:"grade_count"`
}

// PurseRemaining returns the team's unspent purse.
func (t *Team) PurseRemaining() int64 {
	return t.TotalPurse - t.UsedPurse
}

// Clone returns a deep copy of the team.
func (t *Team) Clone() *Team {
	out := &Team{
		Name:       t.Name,
		TotalPurse: t.TotalPurse,
		UsedPurse:  t.UsedPurse,
	}
	if t.Players != nil {
		out.Players = make([]Player, len(t.Players))
		copy(out.Players, t.Players)
		for i := range out.Players {
			clonePlayerPointers(&out.Players[i])
		}
	}
	if t.GradeCount != nil {
		out.GradeCount = make(map[string]int, len(t.GradeCount))
		for g, n := range t.GradeCount {
			out.GradeCount[g] = n
		}
	}
	return out
}

// TeamsDocument is the singleton mapping of team name to Team.
type TeamsDocument struct {
	Teams map[string]*Team `json:"teams"`
}

// NewTeamsDocument builds a Teams document with zeroed purses for the given
// team configurations.
func NewTeamsDocument(teams []Team) *TeamsDocument {
	doc := &TeamsDocument{Teams: make(map[string]*Team, len(teams))}
	for _, t := range teams {
		doc.Teams[t.Name] = &Team{
			Name:       t.Name,
			TotalPurse: t.TotalPurse,
			Players:    []Player{},
			GradeCount: make(map[string]int),
		}
	}
	return doc
}

// Clone returns a deep copy of the document.
func (d *TeamsDocument) Clone() *TeamsDocument {
	out := &TeamsDocument{Teams: make(map[string]*Team, len(d.Teams))}
	for name, t := range d.Teams {
		out.Teams[name] = t.Clone()
	}
	return out
}

// TotalUsedPurse sums UsedPurse across all teams.
func (d *TeamsDocument) TotalUsedPurse() int64 {
	var total int64
	for _, t := range d.Teams {
		total += t.UsedPurse
	}
	return total
}
