package model

type ClientRecord struct {
	Id                 string `json:"id"`
	Registered         bool   `json:"registered"`
	LastSubmittedRound int    `json:"last_submitted_round"`
	Nonce              uint64 `json:"nonce"`
	Balance            int64  `json:"balance"`
}

type RoundUpdate struct {
	ClientId    string `json:"client_id"`
	ArtifactRef string `json:"artifact_ref"`
}

type RoundRecord struct {
	RoundNumber     int           `json:"round_number"`
	Updates         []RoundUpdate `json:"updates"`
	QuorumThreshold int           `json:"quorum_threshold"`
	Finalized       bool          `json:"finalized"`
}

// QuorumMet reports whether the round holds enough updates to be finalized.
func (r *RoundRecord) QuorumMet() bool {
	return len(r.Updates) >= r.QuorumThreshold
}
