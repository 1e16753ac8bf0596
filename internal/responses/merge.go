package responses

import (
	"sort"

	"sehat-saathi/internal/models"
)

// Merge combines the visible list with a full server result set.
//
// Simulated entries in current are kept, every other entry in current is replaced by
// incoming. The result has no duplicate ids (first occurrence wins, simulated entries
// first) and is ordered by RespondedAt, newest first. Neither input is modified.
func Merge(current, incoming []models.HospitalResponse) []models.HospitalResponse {
	out := make([]models.HospitalResponse, 0, len(current)+len(incoming))
	seen := make(map[string]struct{}, len(current)+len(incoming))
	add := func(r models.HospitalResponse) {
		if _, dup := seen[r.ID]; dup {
			return
		}
		seen[r.ID] = struct{}{}
		out = append(out, r)
	}

	for _, r := range current {
		if r.IsSimulated() {
			add(r)
		}
	}
	for _, r := range incoming {
		add(r)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RespondedAt.After(out[j].RespondedAt)
	})
	return out
}

// Insert adds a single row announced by the realtime feed. It goes through Merge with the
// server rows already visible, so an insert never evicts earlier fetch results.
func Insert(current []models.HospitalResponse, row models.HospitalResponse) []models.HospitalResponse {
	incoming := make([]models.HospitalResponse, 0, len(current)+1)
	for _, r := range current {
		if !r.IsSimulated() {
			incoming = append(incoming, r)
		}
	}
	incoming = append(incoming, row)
	return Merge(current, incoming)
}

// PollingActive reports whether the fallback poller should run for a feed in status s.
func PollingActive(s models.ConnectionStatus) bool {
	return s != models.StatusSubscribed
}
