package notification

import (
	"sort"
	"time"
)

// Group is one displayed inbox item: every physical document referring
// to the same logical event, collapsed.
type Group struct {
	Key         string `json:"key"`
	Type        Type   `json:"type"`
	Correlation string `json:"correlation"`
	// Title, Message and CreatedAt come from the most recently created
	// member.
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
	// Read is true only when every member document has been read.
	Read      bool     `json:"read"`
	MemberIDs []string `json:"member_ids"`
}

// groupKey identifies one logical event for merging.
func groupKey(n *Notification) string {
	return string(n.Type) + "|" + n.Correlation()
}

// Merge collapses physical notification documents into displayed
// groups, newest group first. Within a group the displayed fields come
// from the newest member and the merged read state is the conjunction
// of member read states.
func Merge(items []Notification) []Group {
	byKey := make(map[string][]Notification)
	order := make([]string, 0)
	for _, n := range items {
		k := groupKey(&n)
		if _, seen := byKey[k]; !seen {
			order = append(order, k)
		}
		byKey[k] = append(byKey[k], n)
	}

	groups := make([]Group, 0, len(order))
	for _, k := range order {
		members := byKey[k]
		newest := members[0]
		read := true
		ids := make([]string, 0, len(members))
		for _, m := range members {
			ids = append(ids, m.ID)
			if m.CreatedAt.After(newest.CreatedAt) {
				newest = m
			}
			if !m.Read {
				read = false
			}
		}
		groups = append(groups, Group{
			Key:         k,
			Type:        newest.Type,
			Correlation: newest.Correlation(),
			Title:       newest.Title,
			Message:     newest.Message,
			CreatedAt:   newest.CreatedAt,
			Read:        read,
			MemberIDs:   ids,
		})
	}

	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].CreatedAt.After(groups[j].CreatedAt)
	})
	return groups
}
