// Package lane splits a message buffer into per-role subsequences in a
// single linear, stable scan (spec §4.3).
package lane

import "github.com/forgevm/vmpage/types"

// Partition is the lane-partitioned view of a buffer. FirstSystemIndex is
// the index, in the original buffer, of the first system message — the
// original system prompt protected by invariant 1 — or -1 if none exists.
type Partition struct {
	FirstSystemIndex int
	Assistant        []types.Message
	User             []types.Message
	System           []types.Message
	Tool             []types.Message
	Other            []types.Message
}

// Split performs a single O(n) scan over msgs, routing each message into
// its lane's subsequence while preserving relative order within each lane.
func Split(msgs []types.Message) Partition {
	p := Partition{FirstSystemIndex: -1}
	for i, m := range msgs {
		switch types.LaneOf(m.Role) {
		case types.LaneAssistant:
			p.Assistant = append(p.Assistant, m)
		case types.LaneUser:
			p.User = append(p.User, m)
		case types.LaneSystem:
			if p.FirstSystemIndex == -1 {
				p.FirstSystemIndex = i
			}
			p.System = append(p.System, m)
		case types.LaneTool:
			p.Tool = append(p.Tool, m)
		default:
			p.Other = append(p.Other, m)
		}
	}
	return p
}

// Lane returns the subsequence for the given lane (Other for LaneOther), or
// nil for LaneMixed, which never appears in a partition.
func (p Partition) Lane(l types.Lane) []types.Message {
	switch l {
	case types.LaneAssistant:
		return p.Assistant
	case types.LaneUser:
		return p.User
	case types.LaneSystem:
		return p.System
	case types.LaneTool:
		return p.Tool
	case types.LaneOther:
		return p.Other
	default:
		return nil
	}
}
