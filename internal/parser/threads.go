package parser

import "github.com/dshills/threadqa-mcp/pkg/types"

// maxThreadHops bounds the walk towards a root
const maxThreadHops = 100

// ReconstructThreads assigns ThreadRootID and ThreadDepth by following
// ParentID through the given messages.
//
// When the walk stops at a message whose parent is not in the set but which
// already carries a thread root (from an earlier ingest or the crawler), that
// root is kept and the depths add up. Reply cycles make every message on the
// cycle its own root.
func ReconstructThreads(messages []*types.Message) {
	byID := make(map[string]*types.Message, len(messages))
	for _, m := range messages {
		byID[m.ID] = m
	}

	type assignment struct {
		root  string
		depth int
	}
	assigned := make(map[string]assignment, len(messages))

	for _, m := range messages {
		top := m
		hops := 0
		visited := map[string]bool{m.ID: true}
		cyclic := false

		for hops < maxThreadHops {
			parent, ok := byID[top.ParentID]
			if top.ParentID == "" || !ok {
				break
			}
			if visited[parent.ID] {
				cyclic = true
				break
			}
			visited[parent.ID] = true
			top = parent
			hops++
		}
		if hops == maxThreadHops {
			cyclic = true
		}

		switch {
		case cyclic:
			assigned[m.ID] = assignment{root: m.ID}
		case top.ParentID != "" && top.ThreadRootID != "" && top.ThreadRootID != top.ID:
			// Parent lives outside this batch
			assigned[m.ID] = assignment{root: top.ThreadRootID, depth: top.ThreadDepth + hops}
		default:
			assigned[m.ID] = assignment{root: top.ID, depth: hops}
		}
	}

	for _, m := range messages {
		a := assigned[m.ID]
		m.ThreadRootID = a.root
		m.ThreadDepth = a.depth
	}
}
