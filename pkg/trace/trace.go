// Package trace follows the links of the traceability graph from a platform
// requirement downward and groups what it finds by V-model layer.
package trace

import (
	"context"
	"fmt"

	"github.com/OFFIS-RIT/reqtrace/pkg/common"
	"github.com/OFFIS-RIT/reqtrace/pkg/logger"

	list "github.com/bahlo/generic-list-go"
)

// GraphReader is the read-only view of the node and link store used for
// tracing. FindNodeByReqID returns (nil, nil) when no node matches.
type GraphReader interface {
	FindNodeByReqID(ctx context.Context, scope common.Scope, reqID string) (*common.Node, error)
	ListOutboundTargets(ctx context.Context, sourceID string) ([]string, error)
	GetNodesByIDs(ctx context.Context, ids []string) ([]common.Node, error)
}

// Trace is the downstream view of one customer/platform requirement pair.
// Missing requirements leave the pointer nil and the buckets empty.
type Trace struct {
	Customer     *common.Node  `json:"customer"`
	Platform     *common.Node  `json:"platform"`
	System       []common.Node `json:"system"`
	Architecture []common.Node `json:"architecture"`
	Code         []common.Node `json:"code"`
	Test         []common.Node `json:"test"`
}

// Empty reports whether the trace has no downstream nodes.
func (t *Trace) Empty() bool {
	return len(t.System) == 0 && len(t.Architecture) == 0 && len(t.Code) == 0 && len(t.Test) == 0
}

type Builder struct {
	graph GraphReader
}

func NewBuilder(graph GraphReader) *Builder {
	return &Builder{graph: graph}
}

// Build looks up both requirements and collects every node reachable from the
// platform requirement over outbound links. Buckets keep discovery order.
func (b *Builder) Build(ctx context.Context, customerReqID, platformReqID string) (*Trace, error) {
	t := &Trace{
		System:       []common.Node{},
		Architecture: []common.Node{},
		Code:         []common.Node{},
		Test:         []common.Node{},
	}

	customer, err := b.graph.FindNodeByReqID(ctx, common.ScopeCustomer, customerReqID)
	if err != nil {
		return nil, fmt.Errorf("find customer requirement %q: %w", customerReqID, err)
	}
	t.Customer = customer

	platform, err := b.graph.FindNodeByReqID(ctx, common.ScopePlatform, platformReqID)
	if err != nil {
		return nil, fmt.Errorf("find platform requirement %q: %w", platformReqID, err)
	}
	t.Platform = platform
	if platform == nil {
		logger.Debug("[Trace] Platform requirement not found", "platform_req_id", platformReqID)
		return t, nil
	}

	ids, err := b.reachable(ctx, platform.ID)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return t, nil
	}

	nodes, err := b.graph.GetNodesByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load traced nodes: %w", err)
	}
	byID := make(map[string]common.Node, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}

	dropped := 0
	for _, id := range ids {
		n, ok := byID[id]
		if !ok {
			dropped++
			continue
		}
		scope, _ := common.ParseScope(string(n.Scope))
		switch scope {
		case common.ScopeSystem:
			t.System = append(t.System, n)
		case common.ScopeArchitecture:
			t.Architecture = append(t.Architecture, n)
		case common.ScopeCode:
			t.Code = append(t.Code, n)
		case common.ScopeTest:
			t.Test = append(t.Test, n)
		default:
			dropped++
		}
	}

	logger.Debug(
		"[Trace] Built",
		"platform_req_id", platformReqID,
		"system", len(t.System),
		"architecture", len(t.Architecture),
		"code", len(t.Code),
		"test", len(t.Test),
		"dropped", dropped,
	)
	return t, nil
}

// reachable runs a breadth-first search from start and returns the ids of all
// reached nodes except start itself, in discovery order.
func (b *Builder) reachable(ctx context.Context, start string) ([]string, error) {
	visited := map[string]struct{}{start: {}}
	queue := list.New[string]()
	queue.PushBack(start)

	var order []string
	for queue.Len() > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		current := queue.Remove(queue.Front())

		targets, err := b.graph.ListOutboundTargets(ctx, current)
		if err != nil {
			return nil, fmt.Errorf("list links of node %s: %w", current, err)
		}
		for _, target := range targets {
			if _, seen := visited[target]; seen {
				continue
			}
			visited[target] = struct{}{}
			order = append(order, target)
			queue.PushBack(target)
		}
	}
	return order, nil
}
