// Package render turns a trace into a Graphviz DOT document and lays it out
// with the external dot binary.
package render

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/OFFIS-RIT/reqtrace/pkg/common"
	"github.com/OFFIS-RIT/reqtrace/pkg/coverage"
	"github.com/OFFIS-RIT/reqtrace/pkg/trace"
)

const (
	maxLabelLen   = 50
	maxContentLen = 30
)

type nodeStyle struct {
	prefix   string
	shape    string
	fill     string
	fallback string
}

var (
	customerStyle = nodeStyle{prefix: "cust", shape: "ellipse"}
	platformStyle = nodeStyle{prefix: "plat", shape: "box"}
	systemStyle   = nodeStyle{prefix: "sys", shape: "box", fill: "#E3F2FD", fallback: "System Node"}
	archStyle     = nodeStyle{prefix: "arch", shape: "diamond", fill: "#FFF3E0", fallback: "Arch Node"}
	codeStyle     = nodeStyle{prefix: "code", shape: "note", fill: "#E8F5E9", fallback: "Code Node"}
	testStyle     = nodeStyle{prefix: "test", shape: "hexagon", fill: "#FCE4EC", fallback: "Test Node"}
)

type dotWriter struct {
	b       strings.Builder
	counter int
}

func (w *dotWriter) node(style nodeStyle, label, fill string) string {
	w.counter++
	id := fmt.Sprintf("%s_%d", style.prefix, w.counter)
	fmt.Fprintf(&w.b, "    %s [label=\"%s\", shape=%s, style=filled, fillcolor=\"%s\"];\n", id, EscapeLabel(label), style.shape, fill)
	return id
}

func (w *dotWriter) edge(from, to, label string) {
	fmt.Fprintf(&w.b, "    %s -> %s [label=\"%s\"];\n", from, to, label)
}

// DOT renders t as a directed graph. The coverage color fills the customer and
// platform nodes; downstream layers use fixed colors.
//
// Edges are drawn from one anchor per layer: customer to platform, platform to
// each system node, the first system node (or the platform) to each
// architecture node, the first architecture (or system) node to each code node
// and the first code (or architecture, or system) node to each test node. Links
// between other nodes of the trace are not drawn.
func DOT(t *trace.Trace, classification coverage.Classification) string {
	w := &dotWriter{}
	w.b.WriteString("digraph TraceGraph {\n")
	w.b.WriteString("    rankdir=TB;\n")
	w.b.WriteString("    node [fontname=\"Helvetica\", fontsize=10];\n")
	w.b.WriteString("    edge [fontname=\"Helvetica\", fontsize=8];\n")
	w.b.WriteString("\n")

	if t == nil {
		w.b.WriteString("}")
		return w.b.String()
	}

	color := coverage.ColorHex(classification)

	var customerID, platformID string
	if t.Customer != nil {
		customerID = w.node(customerStyle, "Customer: "+reqIDOrNA(t.Customer), color)
	}
	if t.Platform != nil {
		platformID = w.node(platformStyle, "Platform: "+reqIDOrNA(t.Platform), color)
		if customerID != "" {
			w.edge(customerID, platformID, "matches")
		}
	}

	systemIDs := w.layer(t.System, systemStyle, platformID, "derives")
	archIDs := w.layer(t.Architecture, archStyle, first(systemIDs, platformID), "realizes")
	codeIDs := w.layer(t.Code, codeStyle, first(archIDs, first(systemIDs, "")), "implements")
	w.layer(t.Test, testStyle, first(codeIDs, first(archIDs, first(systemIDs, ""))), "verifies")

	w.b.WriteString("}")
	return w.b.String()
}

// layer writes nodes and connects each one to anchor, if there is one.
func (w *dotWriter) layer(nodes []common.Node, style nodeStyle, anchor, edgeLabel string) []string {
	ids := make([]string, 0, len(nodes))
	for _, n := range nodes {
		label := n.Content
		if label == "" {
			label = style.fallback
		}
		id := w.node(style, truncate(label, maxContentLen), style.fill)
		ids = append(ids, id)
		if anchor != "" {
			w.edge(anchor, id, edgeLabel)
		}
	}
	return ids
}

func first(ids []string, fallback string) string {
	if len(ids) > 0 {
		return ids[0]
	}
	return fallback
}

func reqIDOrNA(n *common.Node) string {
	if n.ReqID == "" {
		return "N/A"
	}
	return n.ReqID
}

// EscapeLabel truncates a label and escapes it for a quoted DOT string. Empty
// labels become "N/A".
func EscapeLabel(s string) string {
	if s == "" {
		return "N/A"
	}
	s = truncate(s, maxLabelLen)
	r := strings.NewReplacer(
		`\`, `\\`,
		`"`, `\"`,
		"\r\n", `\n`,
		"\r", `\n`,
		"\n", `\n`,
	)
	return r.Replace(s)
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
