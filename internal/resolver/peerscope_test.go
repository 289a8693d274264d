package resolver

import (
	"testing"

	"github.com/anvil-platform/pkggraph/internal/depid"
	"github.com/anvil-platform/pkggraph/internal/graph"
	"github.com/anvil-platform/pkggraph/internal/spec"
)

func node(id, name string) *graph.Node {
	return &graph.Node{ID: depid.ID(id), Name: name}
}

func TestPeerTableKeysByAnchor(t *testing.T) {
	tbl := newPeerTable()
	x := node("··x@1.0.0", "x")
	y := node("··y@1.0.0", "y")

	ex := tbl.begin("react", x, "18.2.0")
	ey := tbl.begin("react", y, "19.0.0")
	if ex == ey {
		t.Fatalf("expected separate entries per anchor")
	}
	if got := tbl.get("react", x); got != ex {
		t.Fatalf("expected get to return the entry begun at x")
	}
	if tbl.get("react", node("··z@1.0.0", "z")) != nil {
		t.Fatalf("expected no entry for an unrelated anchor")
	}
	if again := tbl.begin("react", x, "17.0.0"); again != ex || again.version != "18.2.0" {
		t.Fatalf("expected begin to keep the existing entry")
	}
}

func TestPeerTableSettleFlushesWaiters(t *testing.T) {
	tbl := newPeerTable()
	anchor := node("file·.", "root")
	requester := node("··plugin@1.0.0", "plugin")
	s, err := spec.Parse("host", "^1", spec.DefaultOptions())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	e := tbl.begin("host", anchor, "1.0.0")
	if !e.inFlight() {
		t.Fatalf("expected a new entry to be in flight")
	}
	e.wait(requester, graph.DepPeer, s)
	if got := tbl.unsettled(); len(got) != 1 || got[0].name != "host" {
		t.Fatalf("expected one unsettled entry, got %v", got)
	}

	host := node("··host@1.0.0", "host")
	waiting := tbl.settle(e, host)
	if len(waiting) != 1 || waiting[0].from != requester || waiting[0].spec != s {
		t.Fatalf("expected the queued edge back, got %+v", waiting)
	}
	if e.inFlight() || e.node != host {
		t.Fatalf("expected the entry to be settled on host")
	}
	if len(tbl.settle(e, host)) != 0 {
		t.Fatalf("expected waiters to be handed out once")
	}
	if len(tbl.unsettled()) != 0 {
		t.Fatalf("expected nothing unsettled")
	}
	if tbl.abort("host", anchor) != nil {
		t.Fatalf("a settled entry cannot be aborted")
	}
}

func TestPeerTableAbort(t *testing.T) {
	tbl := newPeerTable()
	anchor := node("file·.", "root")
	e := tbl.begin("host", anchor, "1.0.0")
	e.wait(node("··a@1.0.0", "a"), graph.DepPeerOptional, nil)

	waiting := tbl.abort("host", anchor)
	if len(waiting) != 1 || waiting[0].typ != graph.DepPeerOptional {
		t.Fatalf("expected the queued edge back, got %+v", waiting)
	}
	if tbl.get("host", anchor) != nil {
		t.Fatalf("expected the entry to be dropped")
	}
}

func TestScopeChain(t *testing.T) {
	root := node("file·.", "root")
	a := node("··a@1.0.0", "a")
	b := node("··b@1.0.0", "b")

	sc := rootScope(root).push(a).push(b)
	var names []string
	for cur := sc; cur != nil; cur = cur.parent {
		names = append(names, cur.node.Name)
	}
	if len(names) != 3 || names[0] != "b" || names[2] != "root" {
		t.Fatalf("expected nearest-first chain, got %v", names)
	}
}
