package main

import (
	"fmt"
	"io"
	"sort"

	"sigs.k8s.io/yaml"

	"github.com/anvil-platform/pkggraph/internal/graph"
	"github.com/anvil-platform/pkggraph/internal/resolver"
)

type planReport struct {
	Nodes              []nodeReport       `json:"nodes"`
	UnresolvedRequired []unresolvedReport `json:"unresolvedRequired,omitempty"`
	UnresolvedOptional []unresolvedReport `json:"unresolvedOptional,omitempty"`
	PeerConflicts      []conflictReport   `json:"peerConflicts,omitempty"`
}

type nodeReport struct {
	ID       string       `json:"id"`
	Name     string       `json:"name"`
	Version  string       `json:"version,omitempty"`
	Location string       `json:"location"`
	Importer bool         `json:"importer,omitempty"`
	Dev      bool         `json:"dev,omitempty"`
	Optional bool         `json:"optional,omitempty"`
	Edges    []edgeReport `json:"edges,omitempty"`
}

type edgeReport struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Spec string `json:"spec"`
	To   string `json:"to,omitempty"`
}

type unresolvedReport struct {
	From   string `json:"from"`
	Name   string `json:"name"`
	Spec   string `json:"spec"`
	Type   string `json:"type"`
	Reason string `json:"reason,omitempty"`
}

type conflictReport struct {
	Requester    string `json:"requester"`
	Name         string `json:"name"`
	Range        string `json:"range"`
	Found        string `json:"found"`
	FoundVersion string `json:"foundVersion"`
}

func newPlanReport(plan resolver.Plan) planReport {
	var r planReport
	for _, n := range plan.Graph.NodeList() {
		nr := nodeReport{
			ID:       string(n.ID),
			Name:     n.Name,
			Version:  n.Version,
			Location: n.Location,
			Importer: n.Importer,
			Dev:      n.Dev,
			Optional: n.Optional,
		}
		for _, name := range sortedEdgeNames(n) {
			e := n.EdgesOut[name]
			er := edgeReport{Name: name, Type: string(e.Type), Spec: e.Spec.BareSpec}
			if e.To != nil {
				er.To = string(e.To.ID)
			}
			nr.Edges = append(nr.Edges, er)
		}
		r.Nodes = append(r.Nodes, nr)
	}
	unresolved := func(in []resolver.UnresolvedDependency) []unresolvedReport {
		var out []unresolvedReport
		for _, u := range in {
			out = append(out, unresolvedReport{From: string(u.From), Name: u.Name, Spec: u.Spec, Type: string(u.Type), Reason: u.Reason})
		}
		return out
	}
	r.UnresolvedRequired = unresolved(plan.Diagnostics.UnresolvedRequired)
	r.UnresolvedOptional = unresolved(plan.Diagnostics.UnresolvedOptional)
	for _, c := range plan.Diagnostics.PeerConflicts {
		r.PeerConflicts = append(r.PeerConflicts, conflictReport{
			Requester:    string(c.Requester),
			Name:         c.Name,
			Range:        c.Range,
			Found:        string(c.Found),
			FoundVersion: c.FoundVersion,
		})
	}
	return r
}

func writePlan(w io.Writer, format string, plan resolver.Plan) error {
	r := newPlanReport(plan)
	switch format {
	case "yaml":
		data, err := yaml.Marshal(r)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	case "text", "":
		return writeText(w, r)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func writeText(w io.Writer, r planReport) error {
	for _, n := range r.Nodes {
		flags := ""
		if n.Dev {
			flags += " dev"
		}
		if n.Optional {
			flags += " optional"
		}
		if _, err := fmt.Fprintf(w, "%s %s@%s (%s)%s\n", n.ID, n.Name, n.Version, n.Location, flags); err != nil {
			return err
		}
		for _, e := range n.Edges {
			to := e.To
			if to == "" {
				to = "MISSING"
			}
			if _, err := fmt.Fprintf(w, "  %s %s -%s-> %s\n", e.Name, e.Spec, e.Type, to); err != nil {
				return err
			}
		}
	}
	for _, u := range r.UnresolvedRequired {
		fmt.Fprintf(w, "unresolved: %s needs %s@%s (%s): %s\n", u.From, u.Name, u.Spec, u.Type, u.Reason)
	}
	for _, u := range r.UnresolvedOptional {
		fmt.Fprintf(w, "skipped optional: %s needs %s@%s (%s): %s\n", u.From, u.Name, u.Spec, u.Type, u.Reason)
	}
	for _, c := range r.PeerConflicts {
		fmt.Fprintf(w, "peer conflict: %s wants %s@%s, found %s\n", c.Requester, c.Name, c.Range, c.Found)
	}
	return nil
}

func sortedEdgeNames(n *graph.Node) []string {
	names := make([]string, 0, len(n.EdgesOut))
	for name := range n.EdgesOut {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
