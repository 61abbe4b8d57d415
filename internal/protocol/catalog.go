// Package protocol defines the lung ultrasound capture protocol: the fixed
// catalog of anatomical scan sites and the per-examination tracker that
// records which of them have been satisfied.
package protocol

import "strings"

// Site identifies one fixed anatomical scan location.
type Site string

const (
	SiteQAID Site = "QAID" // anterior inferior, right
	SiteQAIG Site = "QAIG" // anterior inferior, left
	SiteQASD Site = "QASD" // anterior superior, right
	SiteQASG Site = "QASG" // anterior superior, left
	SiteAPXD Site = "APXD" // apex, right
	SiteAPXG Site = "APXG" // apex, left
	SiteQSLD Site = "QSLD" // superior lateral, right
	SiteQLD  Site = "QLD"  // lateral, right
	SiteQPID Site = "QPID" // posterior inferior, right
	SiteQPIG Site = "QPIG" // posterior inferior, left
	SiteQPSD Site = "QPSD" // posterior superior, right
	SiteQPSG Site = "QPSG" // posterior superior, left
	SiteQSLG Site = "QSLG" // superior lateral, left
	SiteQLG  Site = "QLG"  // lateral, left
)

// Group is the body region a site belongs to.
type Group string

const (
	GroupFront Group = "front"
	GroupRight Group = "right"
	GroupBack  Group = "back"
	GroupLeft  Group = "left"
)

// Position places a site's marker on the torso outline, as percentages of
// the outline image size.
type Position struct {
	Top  int `json:"top"`
	Left int `json:"left"`
}

type siteDef struct {
	site     Site
	group    Group
	position Position
}

// catalog is ordered by display group, then by marker order within a group.
var catalog = []siteDef{
	{SiteQAID, GroupFront, Position{Top: 58, Left: 26}},
	{SiteQAIG, GroupFront, Position{Top: 58, Left: 57}},
	{SiteQASD, GroupFront, Position{Top: 34, Left: 30}},
	{SiteQASG, GroupFront, Position{Top: 34, Left: 55}},
	{SiteAPXD, GroupFront, Position{Top: 13, Left: 33}},
	{SiteAPXG, GroupFront, Position{Top: 13, Left: 51}},
	{SiteQSLD, GroupRight, Position{Top: 25, Left: 35}},
	{SiteQLD, GroupRight, Position{Top: 60, Left: 45}},
	{SiteQPID, GroupBack, Position{Top: 55, Left: 28}},
	{SiteQPIG, GroupBack, Position{Top: 55, Left: 55}},
	{SiteQPSD, GroupBack, Position{Top: 30, Left: 28}},
	{SiteQPSG, GroupBack, Position{Top: 30, Left: 55}},
	{SiteQSLG, GroupLeft, Position{Top: 25, Left: 45}},
	{SiteQLG, GroupLeft, Position{Top: 60, Left: 40}},
}

var groups = []Group{GroupFront, GroupRight, GroupBack, GroupLeft}

var index = buildIndex()

func buildIndex() map[Site]siteDef {
	out := make(map[Site]siteDef, len(catalog))
	for _, def := range catalog {
		out[def.site] = def
	}
	return out
}

// ListSites returns every catalog site. The result is a fresh slice.
func ListSites() []Site {
	out := make([]Site, len(catalog))
	for i, def := range catalog {
		out[i] = def.site
	}
	return out
}

// SiteCount is the number of sites the protocol requires.
func SiteCount() int {
	return len(catalog)
}

// SitesInGroup returns the sites of one body region in marker order.
// Unknown groups yield an empty result.
func SitesInGroup(group Group) []Site {
	var out []Site
	for _, def := range catalog {
		if def.group == group {
			out = append(out, def.site)
		}
	}
	return out
}

// Groups returns the body regions in display order.
func Groups() []Group {
	out := make([]Group, len(groups))
	copy(out, groups)
	return out
}

// Contains reports whether site belongs to the catalog.
func Contains(site Site) bool {
	_, ok := index[site]
	return ok
}

// GroupOf returns the body region of a catalog site.
func GroupOf(site Site) (Group, bool) {
	def, ok := index[site]
	return def.group, ok
}

// PositionOf returns the marker position of a catalog site.
func PositionOf(site Site) (Position, bool) {
	def, ok := index[site]
	return def.position, ok
}

// ParseSite resolves a case-insensitive site code.
func ParseSite(value string) (Site, bool) {
	site := Site(strings.ToUpper(strings.TrimSpace(value)))
	if !Contains(site) {
		return "", false
	}
	return site, true
}

// ParseGroup resolves a case-insensitive group name.
func ParseGroup(value string) (Group, bool) {
	group := Group(strings.ToLower(strings.TrimSpace(value)))
	for _, g := range groups {
		if g == group {
			return g, true
		}
	}
	return "", false
}
