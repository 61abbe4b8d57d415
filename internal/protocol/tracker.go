package protocol

// Marker is the capture state of one catalog site.
type Marker struct {
	Site     Site     `json:"site"`
	Group    Group    `json:"group"`
	Position Position `json:"position"`
	IsDone   bool     `json:"isDone"`
}

// Tracker holds one done flag per catalog site for the current examination.
// A site is satisfied by at least one image; the number of images per site is
// not tracked here. Tracker is not safe for concurrent use; its owner
// serialises access.
type Tracker struct {
	done map[Site]bool
}

// NewTracker returns a tracker with every marker cleared.
func NewTracker() *Tracker {
	t := &Tracker{}
	t.Initialize()
	return t
}

// Initialize resets every catalog site's marker to not done.
func (t *Tracker) Initialize() {
	t.done = make(map[Site]bool, len(catalog))
	for _, def := range catalog {
		t.done[def.site] = false
	}
}

// MarkCaptured sets the marker for site. Sites outside the catalog are
// ignored.
func (t *Tracker) MarkCaptured(site Site, captured bool) {
	if _, ok := t.done[site]; !ok {
		return
	}
	t.done[site] = captured
}

// IsCaptured reports the marker of a single site.
func (t *Tracker) IsCaptured(site Site) bool {
	return t.done[site]
}

// IsAllCaptured reports whether every catalog site is satisfied.
func (t *Tracker) IsAllCaptured() bool {
	if len(t.done) == 0 {
		return false
	}
	for _, def := range catalog {
		if !t.done[def.site] {
			return false
		}
	}
	return true
}

// CapturedCount returns how many sites are satisfied.
func (t *Tracker) CapturedCount() int {
	count := 0
	for _, def := range catalog {
		if t.done[def.site] {
			count++
		}
	}
	return count
}

// MarkersFor projects the live markers of one group.
func (t *Tracker) MarkersFor(group Group) []Marker {
	var out []Marker
	for _, def := range catalog {
		if def.group != group {
			continue
		}
		out = append(out, t.marker(def))
	}
	return out
}

// Markers projects every live marker in catalog order.
func (t *Tracker) Markers() []Marker {
	out := make([]Marker, 0, len(catalog))
	for _, def := range catalog {
		out = append(out, t.marker(def))
	}
	return out
}

func (t *Tracker) marker(def siteDef) Marker {
	return Marker{
		Site:     def.site,
		Group:    def.group,
		Position: def.position,
		IsDone:   t.done[def.site],
	}
}
