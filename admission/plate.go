package admission

import "strings"

const minPlateLen = 4

// NormalizePlate upper-cases the plate and strips everything but letters and
// digits. Plates shorter than four characters normalise to "".
func NormalizePlate(raw string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(raw) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	if b.Len() < minPlateLen {
		return ""
	}
	return b.String()
}

// MajorityPlate votes across several detections of the same vehicle, e.g.
// consecutive video frames. The winning plate's most confident detection is
// returned. Ties go to the plate seen first.
func MajorityPlate(frames []Detection) (Detection, int, bool) {
	type tally struct {
		votes int
		first int
		best  Detection
	}
	byPlate := map[string]*tally{}
	for i, d := range frames {
		p := NormalizePlate(d.Plate)
		if p == "" {
			continue
		}
		d.Plate = p
		t, ok := byPlate[p]
		if !ok {
			byPlate[p] = &tally{votes: 1, first: i, best: d}
			continue
		}
		t.votes++
		if d.Confidence > t.best.Confidence {
			t.best = d
		}
	}

	var win *tally
	for _, t := range byPlate {
		if win == nil || t.votes > win.votes || (t.votes == win.votes && t.first < win.first) {
			win = t
		}
	}
	if win == nil {
		return Detection{}, 0, false
	}
	return win.best, win.votes, true
}
