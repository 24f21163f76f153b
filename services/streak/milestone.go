package streak

// Milestones are the streak lengths worth announcing.
var Milestones = []int{7, 14, 21, 30, 60, 90, 100, 180, 365}

// CrossedMilestone returns the largest milestone m with prev < m <= cur.
func CrossedMilestone(prev, cur int) (int, bool) {
	crossed, ok := 0, false
	for _, m := range Milestones {
		if prev < m && m <= cur {
			crossed, ok = m, true
		}
	}
	return crossed, ok
}
