package engine

// Priority bands for rule definitions. Callers can use any integer priority;
// these constants name the conventional bands.
const (
	// PriorityHigh is for blocking and compliance rules.
	PriorityHigh = 100

	// PriorityMedium is for transformation and enrichment rules.
	PriorityMedium = 50

	// PriorityLow is for monitoring and tagging rules.
	PriorityLow = 10
)

// stage is a group of consecutive candidates safe to execute concurrently:
// every member declares a write set and the sets are pairwise disjoint.
// Stages act as barriers; results keep priority order regardless of how a
// stage is scheduled internally.
type stage struct {
	members []*candidate
}

// candidate pairs a snapshot entry with its slot in the run's ordered
// result sequence.
type candidate struct {
	stored *storedRule
	slot   int
}

// planStages partitions the ordered candidates into execution stages.
//
// A rule joins the current stage when it declares a write set disjoint from
// every rule already in the stage. A rule without a declared write set may
// touch any key, so it forms a singleton stage and acts as a barrier in both
// directions. The partition preserves priority order across stages, which
// keeps results identical to strict sequential execution whenever write-set
// declarations are accurate.
func planStages(candidates []*candidate) []stage {
	var stages []stage
	var current stage

	flush := func() {
		if len(current.members) > 0 {
			stages = append(stages, current)
			current = stage{}
		}
	}

	for _, c := range candidates {
		if !c.stored.def.HasWriteSet() {
			flush()
			stages = append(stages, stage{members: []*candidate{c}})
			continue
		}

		compatible := true
		for _, member := range current.members {
			if !c.stored.def.WritesDisjoint(member.stored.def) {
				compatible = false
				break
			}
		}
		if !compatible {
			flush()
		}
		current.members = append(current.members, c)
	}
	flush()

	return stages
}
