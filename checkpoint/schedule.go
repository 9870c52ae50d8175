package checkpoint

import (
	"fmt"
	"strconv"
)

// PhaseTag labels the point within an epoch at which a checkpoint was
// taken. The seven mid-epoch tags fire at eighths of the epoch; end is
// the unconditional save at the epoch boundary.
type PhaseTag int

const (
	TagMMid1 PhaseTag = iota // 1/8
	TagMid1                  // 1/4
	TagMMid2                 // 3/8
	TagMid2                  // 1/2
	TagMMid3                 // 5/8
	TagMid3                  // 3/4
	TagMEnd                  // 7/8
	TagEnd                   // epoch end
)

func (t PhaseTag) String() string {
	switch t {
	case TagMMid1:
		return "mmid1"
	case TagMid1:
		return "mid1"
	case TagMMid2:
		return "mmid2"
	case TagMid2:
		return "mid2"
	case TagMMid3:
		return "mmid3"
	case TagMid3:
		return "mid3"
	case TagMEnd:
		return "mend"
	case TagEnd:
		return "end"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// fraction numerators over a denominator of 8, indexed by PhaseTag.
var tagNumerators = [...]int{1, 2, 3, 4, 5, 6, 7}

// Due returns the phase tags whose trigger step equals step for an epoch
// of totalSteps steps. step is the 1-based index of the step that just
// finished. Mid-epoch tags trigger at floor(totalSteps*f) for their
// fraction f; TagEnd triggers at the final step. On short epochs two
// fractions can floor to the same step, in which case both tags are
// returned and both artifacts get written under their own names.
func Due(step, totalSteps int) []PhaseTag {
	if totalSteps <= 0 || step <= 0 || step > totalSteps {
		return nil
	}
	var due []PhaseTag
	for tag, num := range tagNumerators {
		if step == totalSteps*num/8 {
			due = append(due, PhaseTag(tag))
		}
	}
	if step == totalSteps {
		due = append(due, TagEnd)
	}
	return due
}

// SlotTag maps an evaluation slot index to the checkpoint tag it loads.
// The evaluation path visits four checkpoints per training epoch, in
// order: mid1, mid2, mid3, end.
func SlotTag(slot int) PhaseTag {
	switch (slot + 1) % 4 {
	case 1:
		return TagMid1
	case 2:
		return TagMid2
	case 3:
		return TagMid3
	default:
		return TagEnd
	}
}

// ArtifactName builds the canonical checkpoint filename:
// <prefix>_<epoch+1>_<learning-rate>_<accum>_<split>_<tag>.pth.
// The evaluation path locates artifacts by rebuilding this exact name,
// so the format must stay bit-identical across save and load.
func ArtifactName(prefix string, epoch int, lr float64, gradAccumSteps int, split string, tag PhaseTag) string {
	return fmt.Sprintf("%s_%d_%s_%d_%s_%s.pth",
		prefix, epoch+1, strconv.FormatFloat(lr, 'g', -1, 64), gradAccumSteps, split, tag)
}
