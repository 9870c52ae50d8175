package data

import (
	"fmt"
	"sort"
)

// TaskTemplates maps a task name to its groups of template ids. Each
// group collects the phrasings of one prompt family; evaluation flattens
// the groups into a single template list per task.
type TaskTemplates map[string][][]string

// Validate rejects malformed mappings. A bad task list is a fatal
// configuration error: the run terminates before any loop starts.
func (tt TaskTemplates) Validate() error {
	if len(tt) == 0 {
		return fmt.Errorf("task template mapping is empty")
	}
	for task, groups := range tt {
		if task == "" {
			return fmt.Errorf("task template mapping contains an empty task name")
		}
		if len(groups) == 0 {
			return fmt.Errorf("task %q has no template groups", task)
		}
		for gi, group := range groups {
			if len(group) == 0 {
				return fmt.Errorf("task %q group %d is empty", task, gi)
			}
			for _, id := range group {
				if id == "" {
					return fmt.Errorf("task %q group %d contains an empty template id", task, gi)
				}
			}
		}
	}
	return nil
}

// Tasks returns the task names in sorted order.
func (tt TaskTemplates) Tasks() []string {
	out := make([]string, 0, len(tt))
	for task := range tt {
		out = append(out, task)
	}
	sort.Strings(out)
	return out
}

// Flatten concatenates all template groups of one task, preserving group
// order. Unknown tasks flatten to nil.
func (tt TaskTemplates) Flatten(task string) []string {
	var out []string
	for _, group := range tt[task] {
		out = append(out, group...)
	}
	return out
}
