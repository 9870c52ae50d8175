package training

import (
	"fmt"
	"sync"

	"github.com/citegraph/glmtrain/coord"
)

// RunWorkers launches worldSize workers as goroutines sharing one
// in-process collective, runs fn on each, and waits for all of them.
// The first error by rank order is returned. A worker that fails before
// reaching a collective call leaves the group blocked, as documented on
// Collective; configuration is validated up front so failures surface
// before the first barrier.
func RunWorkers(worldSize int, fn func(rank int, c *coord.Coordinator) error) error {
	group, err := coord.NewLocalGroup(worldSize)
	if err != nil {
		return fmt.Errorf("failed to create worker group: %v", err)
	}

	errs := make([]error, worldSize)
	var wg sync.WaitGroup
	for rank := 0; rank < worldSize; rank++ {
		collective, err := group.Worker(rank)
		if err != nil {
			return fmt.Errorf("failed to attach worker %d: %v", rank, err)
		}
		wg.Add(1)
		go func(rank int, collective coord.Collective) {
			defer wg.Done()
			errs[rank] = fn(rank, coord.NewCoordinator(collective))
		}(rank, collective)
	}
	wg.Wait()

	for rank, err := range errs {
		if err != nil {
			return fmt.Errorf("worker %d: %v", rank, err)
		}
	}
	return nil
}
