package tasking

import (
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/itskum47/fleetops/control_plane/observability"
)

// Strategy selects how DivideMission breaks a mission into tasks.
type Strategy string

const (
	StrategyCapability Strategy = "capability"
	StrategyPriority   Strategy = "priority"
	StrategySequential Strategy = "sequential"
)

var sequentialPhases = []string{"preparation", "execution", "completion"}

// DivideMission returns a fresh task list for the mission. It does not modify
// the mission; callers assign the result themselves.
func DivideMission(m *JointMission, strategy Strategy) ([]MissionTask, error) {
	switch strategy {
	case StrategyCapability:
		return divideByCapability(m), nil
	case StrategyPriority:
		return divideByPriority(m), nil
	case StrategySequential:
		return divideSequential(m), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, strategy)
}

// divideByCapability emits one task per (entity, capability) pair.
func divideByCapability(m *JointMission) []MissionTask {
	tasks := make([]MissionTask, 0)
	for _, e := range m.Entities {
		for _, c := range e.Capabilities {
			tasks = append(tasks, MissionTask{
				ID:          uuid.NewString(),
				Name:        fmt.Sprintf("%s - %s", m.Name, c),
				Description: fmt.Sprintf("%s task for %s", c, e.Name),
				Type:        c,
				Priority:    m.Priority,
				Status:      TaskPending,
			})
		}
	}
	return tasks
}

// divideByPriority emits one task per tier from emergency down to the
// mission's own priority.
func divideByPriority(m *JointMission) []MissionTask {
	floor := m.Priority.rank()
	if floor < 0 {
		floor = PriorityMedium.rank()
	}
	tasks := make([]MissionTask, 0)
	for i := len(priorityOrder) - 1; i >= floor; i-- {
		tier := priorityOrder[i]
		tasks = append(tasks, MissionTask{
			ID:          uuid.NewString(),
			Name:        fmt.Sprintf("%s - %s priority", m.Name, tier),
			Description: fmt.Sprintf("Handle %s priority objectives", tier),
			Type:        string(m.Type),
			Priority:    tier,
			Status:      TaskPending,
		})
	}
	return tasks
}

// divideSequential emits the three mission phases, each depending on the previous.
func divideSequential(m *JointMission) []MissionTask {
	tasks := make([]MissionTask, 0, len(sequentialPhases))
	prev := ""
	for _, phase := range sequentialPhases {
		t := MissionTask{
			ID:          uuid.NewString(),
			Name:        fmt.Sprintf("%s - %s", m.Name, phase),
			Description: strings.ToUpper(phase[:1]) + phase[1:] + " phase",
			Type:        string(m.Type),
			Priority:    m.Priority,
			Status:      TaskPending,
		}
		if prev != "" {
			t.Dependencies = []string{prev}
		}
		tasks = append(tasks, t)
		prev = t.ID
	}
	return tasks
}

// MapTasksToEntities assigns each task to the least-loaded available entity
// that has the task's capability or the general capability. Ties go to the
// entity listed first. AssignedTo is set on tasks in place; tasks with no
// candidate are left untouched and are missing from the returned mapping.
func MapTasksToEntities(tasks []MissionTask, entities []ExternalEntity) map[string][]MissionTask {
	mapping := make(map[string][]MissionTask)
	load := make(map[string]int, len(entities))

	for i := range tasks {
		task := &tasks[i]

		best := -1
		for j, e := range entities {
			if !e.canTake(task.Type) {
				continue
			}
			if best < 0 || load[e.ID] < load[entities[best].ID] {
				best = j
			}
		}

		if best < 0 {
			log.Printf("[TASKING] No available entity for task %s (type %s)", task.ID, task.Type)
			observability.UnassignedTasks.Inc()
			continue
		}

		id := entities[best].ID
		task.AssignedTo = id
		load[id]++
		mapping[id] = append(mapping[id], *task)
	}
	return mapping
}

// completionPercentage is round(100 * completed / total), 0 for no tasks.
func completionPercentage(tasks []MissionTask) int {
	if len(tasks) == 0 {
		return 0
	}
	completed := 0
	for _, t := range tasks {
		if t.Status == TaskCompleted {
			completed++
		}
	}
	return (200*completed + len(tasks)) / (2 * len(tasks))
}
