package controller

import (
	"sort"

	"golang.org/x/exp/maps"

	"github.com/determined-ai/rcq/internal/assetrequest"
	"github.com/determined-ai/rcq/internal/jobs"
	"github.com/determined-ai/rcq/internal/jobs/joblist"
	"github.com/determined-ai/rcq/pkg/model"
)

// compileGroup is the set of element ids a compile request waits on.
type compileGroup struct {
	members map[jobs.ElementKey]jobs.QueueElementID
}

// CreateCompileGroup implements assetrequest.Scheduler. Status requests are answered at once,
// so a group is only kept for compile requests.
func (s *scheduler) CreateCompileGroup(
	id assetrequest.RequestID, platform, searchTerm string, isStatusRequest bool,
) model.AssetStatus {
	result := s.jobList.PerformHeuristicSearch(searchTerm, platform, isStatusRequest)
	s.escalate(result.Escalations)

	if len(result.Matched) == 0 {
		if s.matchesFailure(platform, searchTerm) {
			return model.AssetStatusFailed
		}
		return model.AssetStatusUnknown
	}

	status := model.AssetStatusCompiling
	for _, m := range result.Matched {
		if !s.jobList.IsInFlight(m) {
			status = model.AssetStatusQueued
			break
		}
	}

	if !isStatusRequest {
		g := &compileGroup{members: make(map[jobs.ElementKey]jobs.QueueElementID, len(result.Matched))}
		for _, m := range result.Matched {
			g.members[m.Key()] = m
		}
		s.groups[id] = g
	}
	return status
}

// matchesFailure reports whether the search term matches an asset whose latest job failed.
func (s *scheduler) matchesFailure(platform, searchTerm string) bool {
	var paths []string
	for _, f := range s.failures {
		if f.Platform == platform {
			paths = append(paths, f.RelativePath)
		}
	}
	return len(joblist.HeuristicMatch(searchTerm, paths)) > 0
}

// EscalateAsset implements assetrequest.Scheduler.
func (s *scheduler) EscalateAsset(platform, searchTerm string) {
	result := s.jobList.PerformHeuristicSearch(searchTerm, platform, false)
	for i := range result.Escalations {
		result.Escalations[i].Amount = jobs.AssetJobRequestEscalation
	}
	s.escalate(result.Escalations)
}

// FindJobs implements assetrequest.Scheduler.
func (s *scheduler) FindJobs(searchTerm string, isJobKey, escalate bool) []jobs.Info {
	found := s.jobList.FindJobs(searchTerm, isJobKey)
	if escalate {
		var escalations []jobs.Escalation
		for _, j := range found {
			if j.State() == jobs.StatePending {
				escalations = append(escalations, jobs.Escalation{
					RunKey: j.RunKey, Amount: jobs.AssetJobRequestEscalation,
				})
			}
		}
		s.escalate(escalations)
	}

	infos := make([]jobs.Info, 0, len(found))
	for _, j := range found {
		infos = append(infos, j.Info())
	}
	return infos
}

// updateCompileGroups applies a finished job to every group waiting on its element id.
func (s *scheduler) updateCompileGroups(j *jobs.Job) {
	key := j.ElementID().Key()
	ids := maps.Keys(s.groups)
	sort.Slice(ids, func(a, b int) bool {
		if ids[a].ConnectionID != ids[b].ConnectionID {
			return ids[a].ConnectionID < ids[b].ConnectionID
		}
		return ids[a].Serial < ids[b].Serial
	})

	for _, id := range ids {
		g := s.groups[id]
		member, ok := g.members[key]
		if !ok {
			continue
		}

		switch j.State() {
		case jobs.StateFailed:
			s.finishGroup(id, model.AssetStatusFailed)
			continue
		case jobs.StateCancelled:
			if s.jobList.IsInQueue(member) || s.jobList.IsInFlight(member) {
				// Superseded; the replacement is what the group waits on now.
				continue
			}
			delete(g.members, key)
			if len(g.members) == 0 {
				s.finishGroup(id, model.AssetStatusMissing)
			}
		default:
			delete(g.members, key)
			if len(g.members) == 0 {
				s.finishGroup(id, model.AssetStatusCompiled)
			}
		}
	}
}

func (s *scheduler) finishGroup(id assetrequest.RequestID, status model.AssetStatus) {
	delete(s.groups, id)
	s.requests.OnCompileGroupFinished(id, status)
}
