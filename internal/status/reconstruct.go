// Package status turns an execution progress tree into a poll report.
package status

import (
	"github.com/opebus/yt-university/internal/execution"
	"github.com/opebus/yt-university/pkg/pipeline"
)

// Reconstruct derives the poll report of a job from its progress tree.
//
// The root is the job's process task and its children are the stages in
// spawn order; the last child is the active stage. Trees too shallow to
// name a stage report init/in_progress.
func Reconstruct(root *execution.ProgressNode) pipeline.StatusReport {
	if root == nil || len(root.Children) == 0 {
		if root != nil && root.Status == execution.StatusFailed {
			return failure(pipeline.StageInit, root.Error)
		}
		return initReport()
	}

	active := root.Children[len(root.Children)-1]
	if active == nil || active.Name == "" {
		return initReport()
	}

	if active.Status == execution.StatusFailed {
		return failure(active.Name, active.Error)
	}
	if root.Status == execution.StatusFailed {
		// the stage succeeded but the job failed afterwards (persisting)
		return failure(active.Name, root.Error)
	}

	if active.Name == pipeline.StageCategorize && active.Status == execution.StatusSuccess {
		return pipeline.StatusReport{Stage: pipeline.StageEnd, Status: pipeline.StatusDone}
	}

	r := pipeline.StatusReport{Stage: active.Name, Status: string(active.Status)}
	if active.Name == pipeline.StageTranscribe {
		leaves := active.Leaves()
		total, done := len(leaves), 0
		workers := make(map[string]struct{})
		for _, leaf := range leaves {
			if leaf.Status == execution.StatusSuccess {
				done++
			}
			if leaf.WorkerID != "" {
				workers[leaf.WorkerID] = struct{}{}
			}
		}
		tasks := len(workers)
		r.TotalSegments, r.DoneSegments, r.Tasks = &total, &done, &tasks
	}
	return r
}

func initReport() pipeline.StatusReport {
	return pipeline.StatusReport{Stage: pipeline.StageInit, Status: pipeline.StatusInProgress}
}

// failure classifies a failed stage. Only the download stage can be refused
// by the video source; its error text is checked for the refusal markers.
func failure(stage, message string) pipeline.StatusReport {
	kind := pipeline.KindUnknown
	if se, ok := pipeline.ParseStageError(message); ok {
		kind = se.Kind
		message = se.Message
	}
	if stage == pipeline.StageDownload && kind == pipeline.KindUnknown && pipeline.IsPermissionDeniedMessage(message) {
		kind = pipeline.KindPermissionDenied
	}
	return pipeline.StatusReport{Stage: stage, Error: string(kind), Message: message}
}
