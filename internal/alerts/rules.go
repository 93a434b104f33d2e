package alerts

import (
	"fmt"

	"tracehub/internal/domain"
)

func newCorridorRule(_ Thresholds, obs Observation) *candidate {
	if !obs.NewCorridor {
		return nil
	}
	op := obs.Operation
	return &candidate{
		alertType:   domain.AlertNewCorridor,
		level:       domain.AlertLevelInfo,
		message:     fmt.Sprintf("New trade corridor detected: %s -> %s", op.OriginCountry, op.DestinationCountry),
		operationID: op.ID,
		corridor:    op.CorridorKey(),
	}
}

func highVolumeRule(limits Thresholds, obs Observation) *candidate {
	if !obs.HasVolume || limits.HighVolume <= 0 || obs.Volume <= limits.HighVolume {
		return nil
	}
	op := obs.Operation
	return &candidate{
		alertType:   domain.AlertHighVolume,
		level:       domain.AlertLevelAttention,
		message:     fmt.Sprintf("High-value operation %s on %s: %.0f", op.OperationNumber, op.CorridorKey(), obs.Volume),
		operationID: op.ID,
		corridor:    op.CorridorKey(),
		value:       obs.Volume,
	}
}

func completionRule(_ Thresholds, obs Observation) *candidate {
	op := obs.Operation
	if op.WorkflowStage != domain.StageFreePractice {
		return nil
	}
	return &candidate{
		alertType:   domain.AlertFreePracticeCompleted,
		level:       domain.AlertLevelSuccess,
		message:     fmt.Sprintf("Free-practice workflow completed for %s (%s)", op.OperationNumber, op.CorridorKey()),
		operationID: op.ID,
		corridor:    op.CorridorKey(),
	}
}

func errorRateRule(limits Thresholds, snapshot AggregateSnapshot) *candidate {
	if snapshot.Outcomes == 0 || snapshot.ErrorRate <= limits.MaxErrorRate {
		return nil
	}
	return &candidate{
		alertType: domain.AlertHighErrorRate,
		level:     domain.AlertLevelWarning,
		message:   fmt.Sprintf("Error rate %.1f%% exceeds %.1f%%", snapshot.ErrorRate*100, limits.MaxErrorRate*100),
		value:     snapshot.ErrorRate,
	}
}

func latencyRule(limits Thresholds, snapshot AggregateSnapshot) *candidate {
	if snapshot.LatencySamples == 0 || limits.MaxLatencyMs <= 0 || snapshot.AverageLatencyMs <= limits.MaxLatencyMs {
		return nil
	}
	return &candidate{
		alertType: domain.AlertHighLatency,
		level:     domain.AlertLevelWarning,
		message:   fmt.Sprintf("Average latency %.0fms exceeds %.0fms", snapshot.AverageLatencyMs, limits.MaxLatencyMs),
		value:     snapshot.AverageLatencyMs,
	}
}

func lowActivityRule(limits Thresholds, snapshot AggregateSnapshot) *candidate {
	if limits.MinOpsPerDay <= 0 || snapshot.OperationsToday >= limits.MinOpsPerDay {
		return nil
	}
	return &candidate{
		alertType: domain.AlertLowActivity,
		level:     domain.AlertLevelInfo,
		message:   fmt.Sprintf("Low activity: %d operations today, expected at least %d", snapshot.OperationsToday, limits.MinOpsPerDay),
		value:     float64(snapshot.OperationsToday),
	}
}

func supervisedVolumeRule(limits Thresholds, snapshot AggregateSnapshot) *candidate {
	if limits.MaxSupervisedVolume <= 0 || snapshot.SupervisedVolume <= limits.MaxSupervisedVolume {
		return nil
	}
	return &candidate{
		alertType: domain.AlertHighSupervisedVolume,
		level:     domain.AlertLevelAttention,
		message:   fmt.Sprintf("Supervised commercial volume %.0f exceeds %.0f", snapshot.SupervisedVolume, limits.MaxSupervisedVolume),
		value:     snapshot.SupervisedVolume,
	}
}

func corridorCountRule(limits Thresholds, snapshot AggregateSnapshot) *candidate {
	if snapshot.TotalOperations == 0 || limits.MinActiveCorridors <= 0 || snapshot.ActiveCorridors >= limits.MinActiveCorridors {
		return nil
	}
	return &candidate{
		alertType: domain.AlertFewActiveCorridors,
		level:     domain.AlertLevelInfo,
		message:   fmt.Sprintf("Only %d active corridor(s), expected at least %d", snapshot.ActiveCorridors, limits.MinActiveCorridors),
		value:     float64(snapshot.ActiveCorridors),
	}
}
