package dto

import (
	"time"

	"casewatch/internal/changedetect"
	"casewatch/internal/health"
	"casewatch/internal/scheduler"
	"casewatch/internal/source"
)

type PipelineStatusResponseData struct {
	Health      health.SystemHealth          `json:"health"`
	Scheduler   scheduler.Statistics         `json:"scheduler"`
	Sources     []source.SourceStatus        `json:"sources"`
	Processing  changedetect.ProcessingStats `json:"processing"`
	Failed      []changedetect.FailedRecord  `json:"failed_records,omitempty"`
	Subscribers int                          `json:"connected_subscribers"`
	LastUpdated time.Time                    `json:"last_updated"`
}

type TriggerRequestBody struct {
	Type     string `json:"type"`
	Priority string `json:"priority,omitempty"`
	Reason   string `json:"reason,omitempty"`
}
