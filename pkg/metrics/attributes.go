package metrics

import "go.opentelemetry.io/otel/attribute"

// Attribute keys
const (
	attrJobType = "job_type"
	attrOutcome = "outcome"
	attrReason  = "reason"
	attrStatus  = "status"
	attrSuccess = "success"
)

func jobTypeAttr(jobType string) attribute.KeyValue {
	return attribute.String(attrJobType, jobType)
}

// outcomeAttr is empty for failed runs
func outcomeAttr(outcome string) attribute.KeyValue {
	if outcome == "" {
		outcome = "none"
	}
	return attribute.String(attrOutcome, outcome)
}

func reasonAttr(reason string) attribute.KeyValue {
	return attribute.String(attrReason, reason)
}

func statusAttr(status string) attribute.KeyValue {
	return attribute.String(attrStatus, status)
}

func successAttr(success bool) attribute.KeyValue {
	return attribute.Bool(attrSuccess, success)
}
