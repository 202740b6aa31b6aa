// Package observability provides OpenTelemetry metrics exported to Prometheus.
package observability

import (
	"fmt"

	"go.opentelemetry.io/otel/attribute"
)

const (
	attrMethod   = "method"
	attrPath     = "path"
	attrStatus   = "status"
	attrProvider = "provider"
	attrOp       = "op"
	attrState    = "state"
	attrReason   = "reason"
	attrOutcome  = "outcome"
	attrKind     = "kind"
	attrResult   = "result"
)

func methodAttr(method string) attribute.KeyValue {
	return attribute.String(attrMethod, method)
}

// pathAttr expects the matched route template, e.g. /api/v1/jobs/:job_id.
func pathAttr(route string) attribute.KeyValue {
	if route == "" {
		route = "unmatched"
	}
	return attribute.String(attrPath, route)
}

func statusAttr(code int) attribute.KeyValue {
	return attribute.String(attrStatus, fmt.Sprintf("%dxx", code/100))
}

func providerAttr(provider string) attribute.KeyValue {
	return attribute.String(attrProvider, provider)
}

func opAttr(op string) attribute.KeyValue {
	return attribute.String(attrOp, op)
}

func stateAttr(state string) attribute.KeyValue {
	return attribute.String(attrState, state)
}

func reasonAttr(reason string) attribute.KeyValue {
	return attribute.String(attrReason, reason)
}

func outcomeAttr(outcome string) attribute.KeyValue {
	return attribute.String(attrOutcome, outcome)
}

func kindAttr(kind string) attribute.KeyValue {
	return attribute.String(attrKind, kind)
}

func resultAttr(result string) attribute.KeyValue {
	return attribute.String(attrResult, result)
}
