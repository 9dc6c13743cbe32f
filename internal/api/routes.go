package api

const (
	HealthCheckRoute = "/healthz"
	AboutRoute       = "/about"
	MetricsRoute     = "/metrics"

	AuthenticateRoute = "/v1/federation/authenticate"
	WebhookRoute      = "/v1/webhooks/github"

	AdminParent    = "/v1/admin/"
	DecisionsRoute = AdminParent + "decisions"
	DecisionRoute  = AdminParent + "decisions/{id}"
	PoliciesRoute  = AdminParent + "policies"
	ExplainRoute   = AdminParent + "explain"
	KeySetsRoute   = AdminParent + "keys"

	TaskParent       = AdminParent + "tasks/"
	ListTasksRoute   = TaskParent
	TriggerTaskRoute = TaskParent + "{name}/trigger"
	LogsForTaskRoute = TaskParent + "{name}/logs"
)
