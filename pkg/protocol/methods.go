package protocol

// HTTP route method identifiers used for structured audit logging of the
// control plane (see internal/httpapi). Kept as named constants rather than
// inline strings so logs and tests refer to one source of truth.
const (
	RouteProviders    = "providers.list"
	RouteAgentsList   = "agents.list"
	RouteAgentsCreate = "agents.create"
	RouteAgentsDelete = "agents.delete"
	RouteAgentRestart = "agents.restart"

	RouteVaultList = "agent.vault.list"
	RouteVaultGet  = "agent.vault.get"
	RouteVaultSet  = "agent.vault.set"
	RouteVaultDel  = "agent.vault.delete"

	RouteSkillsList   = "agent.skills.list"
	RouteSkillInstall = "agent.skills.install"
	RouteSkillUpgrade = "agent.skills.upgrade"
	RouteSkillRemove  = "agent.skills.remove"
	RouteSkillModify  = "agent.skills.modify"

	RouteSchedulesList  = "agent.schedules.list"
	RouteScheduleCreate = "agent.schedules.create"
	RouteScheduleDelete = "agent.schedules.delete"

	RouteWebhooksList  = "agent.webhooks.list"
	RouteWebhookCreate = "agent.webhooks.create"
	RouteWebhookDelete = "agent.webhooks.delete"
	RouteWebhookToggle = "agent.webhooks.toggle"

	RouteChat       = "agent.chat"
	RouteChatStream = "agent.chat.stream"

	RouteOrchConfigGet     = "agent.orchestrate.config.get"
	RouteOrchConfigSet     = "agent.orchestrate.config.set"
	RouteOrchTemplatesList = "agent.orchestrate.templates.list"
	RouteOrchTemplateGet   = "agent.orchestrate.templates.get"
	RouteOrchTemplateSet   = "agent.orchestrate.templates.set"
	RouteOrchJobsStart     = "agent.orchestrate.jobs.start"
	RouteOrchJobsRun       = "agent.orchestrate.jobs.run"
	RouteOrchJobGet        = "agent.orchestrate.jobs.get"
	RouteOrchJobWorkers    = "agent.orchestrate.jobs.workers"
	RouteOrchJobEvents     = "agent.orchestrate.jobs.events"
	RouteOrchJobStream     = "agent.orchestrate.jobs.stream"
	RouteOrchJobCancel     = "agent.orchestrate.jobs.cancel"
	RouteOrchJobApprove    = "agent.orchestrate.jobs.approve_merge"

	RouteTokensList   = "agent.tokens.list"
	RouteTokensCreate = "agent.tokens.create"
	RouteTokensDelete = "agent.tokens.delete"
)
