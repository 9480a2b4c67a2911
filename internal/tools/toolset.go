package tools

import (
	"github.com/primehq/prime/internal/agent"
)

// Deps carries the service backends the toolset needs. Nil fields
// skip the tools that depend on them.
type Deps struct {
	Runner    CommandRunner
	Memory    MemoryStore
	Sessions  SessionDirectory
	Scheduler Scheduler
	Webhooks  WebhookRegistrar
	Status    StatusReporter
	Browser   *Browser
	Skills    *SkillSet
}

// RegisterAll wires the canonical toolset into the registry. It
// returns the skill set so the caller can hand it to the executor as
// the unknown-tool fallback.
func RegisterAll(reg *agent.Registry, deps Deps) (*SkillSet, error) {
	list := []agent.Tool{
		&ReadFileTool{},
		&WriteFileTool{},
		&EditFileTool{},
		&ListFilesTool{},
		&WebFetchTool{},
		&SearchWebTool{},
	}
	runner := deps.Runner
	if runner == nil {
		runner = &SubprocessRunner{}
	}
	list = append(list, &RunCommandTool{Runner: runner})
	if deps.Memory != nil {
		list = append(list,
			&MemorySearchTool{Store: deps.Memory},
			&MemoryGetTool{Store: deps.Memory},
			&MemoryStoreTool{Store: deps.Memory},
			&MemoryForgetTool{Store: deps.Memory},
		)
	}
	if deps.Sessions != nil {
		list = append(list,
			&SessionsListTool{Directory: deps.Sessions},
			&SessionsSendTool{Directory: deps.Sessions},
			&SessionsSpawnTool{Directory: deps.Sessions},
		)
	}
	if deps.Scheduler != nil {
		list = append(list,
			&CronAddTool{Scheduler: deps.Scheduler},
			&CronRemoveTool{Scheduler: deps.Scheduler},
			&CronListTool{Scheduler: deps.Scheduler},
		)
	}
	if deps.Webhooks != nil {
		list = append(list,
			&WebhookRegisterTool{Registrar: deps.Webhooks},
			&WebhookListTool{Registrar: deps.Webhooks},
		)
	}
	if deps.Status != nil {
		list = append(list, &GatewayStatusTool{Reporter: deps.Status})
	}
	if deps.Browser != nil {
		list = append(list, BrowserTools(deps.Browser)...)
	}
	skills := deps.Skills
	if skills != nil {
		list = append(list,
			&SkillListTool{Skills: skills},
			&SkillInstallTool{Skills: skills},
			&SkillCreateTool{Skills: skills},
		)
	}
	for _, t := range list {
		if err := reg.Register(t); err != nil {
			return nil, err
		}
	}
	return skills, nil
}
