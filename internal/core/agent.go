package core

// AgentTaskKind enumerates the kinds of work the Agent Swarm Dispatcher can
// be asked to perform (spec §3).
type AgentTaskKind string

const (
	TaskGenerate AgentTaskKind = "GENERATE"
	TaskMigrate  AgentTaskKind = "MIGRATE"
	TaskFix      AgentTaskKind = "FIX"
	TaskAnalyze  AgentTaskKind = "ANALYZE"
	TaskRefactor AgentTaskKind = "REFACTOR"
	TaskExplain  AgentTaskKind = "EXPLAIN"
	TaskTest     AgentTaskKind = "TEST"
	TaskDoc      AgentTaskKind = "DOC"
	TaskAudit    AgentTaskKind = "AUDIT"
)

// AgentTaskState is the lifecycle state of an AgentTask.
type AgentTaskState string

const (
	AgentTaskPending    AgentTaskState = "PENDING"
	AgentTaskRunning    AgentTaskState = "RUNNING"
	AgentTaskCompleted  AgentTaskState = "COMPLETED"
	AgentTaskFailed     AgentTaskState = "FAILED"
)

// SubTask is one node of an AgentTask's decomposition plan.
type SubTask struct {
	Name      string
	DependsOn []string
	Prompt    string
}

// AgentTask is a natural-language request translated into a bounded set of
// model calls (spec §3/§4.7).
type AgentTask struct {
	ID            string
	Kind          AgentTaskKind
	Prompt        string
	Context       map[string]interface{}
	Decomposition []SubTask
	Results       map[string]string
	State         AgentTaskState
}

// ModelTier buckets models by hardware class (spec §3/GLOSSARY).
type ModelTier string

const (
	TierMinimal  ModelTier = "MINIMAL"
	TierBalanced ModelTier = "BALANCED"
	TierFull     ModelTier = "FULL"
	TierUltra    ModelTier = "ULTRA"
)

// Capability is a functional trait a ModelHandle may possess.
type Capability string

const (
	CapCode      Capability = "CODE"
	CapChat      Capability = "CHAT"
	CapReasoning Capability = "REASONING"
	CapMoE       Capability = "MOE"
	CapEmbed     Capability = "EMBED"
)

// ModelHandle describes one addressable model in the catalog (spec §3).
type ModelHandle struct {
	ID           string
	Tier         ModelTier
	Family       string
	Capabilities []Capability
	ContextLen   int
	Loaded       bool
}

// HasCapability reports whether the model advertises capability c.
func (m ModelHandle) HasCapability(c Capability) bool {
	for _, have := range m.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}
