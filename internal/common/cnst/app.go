package cnst

const (
	AppName     = "agent-gateway"
	CommandName = "agent-gateway"
)

// Config file names
const (
	AgentGatewayYaml = "agent-gateway.yaml"
)

// Request headers carrying the caller identity, set by the upstream auth proxy
const (
	HeaderUserID       = "X-User-ID"
	HeaderUserEmail    = "X-User-Email"
	HeaderAccountName  = "X-Account-Name"
	HeaderAdAccountIDs = "X-Ad-Account-IDs"
	HeaderAdToken      = "X-Ad-Token"
)
