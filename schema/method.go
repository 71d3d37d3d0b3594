package schema

const (
	MethodInitialize              = "initialize"
	MethodNotificationInitialized = "notifications/initialized"
	MethodToolsList               = "tools/list"
	MethodToolsCall               = "tools/call"
	MethodResourcesList           = "resources/list"
	MethodResourcesRead           = "resources/read"
	MethodPromptsList             = "prompts/list"
	MethodPromptsGet              = "prompts/get"
)

// ProtocolVersion is the MCP protocol revision this client negotiates.
const ProtocolVersion = "2024-11-05"

// ClientName and ClientVersion identify this client in the initialize handshake.
const (
	ClientName    = "murl"
	ClientVersion = "0.1.0"
)
