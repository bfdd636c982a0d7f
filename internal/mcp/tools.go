package mcp

import "github.com/mark3labs/mcp-go/mcp"

var sessionIDOption = mcp.WithString("session_id",
	mcp.Description("Session to act on; defaults to the current session"))

var surfacesOption = mcp.WithArray("surfaces",
	mcp.Description("Capsule variable paths such as digr.decisions or capsule.tail.goals; defaults to the role's variables"),
	mcp.WithStringItems())

var sessionCreateToolDef = mcp.NewTool("session_create",
	mcp.WithDescription("Create a session with default documents and make it current"),
)

var sessionCurrentToolDef = mcp.NewTool("session_current",
	mcp.WithDescription("Return the current session id"),
	mcp.WithReadOnlyHintAnnotation(true),
)

var sessionUseToolDef = mcp.NewTool("session_use",
	mcp.WithDescription("Make an existing session current"),
	mcp.WithString("session_id", mcp.Required(), mcp.Description("Session id")),
)

var sessionListToolDef = mcp.NewTool("session_list",
	mcp.WithDescription("List sessions, newest first"),
	mcp.WithReadOnlyHintAnnotation(true),
)

var turnBeginToolDef = mcp.NewTool("turn_begin",
	mcp.WithDescription("Begin a turn; fails with TURN_CONFLICT while another turn is active"),
	sessionIDOption,
	mcp.WithString("user_input", mcp.Required(), mcp.Description("The user's message")),
	mcp.WithArray("extension_chain", mcp.Description("Extensions taking part in the turn"), mcp.WithStringItems()),
)

var turnEmitToolDef = mcp.NewTool("turn_emit",
	mcp.WithDescription("Record a turn lifecycle event; turn_completed completes the active turn"),
	sessionIDOption,
	mcp.WithString("event", mcp.Required(), mcp.Description("Lifecycle event name")),
)

var turnFailToolDef = mcp.NewTool("turn_fail",
	mcp.WithDescription("Mark the active turn failed"),
	sessionIDOption,
	mcp.WithString("message", mcp.Required(), mcp.Description("Failure message")),
)

var turnContextToolDef = mcp.NewTool("turn_context",
	mcp.WithDescription("Return the session's latest turn in any state"),
	mcp.WithReadOnlyHintAnnotation(true),
	sessionIDOption,
)

var turnListToolDef = mcp.NewTool("turn_list",
	mcp.WithDescription("List journaled turns of a session, newest first"),
	mcp.WithReadOnlyHintAnnotation(true),
	sessionIDOption,
	mcp.WithNumber("limit", mcp.Description("Maximum turns to return (default 20, max 100)")),
)

var turnGetToolDef = mcp.NewTool("turn_get",
	mcp.WithDescription("Return one journaled turn with its recorded events"),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithString("turn_id", mcp.Required(), mcp.Description("Turn id")),
)

var llmProcessToolDef = mcp.NewTool("llm_process",
	mcp.WithDescription("Run one pipeline role against a compiled capsule and store its response"),
	sessionIDOption,
	mcp.WithString("llm_id", mcp.Required(), mcp.Description("Role id, e.g. llm1")),
	surfacesOption,
	mcp.WithString("user_input", mcp.Description("Appended to the capsule as the user section")),
	mcp.WithString("store_as", mcp.Description("Surface merging a JSON-object response, or surface.field taking the reply text; defaults to the role's output")),
)

var llmStreamToolDef = mcp.NewTool("llm_stream",
	mcp.WithDescription("Run the streaming role to completion and return the full reply"),
	sessionIDOption,
	mcp.WithString("llm_id", mcp.Required(), mcp.Description("Streaming role id")),
	surfacesOption,
	mcp.WithString("user_input", mcp.Description("Appended to the capsule as the user section")),
)

var surfaceGetToolDef = mcp.NewTool("surface_get",
	mcp.WithDescription("Read a session document"),
	mcp.WithReadOnlyHintAnnotation(true),
	sessionIDOption,
	mcp.WithString("surface", mcp.Required(),
		mcp.Description("Document kind"),
		mcp.Enum("capsule", "trace", "digr", "session-state", "intuition-outline")),
)

var surfaceUpdateToolDef = mcp.NewTool("surface_update",
	mcp.WithDescription("Merge content into a session document using the kind's strategy"),
	sessionIDOption,
	mcp.WithString("surface", mcp.Required(),
		mcp.Description("Document kind"),
		mcp.Enum("capsule", "trace", "digr", "session-state", "intuition-outline")),
	mcp.WithObject("content", mcp.Required(), mcp.Description("JSON object to merge")),
)

var capsuleCompileToolDef = mcp.NewTool("capsule_compile",
	mcp.WithDescription("Compile a capsule from variable paths without calling a model"),
	mcp.WithReadOnlyHintAnnotation(true),
	sessionIDOption,
	mcp.WithArray("paths", mcp.Required(), mcp.Description("Variable paths in section order"), mcp.WithStringItems()),
	mcp.WithString("user_input", mcp.Description("Appended as the user section")),
)
