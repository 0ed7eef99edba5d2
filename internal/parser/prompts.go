package parser

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/deskpilot/api/schemas"
)

// faraActions is the closed action enum advertised in the tool schema.
var faraActions = []string{
	"key", "type", "mouse_move", "left_click", "scroll", "visit_url",
	"web_search", "history_back", "pause_and_memorize_fact", "wait", "terminate",
}

const faraToolSchema = `{"type": "function", "name": "computer_use", "description": "Use a mouse and keyboard to interact with a computer, and take screenshots.\n* This is an interface to a desktop GUI. You must click on desktop icons to start applications.\n* The screen's resolution is %[1]dx%[2]d.\n* Whenever you intend to move the cursor to click on an element, consult a screenshot to determine the coordinates of the element before moving the cursor.\n* Make sure to click any buttons, links, icons, etc with the cursor tip in the center of the element.", "parameters": {"type": "object", "required": ["action"], "properties": {"action": {"type": "string", "enum": [%[3]s], "description": "The action to perform. key: press keys in order then release in reverse order. type: type a string of text, optionally clicking a coordinate first. mouse_move: move the cursor to a coordinate. left_click: click the left mouse button at a coordinate. scroll: scroll the mouse wheel (positive pixels scroll up). visit_url: navigate to a URL. web_search: search the web for a query. history_back: go back to the previous page. pause_and_memorize_fact: remember a fact for later steps. wait: wait for the specified seconds. terminate: end the task and report its completion status."}, "keys": {"type": "array", "description": "Required only by action=key."}, "text": {"type": "string", "description": "Required only by action=type."}, "press_enter": {"type": "boolean", "description": "Whether to press enter after typing. Defaults to true."}, "delete_existing_text": {"type": "boolean", "description": "Whether to clear the field before typing. Defaults to false."}, "coordinate": {"type": "array", "description": "(x, y) pixel position. Required by left_click and mouse_move, optional for type and scroll."}, "pixels": {"type": "number", "description": "Scroll amount. Positive scrolls up, negative scrolls down. Required only by action=scroll."}, "url": {"type": "string", "description": "Required only by action=visit_url."}, "query": {"type": "string", "description": "Required only by action=web_search."}, "fact": {"type": "string", "description": "Required only by action=pause_and_memorize_fact."}, "time": {"type": "number", "description": "Seconds to wait. Required only by action=wait."}, "status": {"type": "string", "enum": ["success", "failure"], "description": "Required only by action=terminate."}}}}`

func (p *faraParser) SystemPrompt(model schemas.Resolution) string {
	quoted := make([]string, len(faraActions))
	for i, a := range faraActions {
		quoted[i] = `"` + a + `"`
	}
	tool := fmt.Sprintf(faraToolSchema, model.Width, model.Height, strings.Join(quoted, ", "))

	var b strings.Builder
	b.WriteString("You are a helpful assistant that operates a computer on behalf of the user.\n\n")
	b.WriteString("# Tools\n\n")
	b.WriteString("You may call one function to assist with the user query.\n\n")
	b.WriteString("You are provided with function signatures within <tools></tools> XML tags:\n")
	b.WriteString("<tools>\n")
	b.WriteString(tool)
	b.WriteString("\n</tools>\n\n")
	b.WriteString("For each function call, first explain your reasoning briefly, then return a json object with function name and arguments within <tool_call></tool_call> XML tags:\n")
	b.WriteString("<tool_call>\n{\"name\": <function-name>, \"arguments\": <args-json-object>}\n</tool_call>\n\n")
	b.WriteString("Rules:\n")
	b.WriteString("- Emit exactly one tool call per reply.\n")
	b.WriteString("- If an action had NO EFFECT, do something different instead of repeating it.\n")
	b.WriteString("- Prefer visit_url or web_search over clicking through menus when a URL is known.\n")
	b.WriteString("- When the task is complete, call terminate with status success.\n")
	return b.String()
}

const uitarsSystemPrompt = `You are a GUI agent. You are given a task and your action history, with screenshots. You need to perform the next action to complete the task.

## Output Format
` + "```" + `
Thought: ...
Action: ...
` + "```" + `

## Action Space
click(start_box='(x1,y1)')
left_double(start_box='(x1,y1)')
right_single(start_box='(x1,y1)')
hotkey(key='ctrl c')
type(content='xxx') # Use escape characters \', \", and \n in content. End content with \n to submit.
scroll(start_box='(x1,y1)', direction='down or up or right or left')
wait() # Sleep for 5s and take a screenshot to check for any changes.
finished(content='xxx') # Use escape characters \', \", and \n in content.

## Note
- Write a small plan and finally summarize your next action (with its target element) in one sentence in ` + "`Thought`" + ` part.
- Coordinates are pixels in a %dx%d screenshot.

## User Instruction
`

func (p *uitarsParser) SystemPrompt(model schemas.Resolution) string {
	return fmt.Sprintf(uitarsSystemPrompt, model.Width, model.Height)
}
