package commands

import (
	"fmt"
	"strings"

	"github.com/moolen/lookout/internal/agent/chatbot"
)

func init() {
	DefaultRegistry.Register(&ModelHandler{})
	DefaultRegistry.Register(&ModelsHandler{})
}

// ModelHandler implements the /model command.
type ModelHandler struct{}

func (h *ModelHandler) Entry() Entry {
	return Entry{
		Name:        "model",
		Description: "Show or switch the model",
		Usage:       "/model [name]",
	}
}

func (h *ModelHandler) Execute(ctx *Context, args []string) Result {
	if len(args) == 0 {
		return info("Current model: " + ctx.Model)
	}
	if ctx.SetModel == nil {
		return failure("Switching models is not available here")
	}
	model, res, ok := resolveModel(args[0])
	if !ok {
		return res
	}
	if err := ctx.SetModel(model); err != nil {
		return failure(err.Error())
	}
	ctx.Model = model
	return Result{Success: true, Message: "Switched to " + model}
}

// resolveModel expands a unique prefix of a catalog model, e.g.
// "gemini-2.5-pro" from "gemini-2.5-p". Scripted models and names that match
// nothing are passed through for SetModel to accept or reject.
func resolveModel(arg string) (string, Result, bool) {
	if strings.HasPrefix(arg, "mock:") {
		return arg, Result{}, true
	}
	switch matches := Complete(chatbot.Models(), arg); len(matches) {
	case 0:
		return arg, Result{}, true
	case 1:
		return matches[0], Result{}, true
	default:
		return "", failure(fmt.Sprintf("Ambiguous model %q, one of:\n  %s", arg, strings.Join(matches, "\n  "))), false
	}
}

// ModelsHandler implements the /models command.
type ModelsHandler struct{}

func (h *ModelsHandler) Entry() Entry {
	return Entry{
		Name:        "models",
		Description: "List available models",
		Usage:       "/models",
	}
}

func (h *ModelsHandler) Execute(ctx *Context, args []string) Result {
	var msg strings.Builder
	msg.WriteString("Available Models:\n\n")
	for _, m := range chatbot.Models() {
		marker := " "
		if m == ctx.Model {
			marker = "*"
		}
		msg.WriteString(fmt.Sprintf("  %s %s\n", marker, m))
	}
	msg.WriteString("\nScripted runs: /model mock:<script.yaml>\n")
	return info(msg.String())
}
