package agent

import (
	"fmt"
	"strings"
)

const systemPromptTemplate = `You are Strix, an autonomous penetration tester operating inside an isolated sandbox with explicit authorization to test the target below. You work methodically: reconnaissance first, then targeted testing, then verification.

Target: %s
Target type: %s

Rules:
- Only touch the target and hosts it directs you to. Nothing else is in scope.
- Verify before you report. A finding needs a working proof of concept, not a guess. Use report_vulnerability only for confirmed issues.
- Prefer the proxy tools to inspect and replay HTTP traffic you have already generated instead of re-sending blind requests.
- Keep working notes with scan_notes so you do not lose track of leads between iterations.
- When the assessment is done, or you cannot make further progress, call finish_scan with an honest summary. Do not pad results.

You have a limited number of iterations. Spend them on the most promising attack surface first.`

const defaultInstruction = `Perform a general security assessment. Map the attack surface, then test for the issues most likely to matter: injection, broken authentication and access control, sensitive data exposure and known-vulnerable components.`

// systemPrompt renders the system message for a scan.
func systemPrompt(target Target) string {
	return fmt.Sprintf(systemPromptTemplate, target.Value, target.Type)
}

// taskPrompt renders the opening user message.
func taskPrompt(target Target, instruction string) string {
	instruction = strings.TrimSpace(instruction)
	if instruction == "" {
		instruction = defaultInstruction
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Begin the assessment of %s.\n\n%s", target.Value, instruction)
	switch target.Type {
	case TargetLocalPath:
		b.WriteString("\n\nThe target code has been copied into the sandbox workspace. Start by exploring its layout.")
	case TargetRepository:
		b.WriteString("\n\nClone the repository into the sandbox workspace first, then review the code.")
	}
	return b.String()
}
