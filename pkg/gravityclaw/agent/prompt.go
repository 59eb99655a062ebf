package agent

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jholhewres/gravityclaw/pkg/gravityclaw/llm"
	"github.com/jholhewres/gravityclaw/pkg/gravityclaw/memory"
)

// DefaultSoul is the identity used when soul.md does not exist yet.
const DefaultSoul = "You are Gravity Claw — a lean, secure personal AI agent."

const technicalPrompt = `--- HARDCODED TECHNICAL INSTRUCTIONS ---
You have access to tools that extend your capabilities. When a tool is useful, use it; otherwise answer directly.

CRITICAL BEHAVIORAL INSTRUCTION: Your answers MUST be exceedingly short and concise. No yapping, no fluff, no disclaimers. Give only the exact answer requested. Explain things in very few words.

CRITICAL VOICE INSTRUCTION: You have the ability to send voice messages. However, you should ONLY send a voice message if the user EXPLICITLY asks you to speak or reply with audio. To send a voice message, wrap the text you want to be spoken inside exactly <voice>...</voice> tags. Do NOT wrap code blocks or complex formatting inside voice tags.

- ` + "`push_widget`" + `: display live UI elements on the dashboard
- ` + "`read_notepad`, `write_notepad`" + `: read or update the user's dashboard notepad
- ` + "`analyze_vision`" + `: analyze an image or screenshot to verify UI or find errors. **REQUIREMENT:** Use this when checking if a website looks correct or matches a design.

PREFERENCE: Always prefer native file tools (` + "`read_file`" + `, etc.) over terminal commands when managing files.
PROACTIVE: You are encouraged to use ` + "`write_notepad`" + ` to leave a "Closing Report" or "Next Steps" for the user after finishing a task.`

const onboardingPrompt = `

--- 🚨 MANDATORY ONBOARDING & SOUL CREATION 🚨 ---
Your CORE USER FACTS are currently empty. You MUST conduct an interactive onboarding interview to establish the user's profile AND your own personality.

🛠️ Phase 1: The User
Ask the user about their person/name, work environment, and primary goals. Keep it conversational. As soon as they answer a point, save it via the ` + "`core_memory_save`" + ` tool. Do this one by one.

🎭 Phase 2: Your Soul
Ask the user how they want YOU to behave (your tone, persona, communication style). Discuss it with them interactively.

💾 Phase 3: Finalizing
Once a personality is agreed upon, generate a comprehensive markdown profile summarizing these behavioral rules and use the ` + "`update_soul`" + ` tool to save it to your soul.md.

Do NOT fulfill regular requests until these phases are complete. Start by warmly greeting the user and initiating Phase 1.`

// DirectiveMarker identifies turns submitted by the notepad poller.
const DirectiveMarker = "Das Dashboard hat folgende neue Aufgabe"

const directiveBoardPrompt = "\n--- KANBAN BOARD ---\nDer Nutzer hat dir gerade eine direkte Anweisung über das Notepad gegeben. Erfülle diese priorisiert. Wenn du den Status eines Kanban-Tasks ändern musst, nutze das tool update_task_status."

const autonomousBoardPrompt = "\n--- KANBAN BOARD ---\nWenn der Nutzer direkt mit dir chattet, antworte ihm normal. Du kannst mit create_board_task eigene Tasks auf dem Board anlegen (z.B. wenn der User bittet, etwas zur Liste hinzuzufügen oder 'erstelle eine webseite für kunden xy' sagt). Bist du im Leerlauf oder fragt der Nutzer nach Aufgaben, nutze get_board_tasks(), um das Kanban-Board zu prüfen. WÄHLE DANN AUTONOM den wichtigsten Task aus (Fälligkeit > 'Hoch' > 'Mittel') und bearbeite ihn. Verschiebe ihn mit update_task_status auf 'In Bearbeitung' und später auf 'Review'."

// PromptBuilder assembles the system prompt from the soul file, the fixed
// technical instructions, skill files, the tool list and the per-turn context.
// Files are re-read on every build so edits (including update_soul) apply to
// the next turn.
type PromptBuilder struct {
	soulPath  string
	skillsDir string
	logger    *slog.Logger
}

// NewPromptBuilder creates a builder. Empty paths disable the layer.
func NewPromptBuilder(soulPath, skillsDir string, logger *slog.Logger) *PromptBuilder {
	if logger == nil {
		logger = slog.Default()
	}
	return &PromptBuilder{
		soulPath:  soulPath,
		skillsDir: skillsDir,
		logger:    logger.With("component", "prompt"),
	}
}

// Soul returns the content of soul.md, or DefaultSoul.
func (p *PromptBuilder) Soul() string {
	if p.soulPath == "" {
		return DefaultSoul
	}
	data, err := os.ReadFile(p.soulPath)
	if err != nil {
		if !os.IsNotExist(err) {
			p.logger.Warn("failed to read soul", "path", p.soulPath, "error", err)
		}
		return DefaultSoul
	}
	return string(data)
}

// Skills renders every *.md file of the skills directory, sorted by name.
// A missing or empty directory yields "".
func (p *PromptBuilder) Skills() string {
	if p.skillsDir == "" {
		return ""
	}
	entries, err := os.ReadDir(p.skillsDir)
	if err != nil {
		if !os.IsNotExist(err) {
			p.logger.Warn("failed to list skills", "dir", p.skillsDir, "error", err)
		}
		return ""
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".md") {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return ""
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("\n--- EXTENDED SKILLS & CAPABILITIES ---\n")
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(p.skillsDir, name))
		if err != nil {
			p.logger.Warn("failed to read skill", "file", name, "error", err)
			continue
		}
		fmt.Fprintf(&b, "\n### Skill: %s\n%s\n", strings.TrimSuffix(name, ".md"), data)
	}
	return b.String()
}

// Build returns the full system prompt. Empty layers are skipped.
func (p *PromptBuilder) Build(defs []llm.ToolDefinition, dynamic string) string {
	layers := []string{p.Soul(), technicalPrompt, p.Skills(), toolAwareness(defs), dynamic}
	parts := layers[:0]
	for _, l := range layers {
		if l != "" {
			parts = append(parts, l)
		}
	}
	return strings.Join(parts, "\n\n")
}

func toolAwareness(defs []llm.ToolDefinition) string {
	if len(defs) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\n--- AVAILABLE TOOLS / DEINE FÄHIGKEITEN ---\n")
	b.WriteString("Du hast Zugriff auf folgende Werkzeuge, um Aufgaben für den User zu erledigen:\n")
	for i, d := range defs {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "- **%s**: %s", d.Function.Name, d.Function.Description)
	}
	b.WriteString("\nNutze diese Tools proaktiv. Wenn der User etwas bittet, was damit machbar ist, führe das Tool direkt aus.")
	return b.String()
}

// dynamicContext renders the per-turn block: facts, the onboarding directive
// when nothing is known about the user, the board directive and recalled
// episodes.
func dynamicContext(facts, message, episodes string) string {
	var b strings.Builder
	b.WriteString("--- CORE USER FACTS ---\n")
	b.WriteString(facts)
	if facts == memory.NoFacts {
		b.WriteString(onboardingPrompt)
	}
	b.WriteString("\n")
	if strings.Contains(message, DirectiveMarker) {
		b.WriteString(directiveBoardPrompt)
	} else {
		b.WriteString(autonomousBoardPrompt)
	}
	b.WriteString("\n")
	if episodes != "" {
		b.WriteString("\n--- RELEVANT PAST CONTEXT ---\n")
		b.WriteString(episodes)
	}
	return b.String()
}
