package generate

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"

	"unifiedagent/internal/distill"
	"unifiedagent/internal/events"
	"unifiedagent/internal/logging"
)

// conversationRecord is one line of a Claude-native session file.
type conversationRecord struct {
	UUID        string  `json:"uuid"`
	ParentUUID  *string `json:"parentUuid"`
	SessionID   string  `json:"sessionId"`
	Timestamp   string  `json:"timestamp"`
	Type        string  `json:"type"`
	CWD         string  `json:"cwd"`
	Version     string  `json:"version"`
	GitBranch   string  `json:"gitBranch,omitempty"`
	IsSidechain bool    `json:"isSidechain"`
	UserType    string  `json:"userType"`
	Message     any     `json:"message"`
}

type userMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type textBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type messageUsage struct {
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
	ServiceTier  string `json:"service_tier"`
}

type assistantMessage struct {
	Model        string       `json:"model"`
	ID           string       `json:"id"`
	Type         string       `json:"type"`
	Role         string       `json:"role"`
	Content      []textBlock  `json:"content"`
	StopReason   string       `json:"stop_reason"`
	StopSequence *string      `json:"stop_sequence"`
	Usage        messageUsage `json:"usage"`
}

const preamblePrompt = "Restore the distilled context from my previous sessions in this project before we continue."

// WriteConversation renders the distilled session as a replayable Claude
// session file at path and returns the path. Records alternate strict
// user/assistant with a uuid chain and monotonic timestamps.
func WriteConversation(d *distill.DistilledSession, path string, opts Options) (string, error) {
	opts = opts.withDefaults(d)
	rng := rand.New(rand.NewSource(opts.Seed))

	turns := conversationTurns(d, opts)
	records := make([]any, 0, len(turns))

	var parent *string
	at := opts.BaseTime.UTC()
	lastPromptTokens := 0
	for i, turn := range turns {
		if i > 0 {
			if turn.Role == events.RoleUser {
				at = at.Add(time.Duration(30+rng.Intn(91)) * time.Second)
			} else {
				at = at.Add(time.Duration(5+rng.Intn(26)) * time.Second)
			}
		}

		rec := conversationRecord{
			UUID:        uuid.New().String(),
			ParentUUID:  parent,
			SessionID:   opts.SessionID,
			Timestamp:   at.Format("2006-01-02T15:04:05.000Z"),
			Type:        turn.Role,
			CWD:         opts.CWD,
			Version:     opts.Version,
			GitBranch:   opts.GitBranch,
			IsSidechain: false,
			UserType:    "external",
		}
		if turn.Role == events.RoleUser {
			rec.Message = userMessage{Role: events.RoleUser, Content: turn.Content}
			lastPromptTokens = events.EstimateTokens(turn.Content)
		} else {
			rec.Message = assistantMessage{
				Model:      opts.Model,
				ID:         messageID(rec.UUID),
				Type:       "message",
				Role:       events.RoleAssistant,
				Content:    []textBlock{{Type: "text", Text: turn.Content}},
				StopReason: "end_turn",
				Usage: messageUsage{
					InputTokens:  lastPromptTokens,
					OutputTokens: events.EstimateTokens(turn.Content),
					ServiceTier:  "standard",
				},
			}
		}

		id := rec.UUID
		parent = &id
		records = append(records, rec)
	}

	if err := writeJSONLines(path, records); err != nil {
		return "", fmt.Errorf("write conversation artifact: %w", err)
	}

	logging.Generate("Conversation artifact: %s (%d records, %d chunks)", path, len(records), len(d.Chunks))
	logging.Audit().Generated(string(events.PlatformClaude), path, len(records))
	return path, nil
}

// conversationTurns assembles the preamble pair plus one Q&A pair per topic,
// or per chunk when synthesis is bypassed.
func conversationTurns(d *distill.DistilledSession, opts Options) []distill.Turn {
	turns := []distill.Turn{
		{Role: events.RoleUser, Content: preamblePrompt},
		{Role: events.RoleAssistant, Content: overviewText(d)},
	}
	if !opts.BypassSynthesis {
		return append(turns, distill.Synthesize(d.Chunks, 0).Turns()...)
	}
	for i := range d.Chunks {
		ch := &d.Chunks[i]
		turns = append(turns,
			distill.Turn{Role: events.RoleUser, Content: fmt.Sprintf("Recap events %d-%d from the earlier work.", ch.StartIndex, ch.EndIndex)},
			distill.Turn{Role: events.RoleAssistant, Content: ch.Content()},
		)
	}
	return turns
}

// overviewText summarizes the build for the opening assistant turn.
func overviewText(d *distill.DistilledSession) string {
	platforms := strings.Join(d.SourcePlatforms, ", ")
	if platforms == "" {
		platforms = string(events.PlatformUnified)
	}
	return fmt.Sprintf(
		"Distilled context: %d chunks (~%d tokens) selected from %d source session(s) across %s, distilled %s. The exchanges that follow reconstruct the important context from those sessions.",
		len(d.Chunks), d.TotalTokens, len(d.SourceSessionIDs), platforms,
		d.DistilledAt.Format("2006-01-02"))
}

// messageID derives an Anthropic-style message id from the record uuid.
func messageID(recordUUID string) string {
	compact := strings.ReplaceAll(recordUUID, "-", "")
	if len(compact) > 24 {
		compact = compact[:24]
	}
	return "msg_" + compact
}
