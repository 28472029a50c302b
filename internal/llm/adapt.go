package llm

// adaptOpenAI returns messages unchanged: a straightforward transcript with
// system/user/assistant roles (spec §4.3 openai-shape).
func adaptOpenAI(messages []Message) []Message {
	return messages
}

// adaptGemini coalesces leading system messages into one system_instruction
// message client-side (the caller still sends it as role "system" — the
// provider's request builder is what actually lifts it into
// `system_instruction`), turns mid-conversation system messages into
// user-role entries prefixed "[SYSTEM]", merges consecutive same-role
// entries, and maps "assistant" to "model" (spec §4.3 gemini-shape).
func adaptGemini(messages []Message) []Message {
	if len(messages) == 0 {
		return messages
	}

	out := make([]Message, 0, len(messages))
	for i, m := range messages {
		role := m.Role
		content := m.Content

		if role == "system" {
			if allPriorAreSystem(messages, i) {
				out = append(out, Message{Role: "system", Content: content})
				continue
			}
			role = "user"
			content = "[SYSTEM] " + content
		} else if role == "assistant" {
			role = "model"
		}

		if len(out) > 0 && out[len(out)-1].Role == role {
			out[len(out)-1].Content += "\n" + content
			continue
		}
		out = append(out, Message{Role: role, Content: content})
	}
	return out
}

func allPriorAreSystem(messages []Message, idx int) bool {
	for i := 0; i < idx; i++ {
		if messages[i].Role != "system" {
			return false
		}
	}
	return true
}

// Adapt dispatches to the format-specific adaptation.
func Adapt(format APIFormat, messages []Message) []Message {
	switch format {
	case FormatGemini:
		return adaptGemini(messages)
	default:
		return adaptOpenAI(messages)
	}
}
