package mcp

import "github.com/scrypster/rapport/pkg/types"

type schema = map[string]interface{}

func stringProp(desc string) schema {
	return schema{"type": "string", "description": desc}
}

func messagesProp(desc string) schema {
	return schema{
		"type":        "array",
		"description": desc,
		"items": schema{
			"type":     "object",
			"required": []string{"role", "content"},
			"properties": schema{
				"role":    schema{"type": "string", "enum": []string{"user", "assistant", "system"}},
				"content": schema{"type": "string"},
			},
		},
	}
}

func personalityIDs() []string {
	return []string{
		string(types.PersonalityMentor),
		string(types.PersonalityFriend),
		string(types.PersonalityTherapist),
		string(types.PersonalityProfessional),
	}
}

// buildToolsList returns the tool definitions in the order clients show them.
func buildToolsList() []MCPTool {
	return []MCPTool{
		{
			Name:        "analyze_conversation",
			Description: "Extract preferences, emotional patterns and facts from a conversation and merge them into the user's memory. At most 30 messages per call.",
			InputSchema: schema{
				"type":     "object",
				"required": []string{"user_id", "messages"},
				"properties": schema{
					"user_id":  stringProp("User whose memory is updated"),
					"messages": messagesProp("Conversation messages, oldest first"),
				},
			},
		},
		{
			Name:        "generate_response",
			Description: "Answer a message in the voice of one personality, grounded in the user's memory when user_id is given.",
			InputSchema: schema{
				"type":     "object",
				"required": []string{"message"},
				"properties": schema{
					"message":              stringProp("The message to answer"),
					"personality":          schema{"type": "string", "enum": personalityIDs(), "description": "Personality id (default friend)"},
					"user_id":              stringProp("User whose memory grounds the reply"),
					"conversation_history": messagesProp("Recent turns; stored history is used when omitted"),
					"context":              stringProp("Additional context for the reply"),
				},
			},
		},
		{
			Name:        "compare_personalities",
			Description: "Answer the same message in several personalities plus a neutral base, with tone analysis and recommendations.",
			InputSchema: schema{
				"type":     "object",
				"required": []string{"message"},
				"properties": schema{
					"message":       stringProp("The message to answer"),
					"personalities": schema{"type": "array", "items": schema{"type": "string", "enum": personalityIDs()}, "description": "Personalities to compare (default all)"},
					"base":          schema{"type": "string", "enum": personalityIDs(), "description": "Personality for the base response (default neutral)"},
					"user_id":       stringProp("User whose memory grounds the replies"),
				},
			},
		},
		{
			Name:        "transform_response",
			Description: "Rewrite an existing reply in the voice of one personality, with a tone shift analysis.",
			InputSchema: schema{
				"type":     "object",
				"required": []string{"original_response", "personality"},
				"properties": schema{
					"original_response":    stringProp("The reply to rewrite"),
					"personality":          schema{"type": "string", "enum": personalityIDs(), "description": "Target personality id"},
					"message":              stringProp("The user message the reply answered"),
					"user_id":              stringProp("User whose memory grounds the rewrite"),
					"conversation_history": messagesProp("Recent turns"),
				},
			},
		},
		{
			Name:        "get_user_memory",
			Description: "Return the stored memory profile for a user.",
			InputSchema: schema{
				"type":       "object",
				"required":   []string{"user_id"},
				"properties": schema{"user_id": stringProp("User id")},
			},
		},
		{
			Name:        "get_user_stats",
			Description: "Return extraction, conversation and comparison counters for a user.",
			InputSchema: schema{
				"type":       "object",
				"required":   []string{"user_id"},
				"properties": schema{"user_id": stringProp("User id")},
			},
		},
		{
			Name:        "get_conversation_history",
			Description: "Return a user's most recent generated replies, newest first.",
			InputSchema: schema{
				"type":     "object",
				"required": []string{"user_id"},
				"properties": schema{
					"user_id": stringProp("User id"),
					"limit":   schema{"type": "integer", "description": "Max conversations (default 10, max 100)"},
				},
			},
		},
		{
			Name:        "list_personalities",
			Description: "List the available personalities with when to use each.",
			InputSchema: schema{"type": "object", "properties": schema{}},
		},
	}
}
