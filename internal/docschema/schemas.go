package docschema

import "github.com/xiaot623/gogo/workspace/internal/domain"

const systemProperties = `
		"schema_version": {"type": "integer", "minimum": 0},
		"current_version": {"type": "integer", "minimum": 0},
		"created_at": {"type": "string"},
		"confirmed": {"type": "boolean"},
		"iteration_history": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"version": {"type": "integer"},
					"timestamp": {"type": "string"},
					"source": {"enum": ["user", "agent"]}
				}
			}
		}`

const intentSchema = `{
	"type": "object",
	"properties": {
		"title": {"type": "string"},
		"summary": {"type": "string"},
		"description": {"type": "string"},
		"mission": {
			"type": "object",
			"properties": {
				"objective": {"type": "string"},
				"why": {"type": "string"},
				"success_looks_like": {"type": "string"}
			}
		},
		"team_guidance": {
			"type": "object",
			"properties": {
				"expertise_needed": {"type": ["array", "null"], "items": {"type": "string"}},
				"capabilities_needed": {"type": ["array", "null"], "items": {"type": "string"}},
				"complexity_level": {"enum": ["", "Simple", "Moderate", "Complex"]},
				"complexity_notes": {"type": "string"},
				"collaboration_pattern": {"enum": ["", "Solo", "Coordinated", "Orchestrated"]},
				"human_ai_handshake_points": {"type": ["array", "null"], "items": {"type": "string"}},
				"workflow_pattern": {"enum": ["", "OneTime", "Recurring", "Exploratory"]}
			}
		},
		"conversation_transcript": {"type": ["string", "null"]},` + systemProperties + `
	}
}`

const dataScopeSchema = `{
	"type": "object",
	"properties": {
		"title": {"type": "string"},
		"notes": {"type": "string"},
		"filters": {"type": ["array", "null"], "items": {"type": "string"}},
		"data_sources": {
			"type": ["array", "null"],
			"items": {
				"type": "object",
				"properties": {
					"name": {"type": "string"},
					"kind": {"type": "string"},
					"description": {"type": "string"}
				},
				"required": ["name"]
			}
		},
		"entities": {"type": ["array", "null"], "items": {"type": "string"}},
		"rationale": {"type": "string"},
		"scope_summary": {"type": "string"},` + systemProperties + `
	}
}`

const executionSchema = `{
	"type": "object",
	"properties": {
		"status": {"type": "string"},
		"summary": {"type": "string"},
		"results": {
			"type": ["array", "null"],
			"items": {
				"type": "object",
				"properties": {
					"name": {"type": "string"},
					"status": {"type": "string"},
					"output": {"type": "string"}
				}
			}
		},
		"findings": {"type": ["array", "null"], "items": {"type": "string"}},
		"user_notes": {"type": "string"},` + systemProperties + `
	}
}`

const teamSchema = `{
	"type": "object",
	"properties": {
		"team_name": {"type": "string"},
		"user_notes": {"type": "string"},
		"members": {
			"type": ["array", "null"],
			"items": {
				"type": "object",
				"properties": {
					"name": {"type": "string"},
					"role": {"type": "string"},
					"kind": {"type": "string"},
					"capabilities": {"type": ["array", "null"], "items": {"type": "string"}}
				},
				"required": ["name", "role"]
			}
		},
		"workflow": {"type": "string"},
		"coordination_notes": {"type": "string"},` + systemProperties + `
	}
}`

var sources = map[domain.DocumentKind]string{
	domain.DocumentIntent:    intentSchema,
	domain.DocumentDataScope: dataScopeSchema,
	domain.DocumentExecution: executionSchema,
	domain.DocumentTeam:      teamSchema,
}
