package httpapi

func openapiSpec() map[string]any {
	resourceParam := map[string]any{
		"name": "resource", "in": "path", "required": true,
		"schema": map[string]any{"type": "string", "enum": []string{
			"surveys", "survey_responses", "feedback", "announcements", "documents", "projects", "roles",
		}},
	}
	return map[string]any{
		"openapi": "3.0.3",
		"info": map[string]any{
			"title":   "surveysync",
			"version": "1.0.0",
		},
		"paths": map[string]any{
			"/v1/{resource}": map[string]any{
				"parameters": []any{resourceParam},
				"get":        map[string]any{"summary": "List resources (cache fallback when offline)"},
				"post":       map[string]any{"summary": "Create resource; 202 when queued"},
			},
			"/v1/{resource}/{id}": map[string]any{
				"parameters": []any{resourceParam},
				"get":        map[string]any{"summary": "Get resource (cache fallback when offline)"},
				"put":        map[string]any{"summary": "Update resource; 202 when queued"},
				"delete":     map[string]any{"summary": "Delete resource; 202 when queued"},
			},
			"/v1/{resource}/{id}/actions/{action}": map[string]any{
				"parameters": []any{resourceParam},
				"post":       map[string]any{"summary": "Run a resource action; 202 when queued"},
			},
			"/v1/surveys/{id}/responses": map[string]any{
				"post": map[string]any{"summary": "Submit survey response; 202 when queued"},
			},
			"/v1/sync/status": map[string]any{
				"get": map[string]any{"summary": "Sync engine state and counters"},
			},
			"/v1/sync/pending": map[string]any{
				"get": map[string]any{"summary": "List queued mutations in send order"},
			},
			"/v1/sync/failed": map[string]any{
				"get": map[string]any{"summary": "List mutations that failed permanently"},
			},
			"/v1/sync/drain": map[string]any{
				"post": map[string]any{"summary": "Run one drain pass now"},
			},
			"/v1/sync/requeue-failed": map[string]any{
				"post": map[string]any{"summary": "Move failed mutations back to the queue"},
			},
			"/v1/sync/journal": map[string]any{
				"get": map[string]any{"summary": "List sync events, newest first"},
			},
			"/v1/sync/mutations/{id}": map[string]any{
				"get": map[string]any{"summary": "Outcome of a queued write: queued, failed or ok"},
			},
			"/v1/connectivity": map[string]any{
				"get": map[string]any{"summary": "Current connectivity state"},
				"put": map[string]any{"summary": "Report host reachability"},
			},
			"/v1/connectivity/check": map[string]any{
				"post": map[string]any{"summary": "Probe the remote service now"},
			},
			"/v1/schemas/{resource}": map[string]any{
				"parameters": []any{resourceParam},
				"put":        map[string]any{"summary": "Upsert payload schema"},
				"get":        map[string]any{"summary": "Get payload schema"},
				"delete":     map[string]any{"summary": "Delete payload schema"},
			},
		},
	}
}
