// Package docs registers the OpenAPI document served at /swagger.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "securityDefinitions": {
        "AdminToken": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "paths": {
        "/api/v1/forms/{id}": {
            "get": {
                "tags": ["Forms"], "summary": "Get a form", "operationId": "getForm",
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "404": {"description": "Form not found"}}
            }
        },
        "/api/v1/forms/{id}/validate": {
            "post": {
                "tags": ["Forms"], "summary": "Validate answers", "operationId": "validateAnswers",
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "422": {"description": "Invalid answers"}}
            }
        },
        "/api/v1/forms/{id}/responses": {
            "post": {
                "tags": ["Forms"], "summary": "Submit a response", "operationId": "submitResponse",
                "consumes": ["application/json", "multipart/form-data"],
                "parameters": [
                    {"type": "string", "name": "id", "in": "path", "required": true},
                    {"type": "string", "name": "Idempotency-Key", "in": "header"}
                ],
                "responses": {
                    "200": {"description": "Idempotent replay"},
                    "201": {"description": "Created"},
                    "413": {"description": "Request too large"},
                    "422": {"description": "Invalid answers"}
                }
            }
        },
        "/api/webhooks/subscribe": {
            "post": {
                "tags": ["Zapier"], "summary": "Subscribe a REST hook", "operationId": "zapierSubscribe",
                "responses": {"201": {"description": "Created"}, "401": {"description": "Invalid API key"}, "409": {"description": "Already subscribed"}}
            }
        },
        "/api/webhooks/unsubscribe": {
            "delete": {
                "tags": ["Zapier"], "summary": "Remove a REST hook", "operationId": "zapierUnsubscribe",
                "responses": {"204": {"description": "No Content"}, "404": {"description": "Subscription not found"}}
            }
        },
        "/api/forms": {
            "get": {
                "tags": ["Zapier"], "summary": "List forms", "operationId": "zapierListForms",
                "parameters": [{"type": "string", "name": "api_key", "in": "query", "required": true}],
                "responses": {"200": {"description": "OK"}, "401": {"description": "Invalid API key"}}
            }
        },
        "/api/forms/{id}/responses/recent": {
            "get": {
                "tags": ["Zapier"], "summary": "Recent responses", "operationId": "zapierRecentResponses",
                "parameters": [
                    {"type": "string", "name": "id", "in": "path", "required": true},
                    {"type": "string", "name": "api_key", "in": "query", "required": true},
                    {"type": "integer", "name": "limit", "in": "query"}
                ],
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/admin/jobs/webhooks": {"get": {"tags": ["Admin"], "summary": "List webhook jobs", "security": [{"AdminToken": []}], "responses": {"200": {"description": "OK"}}}},
        "/admin/jobs/emails": {"get": {"tags": ["Admin"], "summary": "List email jobs", "security": [{"AdminToken": []}], "responses": {"200": {"description": "OK"}}}},
        "/admin/stats": {"get": {"tags": ["Admin"], "summary": "Queue statistics", "security": [{"AdminToken": []}], "responses": {"200": {"description": "OK"}}}},
        "/admin/issues": {"get": {"tags": ["Admin"], "summary": "Open submission issues", "security": [{"AdminToken": []}], "responses": {"200": {"description": "OK"}}}},
        "/admin/run": {"post": {"tags": ["Admin"], "summary": "Run a dispatcher pass", "security": [{"AdminToken": []}], "responses": {"200": {"description": "OK"}}}},
        "/admin/run/webhooks": {"post": {"tags": ["Admin"], "summary": "Process pending webhooks", "security": [{"AdminToken": []}], "responses": {"200": {"description": "OK"}}}},
        "/admin/run/emails": {"post": {"tags": ["Admin"], "summary": "Process pending emails", "security": [{"AdminToken": []}], "responses": {"200": {"description": "OK"}}}},
        "/admin/responses/{id}": {
            "get": {"tags": ["Admin"], "summary": "Get a response", "security": [{"AdminToken": []}], "responses": {"200": {"description": "OK"}, "404": {"description": "Not found"}}},
            "delete": {"tags": ["Admin"], "summary": "Delete a response", "security": [{"AdminToken": []}], "responses": {"204": {"description": "No Content"}, "404": {"description": "Not found"}}}
        },
        "/admin/responses/{id}/email": {"post": {"tags": ["Admin"], "summary": "Send a response's email now", "security": [{"AdminToken": []}], "responses": {"200": {"description": "OK"}, "409": {"description": "Nothing to send"}, "502": {"description": "Provider error"}}}},
        "/admin/clients/{id}/api-keys": {"post": {"tags": ["Admin"], "summary": "Issue a Zapier API key", "security": [{"AdminToken": []}], "responses": {"201": {"description": "Created"}, "404": {"description": "Client not found"}}}},
        "/admin/api-keys/{key_id}": {"delete": {"tags": ["Admin"], "summary": "Revoke a Zapier API key", "security": [{"AdminToken": []}], "responses": {"204": {"description": "No Content"}}}},
        "/health": {"get": {"tags": ["System"], "summary": "Liveness", "responses": {"200": {"description": "OK"}}}}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Forms Backend API",
	Description:      "Form submissions, Zapier REST hooks and notification delivery.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
