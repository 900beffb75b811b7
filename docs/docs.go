// Package docs registers the OpenAPI document served under /swagger.
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
    "paths": {
        "/health": {
            "get": {"tags": ["system"], "summary": "Health check", "produces": ["application/json"],
                "responses": {"200": {"description": "OK"}}}
        },
        "/register": {
            "post": {"tags": ["auth"], "summary": "Register an account", "consumes": ["application/json"], "produces": ["application/json"],
                "parameters": [{"name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.registerInput"}}],
                "responses": {"200": {"description": "message, password"}, "400": {"description": "Bad Request"}, "409": {"description": "Conflict"}, "500": {"description": "Internal Server Error"}}}
        },
        "/login": {
            "post": {"tags": ["auth"], "summary": "Log in", "consumes": ["application/json"], "produces": ["application/json"],
                "parameters": [{"name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.loginInput"}}],
                "responses": {"200": {"description": "message, token"}, "401": {"description": "Unauthorized"}, "403": {"description": "Forbidden"}, "404": {"description": "Not Found"}}}
        },
        "/confirm": {
            "get": {"tags": ["auth"], "summary": "Confirm an email address", "produces": ["text/html"],
                "parameters": [{"type": "string", "name": "token", "in": "query", "required": true}],
                "responses": {"200": {"description": "OK"}, "400": {"description": "Token expired or invalid."}}}
        },
        "/sensor-data": {
            "get": {"security": [{"BearerAuth": []}], "tags": ["history"], "summary": "Historical readings", "produces": ["application/json"],
                "parameters": [
                    {"type": "string", "example": "2024-05-01", "name": "from", "in": "query", "required": true},
                    {"type": "string", "example": "2024-05-31", "name": "to", "in": "query", "required": true}
                ],
                "responses": {"200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/models.Reading"}}}, "400": {"description": "Bad Request"}, "401": {"description": "Unauthorized"}, "500": {"description": "Internal Server Error"}}}
        },
        "/api/v1/live": {
            "get": {"security": [{"BearerAuth": []}], "tags": ["live"], "summary": "Live window", "produces": ["application/json"],
                "responses": {"200": {"description": "OK"}, "401": {"description": "Unauthorized"}}}
        },
        "/api/v1/commands": {
            "post": {"security": [{"BearerAuth": []}], "tags": ["live"], "summary": "Send a device command", "consumes": ["application/json"], "produces": ["application/json"],
                "parameters": [{"name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/models.Command"}}],
                "responses": {"202": {"description": "Accepted"}, "400": {"description": "Bad Request"}, "401": {"description": "Unauthorized"}, "503": {"description": "Service Unavailable"}}}
        },
        "/ws": {
            "get": {"tags": ["live"], "summary": "Live stream",
                "parameters": [{"type": "string", "name": "token", "in": "query"}],
                "responses": {"101": {"description": "switching protocols"}, "401": {"description": "Unauthorized"}}}
        }
    },
    "definitions": {
        "handlers.registerInput": {"type": "object", "required": ["email"], "properties": {"email": {"type": "string"}}},
        "handlers.loginInput": {"type": "object", "required": ["email", "password"], "properties": {"email": {"type": "string"}, "password": {"type": "string"}}},
        "models.Command": {"type": "object", "properties": {"name": {"type": "string"}, "value": {"type": "string"}}},
        "models.Reading": {"type": "object", "properties": {
            "id": {"type": "integer"},
            "temperature": {"type": "number"},
            "humidity": {"type": "number"},
            "distance": {"type": "number"},
            "manual_override": {"type": "boolean"},
            "pid_output": {"type": "number"},
            "encoder": {"type": "integer"},
            "timestamp": {"type": "string"}
        }}
    },
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Sensor Monitor API",
	Description:      "Accounts, live telemetry, device commands and reading history.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
