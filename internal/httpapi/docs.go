package httpapi

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/status": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["listener"],
                "summary": "Listener state and saved settings",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/sessions": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["listener"],
                "summary": "Open MLLP connections",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/listener/start": {
            "post": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["listener"],
                "summary": "Bind the listener to the saved settings",
                "responses": {
                    "200": {"description": "OK"},
                    "409": {"description": "Already running"},
                    "500": {"description": "Bind failed"}
                }
            }
        },
        "/listener/stop": {
            "post": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["listener"],
                "summary": "Stop accepting connections",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/settings": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["settings"],
                "summary": "Saved listen address",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/store.Settings"}}}
            },
            "put": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["settings"],
                "summary": "Save the listen address, applied on next start",
                "parameters": [
                    {"name": "settings", "in": "body", "required": true, "schema": {"$ref": "#/definitions/store.Settings"}}
                ],
                "responses": {
                    "200": {"description": "OK"},
                    "400": {"description": "Invalid settings"}
                }
            }
        },
        "/messages": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["messages"],
                "summary": "Archived messages, newest first",
                "parameters": [
                    {"name": "type", "in": "query", "type": "string", "description": "Message type prefix, e.g. ADT"},
                    {"name": "q", "in": "query", "type": "string", "description": "Case-insensitive search of the inbound text"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "page_size", "in": "query", "type": "integer"}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/model.MessageListResponse"}}}
            }
        }
    },
    "definitions": {
        "store.Settings": {
            "type": "object",
            "properties": {
                "ip": {"type": "string", "example": "127.0.0.1"},
                "port": {"type": "integer", "example": 5000}
            }
        },
        "model.MessageRecord": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "session_id": {"type": "string"},
                "remote": {"type": "string"},
                "message_type": {"type": "string"},
                "control_id": {"type": "string"},
                "ack_code": {"type": "string"},
                "error_code": {"type": "string"},
                "error_text": {"type": "string"},
                "inbound": {"type": "string"},
                "ack": {"type": "string"},
                "received_at": {"type": "string", "format": "date-time"}
            }
        },
        "model.MessageListResponse": {
            "type": "object",
            "properties": {
                "data": {"type": "array", "items": {"$ref": "#/definitions/model.MessageRecord"}},
                "total": {"type": "integer"},
                "page": {"type": "integer"},
                "page_size": {"type": "integer"}
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    }
}`

// SwaggerInfo describes the management API served at /swagger
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "HL7 Gateway API",
	Description:      "Listener control, settings and the message archive of the HL7 MLLP gateway.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
