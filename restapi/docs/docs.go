// Package docs holds the OpenAPI description of the docstore REST API, in the layout
// produced by swag (regenerate with: swag init -g main/main.go -d .).
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
        "/batch": {
            "post": {
                "security": [{"Bearer": []}],
                "description": "PostBatch applies put, delete and patch commands in order and responds with the per command results.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Documents"],
                "summary": "PostBatch executes a batch of commands atomically.",
                "parameters": [
                    {
                        "description": "Commands to execute",
                        "name": "batch",
                        "in": "body",
                        "required": true,
                        "schema": {"$ref": "#/definitions/restapi.BatchRequest"}
                    }
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/restapi.BatchResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/restapi.ErrorResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/restapi.ErrorResponse"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/restapi.ErrorResponse"}}
                }
            }
        },
        "/docs": {
            "get": {
                "security": [{"Bearer": []}],
                "description": "GetDocuments responds with the documents aligned with the id query parameters, null for missing ones.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Documents"],
                "summary": "GetDocuments returns the documents with the given ids.",
                "parameters": [
                    {
                        "type": "array",
                        "items": {"type": "string"},
                        "collectionFormat": "multi",
                        "description": "Document ids",
                        "name": "id",
                        "in": "query",
                        "required": true
                    }
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/restapi.DocumentsResponse"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/restapi.ErrorResponse"}}
                }
            }
        },
        "/document/{id}": {
            "get": {
                "security": [{"Bearer": []}],
                "description": "GetDocument responds with the matching document as JSON.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Documents"],
                "summary": "GetDocument returns the document with the given id.",
                "parameters": [
                    {
                        "type": "string",
                        "description": "Document id, e.g. items/1",
                        "name": "id",
                        "in": "path",
                        "required": true
                    }
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object", "additionalProperties": true}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/restapi.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "docstore.Command": {
            "type": "object",
            "properties": {
                "kind": {"type": "integer"},
                "id": {"type": "string"},
                "document": {"type": "object", "additionalProperties": true},
                "expected_version": {"type": "integer"},
                "patch": {"type": "array", "items": {"$ref": "#/definitions/docstore.PatchOperation"}}
            }
        },
        "docstore.PatchOperation": {
            "type": "object",
            "properties": {
                "op": {"type": "string"},
                "path": {"type": "string"},
                "value": {}
            }
        },
        "docstore.Result": {
            "type": "object",
            "properties": {
                "kind": {"type": "integer"},
                "id": {"type": "string"},
                "version": {"type": "integer"},
                "metadata": {"type": "object", "additionalProperties": true}
            }
        },
        "restapi.BatchRequest": {
            "type": "object",
            "properties": {
                "commands": {"type": "array", "items": {"$ref": "#/definitions/docstore.Command"}}
            }
        },
        "restapi.BatchResponse": {
            "type": "object",
            "properties": {
                "results": {"type": "array", "items": {"$ref": "#/definitions/docstore.Result"}}
            }
        },
        "restapi.DocumentsResponse": {
            "type": "object",
            "properties": {
                "documents": {"type": "array", "items": {"type": "object", "additionalProperties": true}}
            }
        },
        "restapi.ErrorResponse": {
            "type": "object",
            "properties": {
                "message": {"type": "string"},
                "code": {"type": "string"}
            }
        }
    },
    "securityDefinitions": {
        "Bearer": {
            "description": "Type \"Bearer\" followed by a space and JWT token.",
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "docstore REST API",
	Description:      "Batch execution and document reads over a docstore backend.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
