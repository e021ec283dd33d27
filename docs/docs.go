package docs

import "github.com/swaggo/swag"

const docTemplate = `{
  "swagger": "2.0",
  "info": {
    "title": "Callscope Backend",
    "description": "Live call tracking, handoff chain merging and call analytics",
    "version": "1.0"
  },
  "basePath": "/",
  "paths": {
    "/api/status": {"get": {"tags": ["status"], "summary": "Vendor and poller status", "produces": ["application/json"], "responses": {"200": {"description": "OK"}}}},
    "/api/calls": {"get": {"tags": ["calls"], "summary": "List calls", "produces": ["application/json"], "responses": {"200": {"description": "OK"}}}},
    "/api/calls/{id}/analyze": {"post": {"tags": ["calls"], "summary": "Re-run analysis for a stored call", "consumes": ["application/json"], "produces": ["application/json"], "responses": {"200": {"description": "Synthetic analytics"}, "202": {"description": "Queued"}}}},
    "/api/conversations/{id}/journey": {"get": {"tags": ["conversations"], "summary": "Handoff journey of a conversation", "produces": ["application/json"], "responses": {"200": {"description": "OK"}, "404": {"description": "Not found"}}}},
    "/api/webhooks/convai": {"post": {"tags": ["webhooks"], "summary": "Push a conversational vendor event", "consumes": ["application/json"], "produces": ["application/json"], "responses": {"202": {"description": "Accepted"}, "400": {"description": "Malformed"}}}}
  }
}`

func init() {
	swag.Register(swag.Name, &s{})
}

type s struct{}

func (s *s) ReadDoc() string {
	return docTemplate
}
